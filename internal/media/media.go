// Package media holds the image and video type tables used when naming and
// accepting files.
package media

import (
	"strings"
)

// Image content types for captured frames.
const (
	ContentTypePNG  = "image/png"
	ContentTypeJPEG = "image/jpeg"
	ContentTypeGIF  = "image/gif"
	ContentTypeSVG  = "image/svg+xml"
	ContentTypeWebP = "image/webp"
	ContentTypeBMP  = "image/bmp"
)

type imageType struct {
	contentType string
	exts        []string // first entry is preferred
}

var imageTypes = []imageType{
	{ContentTypePNG, []string{"png"}},
	{ContentTypeJPEG, []string{"jpg", "jpeg", "jpe"}},
	{ContentTypeGIF, []string{"gif"}},
	{ContentTypeSVG, []string{"svg"}},
	{ContentTypeWebP, []string{"webp"}},
	{ContentTypeBMP, []string{"bmp"}},
}

// ContentTypeByExt returns the image content type for a file extension.
func ContentTypeByExt(ext string) (string, bool) {
	ext = normalizeExt(ext)
	for _, it := range imageTypes {
		for _, e := range it.exts {
			if e == ext {
				return it.contentType, true
			}
		}
	}
	return "", false
}

// ExtensionsFor returns the known extensions for an image content type.
func ExtensionsFor(contentType string) []string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	for _, it := range imageTypes {
		if it.contentType == contentType {
			out := make([]string, len(it.exts))
			copy(out, it.exts)
			return out
		}
	}
	return nil
}

// PrimaryExtension returns the preferred extension for contentType, or "".
func PrimaryExtension(contentType string) string {
	if exts := ExtensionsFor(contentType); len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// ParseFileName splits name into base and extension at the last dot. ok is
// false when there is no extension.
func ParseFileName(name string) (base, ext string, ok bool) {
	i := strings.LastIndex(name, ".")
	if i < 0 || i == len(name)-1 {
		return name, "", false
	}
	return name[:i], name[i+1:], true
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}
