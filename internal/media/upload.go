package media

import "strings"

// UploadType is a video format accepted for capture.
type UploadType struct {
	ContentType string   `json:"type" mapstructure:"type"`
	Exts        []string `json:"ext" mapstructure:"ext"`
	Label       string   `json:"label" mapstructure:"label"`
}

// DefaultUploads lists the formats browsers can play back natively.
var DefaultUploads = []UploadType{
	{ContentType: "video/mp4", Exts: []string{"mp4"}, Label: "MP4"},
	{ContentType: "video/webm", Exts: []string{"webm"}, Label: "WebM"},
}

// IsAllowedUpload reports whether a file is one of allowed. The content type
// wins when present; otherwise the file extension decides.
func IsAllowedUpload(allowed []UploadType, contentType, fileName string) bool {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}

	_, ext, hasExt := ParseFileName(fileName)
	ext = normalizeExt(ext)

	for _, u := range allowed {
		if contentType != "" {
			if strings.EqualFold(u.ContentType, contentType) {
				return true
			}
			continue
		}
		if !hasExt {
			continue
		}
		for _, e := range u.Exts {
			if strings.EqualFold(e, ext) {
				return true
			}
		}
	}
	return false
}
