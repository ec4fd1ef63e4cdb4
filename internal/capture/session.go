package capture

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/zsiec/framecap/internal/frametime"
	"github.com/zsiec/framecap/internal/media"
)

// SortType orders the captured pictures of a session.
type SortType string

const (
	SortCreated   SortType = "created"
	SortVideoTime SortType = "videoTime"
)

// ParseSortType validates a sort type name.
func ParseSortType(s string) (SortType, error) {
	switch SortType(s) {
	case SortCreated, SortVideoTime:
		return SortType(s), nil
	}
	return "", fmt.Errorf("unknown sort type %q", s)
}

// ImageFormat is the format pictures are offered for download in.
type ImageFormat string

const (
	FormatPNG  ImageFormat = "png"
	FormatJPEG ImageFormat = "jpeg"
)

// ParseImageFormat validates an image format name.
func ParseImageFormat(s string) (ImageFormat, error) {
	switch ImageFormat(s) {
	case FormatPNG, FormatJPEG:
		return ImageFormat(s), nil
	}
	return "", fmt.Errorf("unknown image format %q", s)
}

// Label is the display label of the format, "PNG" or "JPG".
func (f ImageFormat) Label() string {
	switch f {
	case FormatPNG:
		return "PNG"
	case FormatJPEG:
		return "JPG"
	}
	return ""
}

// ContentType returns the MIME type of the format.
func (f ImageFormat) ContentType() string {
	switch f {
	case FormatPNG:
		return media.ContentTypePNG
	case FormatJPEG:
		return media.ContentTypeJPEG
	}
	return ""
}

// BlobURL holds the rendered picture in both formats.
type BlobURL struct {
	PNG  string `json:"png"`
	JPEG string `json:"jpeg"`
}

// URL returns the URL for format f.
func (b BlobURL) URL(f ImageFormat) string {
	if f == FormatPNG {
		return b.PNG
	}
	return b.JPEG
}

type Picture struct {
	ID        int64     `json:"id"`
	BlobURL   BlobURL   `json:"blob_url"`
	VideoTime float64   `json:"video_time"`
	Frame     int64     `json:"frame"`
	CreatedAt time.Time `json:"created_at"`
}

type Upload struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
}

type Status struct {
	Uploaded  bool `json:"uploaded"`
	LoadError bool `json:"load_error"`
	Captured  bool `json:"captured"`
}

// Video is the playback state of the uploaded video. Times are seconds.
type Video struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Duration    float64 `json:"duration"`
	CurrentTime float64 `json:"current_time"`
	FPS         float64 `json:"fps"`
	Playing     bool    `json:"playing"`
	Seeking     bool    `json:"seeking"`
}

// Session is one user's capture workspace: an uploaded video, its
// playback state and the pictures grabbed from it.
type Session struct {
	ID            string      `json:"id"`
	Upload        Upload      `json:"upload"`
	Status        Status      `json:"status"`
	Video         Video       `json:"video"`
	Pictures      []Picture   `json:"pictures"`
	NextPictureID int64       `json:"next_picture_id"`
	SortType      SortType    `json:"sort_type"`
	ImageFormat   ImageFormat `json:"image_format"`
	LastEditAt    *time.Time  `json:"last_edit_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

func newSession(id string, upload Upload, fps float64, now time.Time) *Session {
	return &Session{
		ID:     id,
		Upload: upload,
		Status: Status{Uploaded: true},
		Video: Video{
			FPS: fps,
		},
		Pictures:    []Picture{},
		SortType:    SortCreated,
		ImageFormat: FormatJPEG,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// CurrentFrame is the frame index of the playback position.
func (s *Session) CurrentFrame() int64 {
	return frametime.TimeToFrame(s.Video.CurrentTime, s.Video.FPS)
}

// SeekTarget is the time to hand to a playback element so it lands inside
// the current frame.
func (s *Session) SeekTarget() float64 {
	return frametime.TimeForVideoAtRate(s.Video.CurrentTime, s.Video.FPS)
}

// clamp bounds t to [0, duration]. An unknown (zero) duration only bounds
// from below.
func (s *Session) clamp(t float64) float64 {
	if math.IsNaN(t) || t < 0 {
		return 0
	}
	if s.Video.Duration > 0 && t > s.Video.Duration {
		return s.Video.Duration
	}
	return t
}

func (s *Session) setFrameRate(fps float64) {
	s.Video.FPS = fps
	for i := range s.Pictures {
		s.Pictures[i].Frame = frametime.TimeToFrame(s.Pictures[i].VideoTime, fps)
	}
}

func (s *Session) seek(t float64) {
	s.Video.Seeking = true
	s.Video.CurrentTime = s.clamp(frametime.MoveFrame(s.clamp(t), s.Video.FPS, 0))
}

func (s *Session) step(delta int64) {
	s.Video.Playing = false
	s.Video.CurrentTime = s.clamp(frametime.MoveFrame(s.Video.CurrentTime, s.Video.FPS, delta))
}

// reset clears the video back to fps and drops every status flag, including
// Uploaded. Pictures are kept with their frames recomputed at fps.
func (s *Session) reset(fps float64) {
	s.Video = Video{}
	s.Status = Status{}
	s.setFrameRate(fps)
}

// addPicture replaces any picture taken at exactly the same video time.
func (s *Session) addPicture(blob BlobURL, videoTime float64, now time.Time) Picture {
	kept := s.Pictures[:0]
	for _, p := range s.Pictures {
		if p.VideoTime != videoTime {
			kept = append(kept, p)
		}
	}
	s.Pictures = kept

	p := Picture{
		ID:        s.NextPictureID,
		BlobURL:   blob,
		VideoTime: videoTime,
		Frame:     frametime.TimeToFrame(videoTime, s.Video.FPS),
		CreatedAt: now,
	}
	s.NextPictureID++
	s.Pictures = append(s.Pictures, p)
	s.Status.Captured = true
	s.touch(now)
	return p
}

func (s *Session) hasPictureAt(videoTime float64) bool {
	for _, p := range s.Pictures {
		if p.VideoTime == videoTime {
			return true
		}
	}
	return false
}

func (s *Session) removePicture(id int64, now time.Time) bool {
	for i, p := range s.Pictures {
		if p.ID == id {
			s.Pictures = append(s.Pictures[:i], s.Pictures[i+1:]...)
			s.touch(now)
			return true
		}
	}
	return false
}

// Picture looks up a picture by id.
func (s *Session) Picture(id int64) (Picture, bool) {
	for _, p := range s.Pictures {
		if p.ID == id {
			return p, true
		}
	}
	return Picture{}, false
}

func (s *Session) touch(now time.Time) {
	s.LastEditAt = &now
}

// SortedPictures returns a copy of the pictures in the session's sort
// order. Ties fall back to capture order.
func (s *Session) SortedPictures() []Picture {
	out := make([]Picture, len(s.Pictures))
	copy(out, s.Pictures)

	less := func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	}
	if s.SortType == SortVideoTime {
		less = func(i, j int) bool {
			if out[i].VideoTime != out[j].VideoTime {
				return out[i].VideoTime < out[j].VideoTime
			}
			return out[i].ID < out[j].ID
		}
	}
	sort.SliceStable(out, less)
	return out
}

// PictureFileName names a downloaded picture after the uploaded video and
// the capture position, e.g. "holiday_00012345.jpg".
func (s *Session) PictureFileName(p Picture) string {
	base, _, _ := media.ParseFileName(s.Upload.FileName)
	ext := media.PrimaryExtension(s.ImageFormat.ContentType())
	return fmt.Sprintf("%s_%s.%s", base, frametime.TimeToFileName(p.VideoTime), ext)
}
