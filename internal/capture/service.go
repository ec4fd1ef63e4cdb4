package capture

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/framecap/internal/config"
	apperrors "github.com/zsiec/framecap/internal/errors"
	"github.com/zsiec/framecap/internal/logger"
	"github.com/zsiec/framecap/internal/media"
	"github.com/zsiec/framecap/internal/metrics"
)

// Service implements the capture workflow on top of a Store. It is the
// validating boundary around the frametime package: rates and times are
// checked and clamped here before any conversion runs.
type Service struct {
	store  Store
	cfg    config.CaptureConfig
	logger logger.Logger
	newID  func() string
	now    func() time.Time
}

// NewService creates a capture service.
func NewService(store Store, cfg config.CaptureConfig, log logger.Logger) *Service {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Service{
		store:  store,
		cfg:    cfg,
		logger: log.WithField("component", "capture"),
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// Create starts a session for an uploaded video.
func (s *Service) Create(ctx context.Context, fileName, contentType string) (*Session, error) {
	if fileName == "" {
		return nil, apperrors.NewValidationError("file name is required")
	}
	if !isAllowedUpload(s.cfg, contentType, fileName) {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unsupported video format %q", fileName)).
			WithCode("UNSUPPORTED_FORMAT").
			WithDetails(map[string]interface{}{"allowed": s.cfg.AllowedUploads})
	}

	now := s.now()
	sess := newSession(s.newID(), Upload{FileName: fileName, ContentType: contentType}, s.defaultFPS(), now)
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, s.storeError(err, sess.ID)
	}

	metrics.SessionCreated()
	s.logger.WithFields(map[string]interface{}{
		"session_id": sess.ID,
		"file_name":  fileName,
	}).Info("Capture session created")
	return sess, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.storeError(err, id)
	}
	return sess, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return s.storeError(err, id)
	}
	metrics.SessionDeleted()
	s.logger.WithField("session_id", id).Info("Capture session deleted")
	return nil
}

// SetVideoInfo records the decoded video's dimensions and duration.
func (s *Service) SetVideoInfo(ctx context.Context, id string, width, height int, duration float64) (*Session, error) {
	if width < 0 || height < 0 {
		return nil, apperrors.NewValidationError("width and height cannot be negative")
	}
	if !isNonNegative(duration) {
		return nil, apperrors.NewValidationError("duration must be a non-negative number")
	}
	return s.update(ctx, id, func(sess *Session) error {
		sess.Video.Width = width
		sess.Video.Height = height
		sess.Video.Duration = duration
		sess.Video.CurrentTime = sess.clamp(sess.Video.CurrentTime)
		return nil
	})
}

// SetFrameRate changes the session's frame rate. Captured pictures keep
// their video time and get their frame index recomputed.
func (s *Service) SetFrameRate(ctx context.Context, id string, fps float64) (*Session, error) {
	if !validFrameRate(fps) {
		return nil, apperrors.NewValidationError("fps must be a positive number").WithCode("INVALID_FPS")
	}
	return s.update(ctx, id, func(sess *Session) error {
		sess.setFrameRate(fps)
		return nil
	})
}

func (s *Service) SetLoadError(ctx context.Context, id string, failed bool) (*Session, error) {
	return s.update(ctx, id, func(sess *Session) error {
		sess.Status.LoadError = failed
		return nil
	})
}

// SetCurrentTime records the position reported by a playing video. It is
// clamped but not snapped to a frame.
func (s *Service) SetCurrentTime(ctx context.Context, id string, t float64) (*Session, error) {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return nil, apperrors.NewValidationError("time must be a finite number")
	}
	return s.update(ctx, id, func(sess *Session) error {
		sess.Video.CurrentTime = sess.clamp(t)
		return nil
	})
}

func (s *Service) Play(ctx context.Context, id string) (*Session, error) {
	return s.update(ctx, id, func(sess *Session) error {
		sess.Video.Playing = true
		return nil
	})
}

func (s *Service) Pause(ctx context.Context, id string) (*Session, error) {
	return s.update(ctx, id, func(sess *Session) error {
		sess.Video.Playing = false
		return nil
	})
}

// Seek moves to t, clamped into the video and snapped to the start of the
// frame containing it. The session stays seeking until Seeked.
func (s *Service) Seek(ctx context.Context, id string, t float64) (*Session, error) {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return nil, apperrors.NewValidationError("time must be a finite number")
	}
	sess, err := s.update(ctx, id, func(sess *Session) error {
		sess.seek(t)
		return nil
	})
	if err == nil {
		metrics.RecordSeek()
	}
	return sess, err
}

func (s *Service) Seeked(ctx context.Context, id string) (*Session, error) {
	return s.update(ctx, id, func(sess *Session) error {
		sess.Video.Seeking = false
		return nil
	})
}

// Step moves delta frames from the current position and pauses playback.
// The result never leaves [0, duration].
func (s *Service) Step(ctx context.Context, id string, delta int64) (*Session, error) {
	sess, err := s.update(ctx, id, func(sess *Session) error {
		sess.step(delta)
		return nil
	})
	if err == nil {
		metrics.RecordStep(delta)
	}
	return sess, err
}

// Reset clears the video info back to the default frame rate and drops all
// status flags. Pictures are kept.
func (s *Service) Reset(ctx context.Context, id string) (*Session, error) {
	return s.update(ctx, id, func(sess *Session) error {
		sess.reset(s.defaultFPS())
		return nil
	})
}

// AddPicture stores a capture taken at videoTime. A picture already taken at
// the same time is replaced.
func (s *Service) AddPicture(ctx context.Context, id string, blob BlobURL, videoTime float64) (*Session, Picture, error) {
	if blob.PNG == "" && blob.JPEG == "" {
		return nil, Picture{}, apperrors.NewValidationError("at least one blob url is required")
	}
	if !isNonNegative(videoTime) {
		return nil, Picture{}, apperrors.NewValidationError("video time must be a non-negative number")
	}

	// the store may run the update more than once, so outcomes are only
	// counted after it commits
	var (
		added    Picture
		replaced bool
		atLimit  bool
	)
	sess, err := s.update(ctx, id, func(sess *Session) error {
		replaced = sess.hasPictureAt(videoTime)
		atLimit = s.cfg.MaxPictures > 0 && len(sess.Pictures) >= s.cfg.MaxPictures && !replaced
		if atLimit {
			return apperrors.NewConflictError(fmt.Sprintf("session already holds %d pictures", s.cfg.MaxPictures)).
				WithCode("PICTURE_LIMIT")
		}
		added = sess.addPicture(blob, videoTime, s.now())
		return nil
	})
	if err != nil {
		if atLimit {
			metrics.PictureRejected("limit")
		}
		return nil, Picture{}, err
	}

	if replaced {
		metrics.PictureReplaced()
	}
	metrics.PictureCaptured(string(sess.ImageFormat))
	s.logger.WithFields(map[string]interface{}{
		"session_id": id,
		"picture_id": added.ID,
		"frame":      added.Frame,
	}).Debug("Picture captured")
	return sess, added, nil
}

func (s *Service) RemovePicture(ctx context.Context, id string, pictureID int64) (*Session, error) {
	return s.update(ctx, id, func(sess *Session) error {
		if !sess.removePicture(pictureID, s.now()) {
			return apperrors.NewNotFoundError("picture")
		}
		return nil
	})
}

func (s *Service) ClearPictures(ctx context.Context, id string) (*Session, error) {
	return s.update(ctx, id, func(sess *Session) error {
		sess.Pictures = []Picture{}
		return nil
	})
}

// Pictures returns the session's pictures in its sort order.
func (s *Service) Pictures(ctx context.Context, id string) ([]Picture, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess.SortedPictures(), nil
}

func (s *Service) SetSortType(ctx context.Context, id, sortType string) (*Session, error) {
	st, err := ParseSortType(sortType)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	return s.update(ctx, id, func(sess *Session) error {
		sess.SortType = st
		return nil
	})
}

func (s *Service) SetImageFormat(ctx context.Context, id, format string) (*Session, error) {
	f, err := ParseImageFormat(format)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	return s.update(ctx, id, func(sess *Session) error {
		sess.ImageFormat = f
		return nil
	})
}

func (s *Service) update(ctx context.Context, id string, fn UpdateFunc) (*Session, error) {
	sess, err := s.store.Update(ctx, id, func(sess *Session) error {
		if err := fn(sess); err != nil {
			return err
		}
		sess.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, s.storeError(err, id)
	}
	return sess, nil
}

// storeError maps store failures to API errors. AppErrors raised inside an
// update pass through unchanged.
func (s *Service) storeError(err error, id string) error {
	if apperrors.IsAppError(err) {
		return err
	}
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return apperrors.NewNotFoundError("session")
	case errors.Is(err, ErrUpdateConflict):
		return apperrors.NewConflictError("session was modified concurrently, try again")
	}
	s.logger.WithError(err).WithField("session_id", id).Error("Session store operation failed")
	return apperrors.WrapInternalError(err, "session store unavailable")
}

func (s *Service) defaultFPS() float64 {
	if validFrameRate(s.cfg.DefaultFPS) {
		return s.cfg.DefaultFPS
	}
	return 30
}

func isAllowedUpload(cfg config.CaptureConfig, contentType, fileName string) bool {
	allowed := cfg.AllowedUploads
	if len(allowed) == 0 {
		allowed = media.DefaultUploads
	}
	return media.IsAllowedUpload(allowed, contentType, fileName)
}

func validFrameRate(fps float64) bool {
	return fps > 0 && !math.IsInf(fps, 0)
}

func isNonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0)
}
