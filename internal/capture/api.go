package capture

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	apperrors "github.com/zsiec/framecap/internal/errors"
	"github.com/zsiec/framecap/internal/frametime"
	"github.com/zsiec/framecap/internal/logger"
	"github.com/zsiec/framecap/internal/metrics"
)

const maxRequestBody = 1 << 20

// Handlers exposes the capture service over HTTP.
type Handlers struct {
	service      *Service
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
}

// NewHandlers creates the capture HTTP handlers.
func NewHandlers(service *Service, errorHandler *apperrors.ErrorHandler, log logger.Logger) *Handlers {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Handlers{
		service:      service,
		errorHandler: errorHandler,
		logger:       log.WithField("component", "capture_handlers"),
	}
}

// RegisterRoutes registers the frame/time and session routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/frametime", h.HandleFrameTime).Methods("GET")

	api.HandleFunc("/sessions", h.HandleCreateSession).Methods("POST")
	api.HandleFunc("/sessions/{id}", h.HandleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.HandleDeleteSession).Methods("DELETE")

	api.HandleFunc("/sessions/{id}/video", h.HandleSetVideoInfo).Methods("PUT")
	api.HandleFunc("/sessions/{id}/fps", h.HandleSetFrameRate).Methods("PUT")
	api.HandleFunc("/sessions/{id}/status", h.HandleSetStatus).Methods("PUT")
	api.HandleFunc("/sessions/{id}/time", h.HandleSetCurrentTime).Methods("PUT")
	api.HandleFunc("/sessions/{id}/reset", h.HandleReset).Methods("POST")

	api.HandleFunc("/sessions/{id}/play", h.HandlePlay).Methods("POST")
	api.HandleFunc("/sessions/{id}/pause", h.HandlePause).Methods("POST")
	api.HandleFunc("/sessions/{id}/seek", h.HandleSeek).Methods("POST")
	api.HandleFunc("/sessions/{id}/seeked", h.HandleSeeked).Methods("POST")
	api.HandleFunc("/sessions/{id}/step", h.HandleStep).Methods("POST")

	api.HandleFunc("/sessions/{id}/pictures", h.HandleListPictures).Methods("GET")
	api.HandleFunc("/sessions/{id}/pictures", h.HandleAddPicture).Methods("POST")
	api.HandleFunc("/sessions/{id}/pictures", h.HandleClearPictures).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/pictures/{pid}", h.HandleGetPicture).Methods("GET")
	api.HandleFunc("/sessions/{id}/pictures/{pid}", h.HandleRemovePicture).Methods("DELETE")

	api.HandleFunc("/sessions/{id}/settings", h.HandleUpdateSettings).Methods("PUT")

	h.logger.Info("Capture routes registered")
}

// API Response DTOs
type FrameTimeResponse struct {
	Time          float64  `json:"time"`
	FPS           float64  `json:"fps"`
	Rate          string   `json:"rate"`
	NTSC          bool     `json:"ntsc"`
	Fractional    bool     `json:"fractional"`
	FrameDuration float64  `json:"frame_duration"`
	Frame         int64    `json:"frame"`
	FrameStart    float64  `json:"frame_start"`
	SeekTarget    float64  `json:"seek_target"`
	FileName      string   `json:"file_name"`
	Delta         int64    `json:"delta,omitempty"`
	MovedTime     *float64 `json:"moved_time,omitempty"`
	MovedFrame    *int64   `json:"moved_frame,omitempty"`
}

type PictureResponse struct {
	Picture
	FileName string `json:"file_name"`
	URL      string `json:"url"`
}

type SessionResponse struct {
	*Session
	Pictures         []PictureResponse `json:"pictures"`
	CurrentFrame     int64             `json:"current_frame"`
	SeekTarget       float64           `json:"seek_target"`
	ImageFormatLabel string            `json:"image_format_label"`
}

type PictureListResponse struct {
	SessionID string            `json:"session_id"`
	SortType  SortType          `json:"sort_type"`
	Pictures  []PictureResponse `json:"pictures"`
	Count     int               `json:"count"`
}

// API Request DTOs
type CreateSessionRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
}

type VideoInfoRequest struct {
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Duration float64 `json:"duration"`
}

// FrameRateRequest accepts fps as a number (29.97) or a string ("29.97",
// "30000/1001").
type FrameRateRequest struct {
	FPS json.RawMessage `json:"fps"`
}

type StatusRequest struct {
	LoadError bool `json:"load_error"`
}

type TimeRequest struct {
	Time *float64 `json:"time"`
}

type StepRequest struct {
	Delta *int64 `json:"delta"`
}

type AddPictureRequest struct {
	BlobURL   BlobURL  `json:"blob_url"`
	VideoTime *float64 `json:"video_time"` // defaults to the current position
}

type SettingsRequest struct {
	SortType    *string `json:"sort_type"`
	ImageFormat *string `json:"image_format"`
}

// HandleFrameTime - GET /api/v1/frametime?time=&fps=&delta=
func (h *Handlers) HandleFrameTime(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	t, err := strconv.ParseFloat(q.Get("time"), 64)
	if err != nil || !isFinite(t) {
		h.errorHandler.HandleError(w, r, apperrors.NewValidationError("time must be a finite number"))
		return
	}

	rate, err := parseFrameRate(q.Get("fps"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	fps := rate.Nominal()

	resp := FrameTimeResponse{
		Time:          t,
		FPS:           fps,
		Rate:          rate.String(),
		NTSC:          rate.IsNTSC(),
		Fractional:    frametime.IsFractionalRate(fps),
		FrameDuration: rate.FrameDuration(),
		Frame:         frametime.TimeToFrame(t, fps),
		SeekTarget:    frametime.TimeForVideoAtRate(t, fps),
		FileName:      frametime.TimeToFileName(t),
	}
	resp.FrameStart = frametime.FrameToTime(resp.Frame, fps)
	metrics.RecordConversion("time_to_frame")
	metrics.RecordConversion("frame_to_time")

	if raw := q.Get("delta"); raw != "" {
		delta, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.errorHandler.HandleError(w, r, apperrors.NewValidationError("delta must be an integer"))
			return
		}
		moved := frametime.MoveFrame(t, fps, delta)
		movedFrame := frametime.TimeToFrame(moved, fps)
		resp.Delta = delta
		resp.MovedTime = &moved
		resp.MovedFrame = &movedFrame
		metrics.RecordConversion("move_frame")
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleCreateSession - POST /api/v1/sessions
func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	sess, err := h.service.Create(r.Context(), req.FileName, req.ContentType)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/sessions/"+sess.ID)
	writeJSON(w, http.StatusCreated, newSessionResponse(sess))
}

// HandleGetSession - GET /api/v1/sessions/{id}
func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Get(r.Context(), mux.Vars(r)["id"])
	h.respond(w, r, sess, err)
}

// HandleDeleteSession - DELETE /api/v1/sessions/{id}
func (h *Handlers) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSetVideoInfo - PUT /api/v1/sessions/{id}/video
func (h *Handlers) HandleSetVideoInfo(w http.ResponseWriter, r *http.Request) {
	var req VideoInfoRequest
	if !h.decode(w, r, &req) {
		return
	}
	sess, err := h.service.SetVideoInfo(r.Context(), mux.Vars(r)["id"], req.Width, req.Height, req.Duration)
	h.respond(w, r, sess, err)
}

// HandleSetFrameRate - PUT /api/v1/sessions/{id}/fps
func (h *Handlers) HandleSetFrameRate(w http.ResponseWriter, r *http.Request) {
	var req FrameRateRequest
	if !h.decode(w, r, &req) {
		return
	}

	fps, err := frameRateFromJSON(req.FPS)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	sess, err := h.service.SetFrameRate(r.Context(), mux.Vars(r)["id"], fps)
	h.respond(w, r, sess, err)
}

// HandleSetStatus - PUT /api/v1/sessions/{id}/status
func (h *Handlers) HandleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	sess, err := h.service.SetLoadError(r.Context(), mux.Vars(r)["id"], req.LoadError)
	h.respond(w, r, sess, err)
}

// HandleSetCurrentTime - PUT /api/v1/sessions/{id}/time
func (h *Handlers) HandleSetCurrentTime(w http.ResponseWriter, r *http.Request) {
	var req TimeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Time == nil {
		h.errorHandler.HandleError(w, r, apperrors.NewValidationError("time is required"))
		return
	}
	sess, err := h.service.SetCurrentTime(r.Context(), mux.Vars(r)["id"], *req.Time)
	h.respond(w, r, sess, err)
}

// HandleReset - POST /api/v1/sessions/{id}/reset
func (h *Handlers) HandleReset(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Reset(r.Context(), mux.Vars(r)["id"])
	h.respond(w, r, sess, err)
}

// HandlePlay - POST /api/v1/sessions/{id}/play
func (h *Handlers) HandlePlay(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Play(r.Context(), mux.Vars(r)["id"])
	h.respond(w, r, sess, err)
}

// HandlePause - POST /api/v1/sessions/{id}/pause
func (h *Handlers) HandlePause(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Pause(r.Context(), mux.Vars(r)["id"])
	h.respond(w, r, sess, err)
}

// HandleSeek - POST /api/v1/sessions/{id}/seek
func (h *Handlers) HandleSeek(w http.ResponseWriter, r *http.Request) {
	var req TimeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Time == nil {
		h.errorHandler.HandleError(w, r, apperrors.NewValidationError("time is required"))
		return
	}
	sess, err := h.service.Seek(r.Context(), mux.Vars(r)["id"], *req.Time)
	h.respond(w, r, sess, err)
}

// HandleSeeked - POST /api/v1/sessions/{id}/seeked
func (h *Handlers) HandleSeeked(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Seeked(r.Context(), mux.Vars(r)["id"])
	h.respond(w, r, sess, err)
}

// HandleStep - POST /api/v1/sessions/{id}/step
//
// An empty body steps one frame forward.
func (h *Handlers) HandleStep(w http.ResponseWriter, r *http.Request) {
	var req StepRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	delta := int64(1)
	if req.Delta != nil {
		delta = *req.Delta
	}
	sess, err := h.service.Step(r.Context(), mux.Vars(r)["id"], delta)
	h.respond(w, r, sess, err)
}

// HandleListPictures - GET /api/v1/sessions/{id}/pictures
func (h *Handlers) HandleListPictures(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	pictures := pictureResponses(sess, sess.SortedPictures())
	writeJSON(w, http.StatusOK, PictureListResponse{
		SessionID: sess.ID,
		SortType:  sess.SortType,
		Pictures:  pictures,
		Count:     len(pictures),
	})
}

// HandleAddPicture - POST /api/v1/sessions/{id}/pictures
func (h *Handlers) HandleAddPicture(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req AddPictureRequest
	if !h.decode(w, r, &req) {
		return
	}

	var videoTime float64
	if req.VideoTime != nil {
		videoTime = *req.VideoTime
	} else {
		sess, err := h.service.Get(r.Context(), id)
		if err != nil {
			h.errorHandler.HandleError(w, r, err)
			return
		}
		videoTime = sess.Video.CurrentTime
	}

	sess, picture, err := h.service.AddPicture(r.Context(), id, req.BlobURL, videoTime)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/sessions/%s/pictures/%d", id, picture.ID))
	writeJSON(w, http.StatusCreated, newPictureResponse(sess, picture))
}

// HandleClearPictures - DELETE /api/v1/sessions/{id}/pictures
func (h *Handlers) HandleClearPictures(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.ClearPictures(r.Context(), mux.Vars(r)["id"])
	h.respond(w, r, sess, err)
}

// HandleGetPicture - GET /api/v1/sessions/{id}/pictures/{pid}
func (h *Handlers) HandleGetPicture(w http.ResponseWriter, r *http.Request) {
	pid, ok := h.pictureID(w, r)
	if !ok {
		return
	}

	sess, err := h.service.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	picture, found := sess.Picture(pid)
	if !found {
		h.errorHandler.HandleError(w, r, apperrors.NewNotFoundError("picture"))
		return
	}
	writeJSON(w, http.StatusOK, newPictureResponse(sess, picture))
}

// HandleRemovePicture - DELETE /api/v1/sessions/{id}/pictures/{pid}
func (h *Handlers) HandleRemovePicture(w http.ResponseWriter, r *http.Request) {
	pid, ok := h.pictureID(w, r)
	if !ok {
		return
	}
	sess, err := h.service.RemovePicture(r.Context(), mux.Vars(r)["id"], pid)
	h.respond(w, r, sess, err)
}

// HandleUpdateSettings - PUT /api/v1/sessions/{id}/settings
func (h *Handlers) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req SettingsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.SortType == nil && req.ImageFormat == nil {
		h.errorHandler.HandleError(w, r, apperrors.NewValidationError("sort_type or image_format is required"))
		return
	}

	// Validate both before applying either.
	if req.SortType != nil {
		if _, err := ParseSortType(*req.SortType); err != nil {
			h.errorHandler.HandleError(w, r, apperrors.NewValidationError(err.Error()))
			return
		}
	}
	if req.ImageFormat != nil {
		if _, err := ParseImageFormat(*req.ImageFormat); err != nil {
			h.errorHandler.HandleError(w, r, apperrors.NewValidationError(err.Error()))
			return
		}
	}

	var (
		sess *Session
		err  error
	)
	if req.SortType != nil {
		if sess, err = h.service.SetSortType(r.Context(), id, *req.SortType); err != nil {
			h.errorHandler.HandleError(w, r, err)
			return
		}
	}
	if req.ImageFormat != nil {
		sess, err = h.service.SetImageFormat(r.Context(), id, *req.ImageFormat)
	}
	h.respond(w, r, sess, err)
}

func (h *Handlers) respond(w http.ResponseWriter, r *http.Request, sess *Session, err error) {
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(sess))
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.errorHandler.HandleError(w, r, apperrors.NewValidationError("invalid request body: "+err.Error()))
		return false
	}
	return true
}

func (h *Handlers) pictureID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	pid, err := strconv.ParseInt(mux.Vars(r)["pid"], 10, 64)
	if err != nil {
		h.errorHandler.HandleError(w, r, apperrors.NewValidationError("picture id must be an integer"))
		return 0, false
	}
	return pid, true
}

func newSessionResponse(sess *Session) SessionResponse {
	return SessionResponse{
		Session:          sess,
		Pictures:         pictureResponses(sess, sess.SortedPictures()),
		CurrentFrame:     sess.CurrentFrame(),
		SeekTarget:       sess.SeekTarget(),
		ImageFormatLabel: sess.ImageFormat.Label(),
	}
}

func newPictureResponse(sess *Session, p Picture) PictureResponse {
	return PictureResponse{
		Picture:  p,
		FileName: sess.PictureFileName(p),
		URL:      p.BlobURL.URL(sess.ImageFormat),
	}
}

func pictureResponses(sess *Session, pictures []Picture) []PictureResponse {
	out := make([]PictureResponse, 0, len(pictures))
	for _, p := range pictures {
		out = append(out, newPictureResponse(sess, p))
	}
	return out
}

// parseFrameRate reads a query value as a number or a rational rate and
// rejects anything that is not a positive finite rate.
func parseFrameRate(raw string) (frametime.Rational, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return frametime.Rational{}, apperrors.NewValidationError("fps is required")
	}
	rate, err := frametime.ParseFrameRate(raw)
	if err != nil {
		return frametime.Rational{}, apperrors.NewValidationError(err.Error()).WithCode("INVALID_FPS")
	}
	return rate, nil
}

func frameRateFromJSON(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, apperrors.NewValidationError("fps is required")
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, apperrors.NewValidationError("fps must be a number or a string")
	}
	rate, err := parseFrameRate(s)
	if err != nil {
		return 0, err
	}
	return rate.Nominal(), nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
