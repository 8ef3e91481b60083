package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"vod-server/internal/auth"
	"vod-server/internal/catalog"
	"vod-server/internal/platform/metrics"
	"vod-server/internal/segment"
)

// maxUploadMemory caps multipart parsing memory; larger bodies spill to disk.
const maxUploadMemory = 32 << 20

// thumbnailOffsetSeconds is where the poster frame is captured.
const thumbnailOffsetSeconds = 3.0

// Handler exposes the session and catalog management HTTP endpoints using
// go-chi. Playback itself goes over the WebSocket gateway; this surface
// covers login, logout, and admin catalog CRUD.
type Handler struct {
	sessions  *auth.Sessions
	catalog   *catalog.Catalog
	segmenter *segment.Segmenter
	prober    segment.Prober
	thumbs    segment.Thumbnailer
	log       *slog.Logger
	metrics   *metrics.Metrics

	mediaDir string
	thumbDir string
}

// NewHandler returns a Handler. Metrics may be nil to disable metric
// recording (e.g. in tests).
func NewHandler(sessions *auth.Sessions, cat *catalog.Catalog, seg *segment.Segmenter,
	prober segment.Prober, thumbs segment.Thumbnailer,
	mediaDir, thumbDir string, log *slog.Logger, m *metrics.Metrics) *Handler {

	return &Handler{
		sessions:  sessions,
		catalog:   cat,
		segmenter: seg,
		prober:    prober,
		thumbs:    thumbs,
		log:       log,
		metrics:   m,
		mediaDir:  mediaDir,
		thumbDir:  thumbDir,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": message})
}

// bearerToken extracts the session token from the Authorization header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// Login handles POST /api/login. Body: { "username": "...", "password": "..." }.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}

	token, id, err := h.sessions.Login(body.Username, body.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.log.Info("login rejected", slog.String("username", body.Username))
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.log.Error("login failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.log.Info("login ok", slog.String("username", id.Username), slog.String("role", id.Role))
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"token":    token,
		"nickname": id.Nickname,
		"role":     id.Role,
	})
}

// Logout handles POST /api/logout with a Bearer token.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "login-required")
		return
	}
	if err := h.sessions.Logout(token); err != nil {
		h.log.Error("logout failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RequireAdmin wraps admin-only routes with Bearer token validation.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := h.sessions.Validate(bearerToken(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "login-required")
			return
		}
		if !id.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UploadVideo handles POST /api/videos (admin, multipart). It stores the
// source file, probes duration and codec, captures a thumbnail, inserts
// the catalog row, and kicks off segment preparation in the background so
// the first viewer does not pay the repackaging cost.
func (h *Handler) UploadVideo(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "bad multipart body")
		return
	}

	title := r.FormValue("title")
	if title == "" {
		writeError(w, http.StatusBadRequest, "title required")
		return
	}
	description := r.FormValue("description")

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file required")
		return
	}
	defer file.Close()

	ext := filepath.Ext(header.Filename)
	if ext == "" {
		ext = ".mp4"
	}
	name := uuid.NewString()
	dst := filepath.Join(h.mediaDir, name+ext)

	if err := saveUpload(file, dst); err != nil {
		h.log.Error("store upload failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	info, err := h.prober.Probe(r.Context(), dst)
	if err != nil {
		os.Remove(dst)
		h.log.Error("probe failed", slog.String("file", dst), slog.String("error", err.Error()))
		writeError(w, http.StatusUnprocessableEntity, "unreadable media file")
		return
	}

	thumbPath := filepath.Join(h.thumbDir, name+".jpg")
	if err := h.thumbs.Thumbnail(r.Context(), dst, thumbPath, thumbnailOffsetSeconds); err != nil {
		h.log.Warn("thumbnail failed", slog.String("file", dst), slog.String("error", err.Error()))
		thumbPath = ""
	}

	video := catalog.Video{
		Title:         title,
		Description:   description,
		FilePath:      dst,
		ThumbnailPath: thumbPath,
		Codec:         info.VideoCodec,
		Duration:      info.Duration,
	}
	id, err := h.catalog.Create(video)
	if err != nil {
		h.log.Error("create video failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	video.ID = id

	// Warm the segment cache so ws_init is served from disk, then record the
	// cache directory on the catalog row.
	go func() {
		if _, err := h.segmenter.Boundaries(context.Background(), video); err != nil {
			h.log.Error("segment preparation failed",
				slog.Int64("video_id", id), slog.String("error", err.Error()))
			return
		}
		if err := h.catalog.SetSegmentInfo(id, h.segmenter.VideoDir(video), video.Codec, video.Duration); err != nil {
			h.log.Error("record segment path failed",
				slog.Int64("video_id", id), slog.String("error", err.Error()))
		}
	}()

	h.log.Info("video uploaded", slog.Int64("video_id", id), slog.String("title", title))
	writeJSON(w, http.StatusCreated, map[string]any{"status": "ok", "id": id})
	if h.metrics != nil {
		h.metrics.IncUploads()
	}
}

func saveUpload(src io.Reader, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// UpdateVideo handles PUT /api/videos/{id}: title/description update.
func (h *Handler) UpdateVideo(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad video id")
		return
	}

	var body struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	if body.Title == "" {
		writeError(w, http.StatusBadRequest, "title required")
		return
	}

	if err := h.catalog.UpdateMeta(id, body.Title, body.Description); err != nil {
		if errors.Is(err, catalog.ErrVideoNotFound) {
			writeError(w, http.StatusNotFound, "video not found")
			return
		}
		h.log.Error("update video failed", slog.Int64("video_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// DeleteVideo handles DELETE /api/videos/{id}: removes the catalog row,
// source file, thumbnail, and the cached segment directory.
func (h *Handler) DeleteVideo(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad video id")
		return
	}

	video, err := h.catalog.Get(id)
	if err != nil {
		if errors.Is(err, catalog.ErrVideoNotFound) {
			writeError(w, http.StatusNotFound, "video not found")
			return
		}
		h.log.Error("load video failed", slog.Int64("video_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := h.catalog.Delete(id); err != nil {
		h.log.Error("delete video failed", slog.Int64("video_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.segmenter.Invalidate(id)

	if video.FilePath != "" {
		if err := os.Remove(video.FilePath); err != nil && !os.IsNotExist(err) {
			h.log.Warn("remove source failed", slog.String("file", video.FilePath), slog.String("error", err.Error()))
		}
	}
	if video.ThumbnailPath != "" {
		os.Remove(video.ThumbnailPath)
	}
	if dir := h.segmenter.VideoDir(video); dir != "" {
		if err := os.RemoveAll(dir); err != nil {
			h.log.Warn("remove segment dir failed", slog.String("dir", dir), slog.String("error", err.Error()))
		}
	}

	h.log.Info("video deleted", slog.Int64("video_id", id), slog.String("title", video.Title))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
