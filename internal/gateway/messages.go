package gateway

import (
	"vod-server/internal/progress"
	"vod-server/internal/segment"
)

// Control message types accepted on the socket.
const (
	TypeListVideos   = "list_videos"
	TypeListContinue = "list_continue"
	TypeVideoDetail  = "video_detail"
	TypeWSInit       = "ws_init"
	TypeWSSegment    = "ws_segment"
	TypeStreamStop   = "stream_stop"
	TypeWatchGet     = "watch_get"
	TypeWatchUpdate  = "watch_update"
)

const (
	statusOK    = "ok"
	statusError = "error"
)

// Error message strings surfaced to clients.
const (
	msgLoginRequired     = "login-required"
	msgUnknownType       = "unknown-type"
	msgBadRequest        = "bad-request"
	msgVideoNotFound     = "video-not-found"
	msgSegmentOutOfRange = "segment-out-of-range"
	msgSegmentMissing    = "segment-missing"
	msgSourceUnreadable  = "source-unreadable"
	msgAlreadyInFlight   = "already-in-flight"
	msgNotInitialized    = "not-initialized"
	msgSessionClosed     = "session-closed"
	msgInternalError     = "internal-error"
)

// request is the decoded control frame. All messages share one envelope;
// which fields are meaningful depends on Type.
type request struct {
	Type         string `json:"type"`
	SessionID    string `json:"session_id"`
	VideoID      int64  `json:"video_id"`
	Segment      *int   `json:"segment"`
	Position     *int64 `json:"position"`
	ConnectionID string `json:"connection_id"`
}

// errorResponse is the uniform error control frame: same type echoed back,
// status "error", and a machine-readable message.
type errorResponse struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Segment *int   `json:"segment,omitempty"`
}

// ackResponse acknowledges messages with no payload (stream_stop,
// watch_update).
type ackResponse struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// listItem is one catalog entry in a list_videos response.
type listItem struct {
	ID            int64   `json:"id"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	Duration      float64 `json:"duration"`
	ThumbnailPath string  `json:"thumbnail_path"`
	FilePath      string  `json:"file_path"`
}

type listResponse struct {
	Type   string     `json:"type"`
	Status string     `json:"status"`
	Items  []listItem `json:"items"`
}

type continueResponse struct {
	Type   string                  `json:"type"`
	Status string                  `json:"status"`
	Items  []progress.ContinueItem `json:"items"`
}

type detailResponse struct {
	Type          string  `json:"type"`
	Status        string  `json:"status"`
	ID            int64   `json:"id"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	Duration      float64 `json:"duration"`
	FilePath      string  `json:"file_path"`
	ThumbnailPath string  `json:"thumbnail_path"`
}

// initResponse is the ws_init acknowledgement. The codec tag is always
// present so the client can allocate its decode buffer before the first
// media segment arrives.
type initResponse struct {
	Type          string               `json:"type"`
	Status        string               `json:"status"`
	TotalDuration float64              `json:"total_duration"`
	TotalSegments int                  `json:"total_segments"`
	VideoCodec    string               `json:"video_codec"`
	Segments      []segment.Descriptor `json:"segments"`
}

type watchGetResponse struct {
	Type     string `json:"type"`
	Status   string `json:"status"`
	Position int64  `json:"position"`
}
