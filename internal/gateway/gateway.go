package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"vod-server/internal/auth"
	"vod-server/internal/catalog"
	"vod-server/internal/platform/metrics"
	"vod-server/internal/progress"
	"vod-server/internal/segment"
	"vod-server/internal/stream"
)

// handlerFunc processes one authenticated control message.
type handlerFunc func(ctx context.Context, c *conn, m *stream.Manager, id auth.Identity, req request)

// Gateway is the socket-facing layer: it upgrades HTTP to WebSocket,
// decodes control and binary frames, authenticates every request, and
// dispatches to the catalog, segmenter, stream sessions, and progress
// tracker. Errors are answered as control frames; the socket is closed only
// on transport failure.
type Gateway struct {
	log       *slog.Logger
	metrics   *metrics.Metrics
	sessions  *auth.Sessions
	catalog   *catalog.Catalog
	progress  *progress.Tracker
	segmenter *segment.Segmenter

	upgrader websocket.Upgrader
	handlers map[string]handlerFunc
}

// New wires a Gateway. Metrics may be nil to disable metric recording.
func New(log *slog.Logger, m *metrics.Metrics, sessions *auth.Sessions, cat *catalog.Catalog,
	tracker *progress.Tracker, seg *segment.Segmenter) *Gateway {

	g := &Gateway{
		log:       log,
		metrics:   m,
		sessions:  sessions,
		catalog:   cat,
		progress:  tracker,
		segmenter: seg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Session tokens authenticate every message; the origin check
			// is left to the CORS layer in front of the upgrade.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	g.handlers = map[string]handlerFunc{
		TypeListVideos:   g.handleListVideos,
		TypeListContinue: g.handleListContinue,
		TypeVideoDetail:  g.handleVideoDetail,
		TypeWSInit:       g.handleInit,
		TypeWSSegment:    g.handleSegment,
		TypeStreamStop:   g.handleStop,
		TypeWatchGet:     g.handleWatchGet,
		TypeWatchUpdate:  g.handleWatchUpdate,
	}
	return g
}

// ServeHTTP handles GET /ws: upgrade, then a read loop until disconnect.
// Each connection runs on its own goroutine; segment fetches spawn further
// goroutines, so one viewer's slow disk read never stalls another's frames.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Debug("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newConn(uuid.NewString(), ws)
	m := stream.NewManager(c.id, g.log)
	if g.metrics != nil {
		g.metrics.ConnOpened()
	}
	g.log.Info("connection opened", slog.String("conn_id", c.id), slog.String("remote", r.RemoteAddr))

	defer func() {
		closed := m.CloseAll()
		c.close()
		if g.metrics != nil {
			g.metrics.ConnClosed()
			for i := 0; i < closed; i++ {
				g.metrics.SessionClosed()
			}
		}
		g.log.Info("connection closed", slog.String("conn_id", c.id))
	}()

	// Segmenter calls outlive a canceled request context on purpose: an
	// in-flight fetch completes and its result is discarded at the conn.
	ctx := context.Background()

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			// Clients send no meaningful binary frames.
			continue
		}
		g.dispatch(ctx, c, m, data)
	}
}

// dispatch decodes one control frame, authenticates it, and routes it.
func (g *Gateway) dispatch(ctx context.Context, c *conn, m *stream.Manager, data []byte) {
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		g.sendError(c, "", msgBadRequest, nil)
		return
	}
	if g.metrics != nil {
		g.metrics.IncControlMessage(req.Type)
	}

	handler, ok := g.handlers[req.Type]
	if !ok {
		g.sendError(c, req.Type, msgUnknownType, nil)
		return
	}

	id, err := g.sessions.Validate(req.SessionID)
	if err != nil {
		if !errors.Is(err, auth.ErrLoginRequired) {
			g.log.Error("session validation failed", slog.String("error", err.Error()))
		}
		g.sendError(c, req.Type, msgLoginRequired, nil)
		return
	}

	handler(ctx, c, m, id, req)
}

func (g *Gateway) sendError(c *conn, msgType, message string, segIndex *int) {
	if g.metrics != nil {
		g.metrics.IncErrors()
	}
	c.sendJSON(errorResponse{Type: msgType, Status: statusError, Message: message, Segment: segIndex})
}

func (g *Gateway) handleListVideos(_ context.Context, c *conn, _ *stream.Manager, _ auth.Identity, req request) {
	videos, err := g.catalog.List()
	if err != nil {
		g.log.Error("list videos failed", slog.String("error", err.Error()))
		g.sendError(c, req.Type, msgInternalError, nil)
		return
	}
	items := make([]listItem, 0, len(videos))
	for _, v := range videos {
		items = append(items, listItem{
			ID:            v.ID,
			Title:         v.Title,
			Description:   v.Description,
			Duration:      v.Duration,
			ThumbnailPath: v.ThumbnailPath,
			FilePath:      v.FilePath,
		})
	}
	c.sendJSON(listResponse{Type: req.Type, Status: statusOK, Items: items})
}

func (g *Gateway) handleListContinue(_ context.Context, c *conn, _ *stream.Manager, id auth.Identity, req request) {
	items, err := g.progress.ContinueList(id.UserID)
	if err != nil {
		g.log.Error("continue list failed", slog.String("error", err.Error()))
		g.sendError(c, req.Type, msgInternalError, nil)
		return
	}
	c.sendJSON(continueResponse{Type: req.Type, Status: statusOK, Items: items})
}

func (g *Gateway) handleVideoDetail(_ context.Context, c *conn, _ *stream.Manager, _ auth.Identity, req request) {
	v, err := g.catalog.Get(req.VideoID)
	if err != nil {
		if errors.Is(err, catalog.ErrVideoNotFound) {
			g.sendError(c, req.Type, msgVideoNotFound, nil)
		} else {
			g.log.Error("video detail failed", slog.String("error", err.Error()))
			g.sendError(c, req.Type, msgInternalError, nil)
		}
		return
	}
	c.sendJSON(detailResponse{
		Type:          req.Type,
		Status:        statusOK,
		ID:            v.ID,
		Title:         v.Title,
		Description:   v.Description,
		Duration:      v.Duration,
		FilePath:      v.FilePath,
		ThumbnailPath: v.ThumbnailPath,
	})
}

// handleInit starts (or restarts, on seek and reconnect) a stream session:
// boundary metadata plus the init segment, acknowledged as a control frame
// followed by the INIT binary frame.
func (g *Gateway) handleInit(ctx context.Context, c *conn, m *stream.Manager, _ auth.Identity, req request) {
	video, err := g.catalog.Get(req.VideoID)
	if err != nil {
		if errors.Is(err, catalog.ErrVideoNotFound) {
			g.sendError(c, req.Type, msgVideoNotFound, nil)
		} else {
			g.log.Error("catalog lookup failed", slog.String("error", err.Error()))
			g.sendError(c, req.Type, msgInternalError, nil)
		}
		return
	}

	sess, created, err := m.Session(video.ID)
	if err != nil {
		g.sendError(c, req.Type, msgSessionClosed, nil)
		return
	}
	if created && g.metrics != nil {
		g.metrics.SessionOpened()
	}

	if err := sess.BeginInit(); err != nil {
		g.sendError(c, req.Type, streamErrMessage(err), nil)
		return
	}

	go func() {
		descs, err := g.segmenter.Boundaries(ctx, video)
		var initData []byte
		var codec string
		if err == nil {
			initData, codec, err = g.segmenter.InitSegment(ctx, video)
		}
		if err != nil {
			sess.FinishInit(false)
			g.log.Error("stream init failed",
				slog.String("conn_id", c.id),
				slog.Int64("video_id", video.ID),
				slog.String("error", err.Error()))
			g.sendError(c, req.Type, segmentErrMessage(err), nil)
			return
		}

		total := video.Duration
		if total <= 0 && len(descs) > 0 {
			total = descs[len(descs)-1].End
		}

		ack := initResponse{
			Type:          req.Type,
			Status:        statusOK,
			TotalDuration: total,
			TotalSegments: len(descs),
			VideoCodec:    codec,
			Segments:      descs,
		}
		if err := c.sendJSON(ack); err != nil {
			sess.FinishInit(false)
			return
		}
		if err := c.sendBinary(encodeFrame(MagicInit, 0, initData)); err != nil {
			sess.FinishInit(false)
			return
		}
		sess.FinishInit(true)
		g.log.Debug("stream initialized",
			slog.String("conn_id", c.id),
			slog.Int64("video_id", video.ID),
			slog.Int("segments", len(descs)),
			slog.String("codec", codec))
	}()
}

// handleSegment serves one media segment. The session's in-flight guard
// admits exactly one fetch at a time; the guard is released only after the
// binary frame is fully written, so segment N always completes before a
// request for N+1 is accepted.
func (g *Gateway) handleSegment(ctx context.Context, c *conn, m *stream.Manager, _ auth.Identity, req request) {
	if req.Segment == nil {
		g.sendError(c, req.Type, msgBadRequest, nil)
		return
	}
	index := *req.Segment

	sess, ok := m.Get(req.VideoID)
	if !ok {
		g.sendError(c, req.Type, msgNotInitialized, &index)
		return
	}

	if err := sess.AcquireFetch(index); err != nil {
		g.sendError(c, req.Type, streamErrMessage(err), &index)
		return
	}

	video, err := g.catalog.Get(req.VideoID)
	if err != nil {
		sess.ReleaseFetch()
		g.sendError(c, req.Type, msgVideoNotFound, &index)
		return
	}

	go func() {
		defer sess.ReleaseFetch()

		data, err := g.segmenter.MediaSegment(ctx, video, index)
		if err != nil {
			// Out-of-range and missing are end-of-stream signals, not
			// session failures; the session stays usable.
			g.sendError(c, req.Type, segmentErrMessage(err), &index)
			return
		}
		if err := c.sendBinary(encodeFrame(MagicSegment, uint32(index), data)); err != nil {
			// Connection gone; discard.
			return
		}
		if g.metrics != nil {
			g.metrics.IncSegmentSent(len(data))
		}
	}()
}

func (g *Gateway) handleStop(_ context.Context, c *conn, m *stream.Manager, _ auth.Identity, req request) {
	closed := m.StopAll()
	if g.metrics != nil {
		for i := 0; i < closed; i++ {
			g.metrics.SessionClosed()
		}
	}
	g.log.Info("streams stopped", slog.String("conn_id", c.id), slog.Int("sessions", closed))
	c.sendJSON(ackResponse{Type: req.Type, Status: statusOK})
}

func (g *Gateway) handleWatchGet(_ context.Context, c *conn, _ *stream.Manager, id auth.Identity, req request) {
	pos, _, err := g.progress.Get(id.UserID, req.VideoID)
	if err != nil {
		g.log.Error("watch get failed", slog.String("error", err.Error()))
		g.sendError(c, req.Type, msgInternalError, nil)
		return
	}
	c.sendJSON(watchGetResponse{Type: req.Type, Status: statusOK, Position: pos})
}

func (g *Gateway) handleWatchUpdate(_ context.Context, c *conn, _ *stream.Manager, id auth.Identity, req request) {
	if req.Position == nil {
		g.sendError(c, req.Type, msgBadRequest, nil)
		return
	}
	if err := g.progress.Update(id.UserID, req.VideoID, *req.Position); err != nil {
		g.log.Error("watch update failed", slog.String("error", err.Error()))
		g.sendError(c, req.Type, msgInternalError, nil)
		return
	}
	c.sendJSON(ackResponse{Type: req.Type, Status: statusOK})
}

// streamErrMessage maps stream session errors to wire message strings.
func streamErrMessage(err error) string {
	switch {
	case errors.Is(err, stream.ErrAlreadyInFlight):
		return msgAlreadyInFlight
	case errors.Is(err, stream.ErrNotStreaming):
		return msgNotInitialized
	case errors.Is(err, stream.ErrSessionClosed):
		return msgSessionClosed
	default:
		return msgInternalError
	}
}

// segmentErrMessage maps segmenter errors to wire message strings.
func segmentErrMessage(err error) string {
	switch {
	case errors.Is(err, segment.ErrSegmentOutOfRange):
		return msgSegmentOutOfRange
	case errors.Is(err, segment.ErrSegmentMissing):
		return msgSegmentMissing
	case errors.Is(err, segment.ErrSourceUnreadable):
		return msgSourceUnreadable
	default:
		return msgInternalError
	}
}
