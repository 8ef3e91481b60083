package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"vod-server/internal/auth"
	"vod-server/internal/catalog"
	"vod-server/internal/progress"
	"vod-server/internal/segment"
	"vod-server/internal/store"
)

// fakeMedia implements segment.Repackager and segment.Prober over synthetic
// fixed-duration segments.
type fakeMedia struct {
	segments int
	duration float64
}

func (f fakeMedia) Repackage(_ context.Context, _, outDir string, _ float64) error {
	if err := os.WriteFile(filepath.Join(outDir, "init.mp4"), []byte("init-bytes"), 0o644); err != nil {
		return err
	}
	playlist := "#EXTM3U\n#EXT-X-MAP:URI=\"init.mp4\"\n"
	for i := 0; i < f.segments; i++ {
		name := fmt.Sprintf("seg_%05d.m4s", i)
		if err := os.WriteFile(filepath.Join(outDir, name), []byte(fmt.Sprintf("segment-%d", i)), 0o644); err != nil {
			return err
		}
		playlist += fmt.Sprintf("#EXTINF:%f,\n%s\n", f.duration, name)
	}
	playlist += "#EXT-X-ENDLIST\n"
	return os.WriteFile(filepath.Join(outDir, segment.PlaylistName), []byte(playlist), 0o644)
}

func (f fakeMedia) Probe(context.Context, string) (segment.MediaInfo, error) {
	return segment.MediaInfo{Duration: f.duration * float64(f.segments), VideoCodec: "h264"}, nil
}

type testEnv struct {
	srv     *httptest.Server
	token   string
	videoID int64
}

// newTestEnv stands up the full stack over a temp sqlite file and a fake
// repackager: one user, one 5x2s video.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sessions := auth.NewSessions(db, time.Hour)
	if _, err := sessions.CreateUser("alice", "Alice", "secret", "user"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, _, err := sessions.Login("alice", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	cat := catalog.New(db)
	src := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(src, []byte("mp4"), 0o644); err != nil {
		t.Fatal(err)
	}
	videoID, err := cat.Create(catalog.Video{Title: "clip", Description: "test clip", FilePath: src, Codec: "h264", Duration: 10})
	if err != nil {
		t.Fatalf("create video: %v", err)
	}

	media := fakeMedia{segments: 5, duration: 2}
	seg := segment.New(filepath.Join(dir, "segments"), 2, media, media, log)
	tracker := progress.New(db)

	gw := New(log, nil, sessions, cat, tracker, seg)
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, token: token, videoID: videoID}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	return ws
}

func send(t *testing.T, ws *websocket.Conn, msg map[string]any) {
	t.Helper()
	if err := ws.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readJSON reads the next text frame into a generic map.
func readJSON(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	kind, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != websocket.TextMessage {
		t.Fatalf("expected text frame, got type %d", kind)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return m
}

// readBinary reads the next binary frame and decodes its header.
func readBinary(t *testing.T, ws *websocket.Conn) (string, uint32, []byte) {
	t.Helper()
	kind, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != websocket.BinaryMessage {
		t.Fatalf("expected binary frame, got type %d: %s", kind, data)
	}
	magic, index, payload, err := decodeFrame(data)
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	return magic, index, payload
}

func initStream(t *testing.T, e *testEnv, ws *websocket.Conn) map[string]any {
	t.Helper()
	send(t, ws, map[string]any{"type": "ws_init", "session_id": e.token, "video_id": e.videoID})
	ack := readJSON(t, ws)
	if ack["status"] != "ok" {
		t.Fatalf("init ack: %v", ack)
	}
	magic, _, payload := readBinary(t, ws)
	if magic != MagicInit {
		t.Fatalf("expected INIT frame, got %q", magic)
	}
	if string(payload) != "init-bytes" {
		t.Fatalf("init payload: %q", payload)
	}
	return ack
}

func TestGateway_login_required_keeps_socket_open(t *testing.T) {
	e := newTestEnv(t)
	ws := e.dial(t)

	send(t, ws, map[string]any{"type": "list_videos", "session_id": "bogus"})
	resp := readJSON(t, ws)
	if resp["status"] != "error" || resp["message"] != "login-required" {
		t.Fatalf("expected login-required error, got %v", resp)
	}
	if resp["type"] != "list_videos" {
		t.Errorf("error must echo the request type, got %v", resp["type"])
	}

	// Recoverable: the same socket accepts an authenticated retry.
	send(t, ws, map[string]any{"type": "list_videos", "session_id": e.token})
	resp = readJSON(t, ws)
	if resp["status"] != "ok" {
		t.Fatalf("authenticated retry failed: %v", resp)
	}
}

func TestGateway_unknown_type(t *testing.T) {
	e := newTestEnv(t)
	ws := e.dial(t)

	send(t, ws, map[string]any{"type": "bogus_type", "session_id": e.token})
	resp := readJSON(t, ws)
	if resp["status"] != "error" || resp["message"] != "unknown-type" {
		t.Fatalf("expected unknown-type error, got %v", resp)
	}
}

func TestGateway_list_videos(t *testing.T) {
	e := newTestEnv(t)
	ws := e.dial(t)

	send(t, ws, map[string]any{"type": "list_videos", "session_id": e.token})
	resp := readJSON(t, ws)
	if resp["status"] != "ok" {
		t.Fatalf("list_videos: %v", resp)
	}
	items, ok := resp["items"].([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("expected 1 item, got %v", resp["items"])
	}
	item := items[0].(map[string]any)
	if item["title"] != "clip" {
		t.Errorf("item title: %v", item["title"])
	}
}

func TestGateway_video_detail(t *testing.T) {
	e := newTestEnv(t)
	ws := e.dial(t)

	send(t, ws, map[string]any{"type": "video_detail", "session_id": e.token, "video_id": e.videoID})
	resp := readJSON(t, ws)
	if resp["status"] != "ok" || resp["title"] != "clip" {
		t.Fatalf("video_detail: %v", resp)
	}

	send(t, ws, map[string]any{"type": "video_detail", "session_id": e.token, "video_id": 9999})
	resp = readJSON(t, ws)
	if resp["status"] != "error" || resp["message"] != "video-not-found" {
		t.Fatalf("expected video-not-found, got %v", resp)
	}
}

func TestGateway_init_and_segments(t *testing.T) {
	e := newTestEnv(t)
	ws := e.dial(t)

	ack := initStream(t, e, ws)
	if got := ack["total_segments"].(float64); got != 5 {
		t.Errorf("total_segments: %v", got)
	}
	if got := ack["video_codec"]; got != "h264" {
		t.Errorf("video_codec: %v", got)
	}
	segs, ok := ack["segments"].([]any)
	if !ok || len(segs) != 5 {
		t.Fatalf("segments metadata: %v", ack["segments"])
	}

	// Client-driven sequential fetch of the whole video.
	for i := 0; i < 5; i++ {
		send(t, ws, map[string]any{"type": "ws_segment", "session_id": e.token, "video_id": e.videoID, "segment": i})
		magic, index, payload := readBinary(t, ws)
		if magic != MagicSegment {
			t.Fatalf("segment %d: magic %q", i, magic)
		}
		if index != uint32(i) {
			t.Fatalf("segment %d: frame index %d", i, index)
		}
		if string(payload) != fmt.Sprintf("segment-%d", i) {
			t.Fatalf("segment %d: payload %q", i, payload)
		}
	}
}

func TestGateway_segment_before_init(t *testing.T) {
	e := newTestEnv(t)
	ws := e.dial(t)

	send(t, ws, map[string]any{"type": "ws_segment", "session_id": e.token, "video_id": e.videoID, "segment": 0})
	resp := readJSON(t, ws)
	if resp["status"] != "error" || resp["message"] != "not-initialized" {
		t.Fatalf("expected not-initialized, got %v", resp)
	}
}

func TestGateway_segment_out_of_range_session_survives(t *testing.T) {
	e := newTestEnv(t)
	ws := e.dial(t)
	initStream(t, e, ws)

	send(t, ws, map[string]any{"type": "ws_segment", "session_id": e.token, "video_id": e.videoID, "segment": 999})
	resp := readJSON(t, ws)
	if resp["status"] != "error" || resp["message"] != "segment-out-of-range" {
		t.Fatalf("expected segment-out-of-range, got %v", resp)
	}
	if got := resp["segment"].(float64); got != 999 {
		t.Errorf("error should echo the segment index, got %v", resp["segment"])
	}

	// The session stays usable: a fresh init and a valid fetch succeed.
	initStream(t, e, ws)
	send(t, ws, map[string]any{"type": "ws_segment", "session_id": e.token, "video_id": e.videoID, "segment": 0})
	magic, _, _ := readBinary(t, ws)
	if magic != MagicSegment {
		t.Fatalf("fetch after out-of-range: magic %q", magic)
	}
}

func TestGateway_stream_stop_then_reinit(t *testing.T) {
	e := newTestEnv(t)
	ws := e.dial(t)
	initStream(t, e, ws)

	send(t, ws, map[string]any{"type": "stream_stop", "session_id": e.token})
	resp := readJSON(t, ws)
	if resp["status"] != "ok" {
		t.Fatalf("stream_stop: %v", resp)
	}

	// Stopped sessions reject fetches; a fresh init starts over.
	send(t, ws, map[string]any{"type": "ws_segment", "session_id": e.token, "video_id": e.videoID, "segment": 0})
	resp = readJSON(t, ws)
	if resp["status"] != "error" || resp["message"] != "not-initialized" {
		t.Fatalf("expected not-initialized after stop, got %v", resp)
	}
	initStream(t, e, ws)
}

func TestGateway_watch_roundtrip(t *testing.T) {
	e := newTestEnv(t)
	ws := e.dial(t)

	send(t, ws, map[string]any{"type": "watch_get", "session_id": e.token, "video_id": e.videoID})
	resp := readJSON(t, ws)
	if resp["status"] != "ok" {
		t.Fatalf("watch_get: %v", resp)
	}
	if got := resp["position"].(float64); got != 0 {
		t.Errorf("unwatched video position: %v", got)
	}

	send(t, ws, map[string]any{"type": "watch_update", "session_id": e.token, "video_id": e.videoID, "position": 73})
	resp = readJSON(t, ws)
	if resp["status"] != "ok" {
		t.Fatalf("watch_update: %v", resp)
	}

	send(t, ws, map[string]any{"type": "watch_get", "session_id": e.token, "video_id": e.videoID})
	resp = readJSON(t, ws)
	if got := resp["position"].(float64); got != 73 {
		t.Errorf("position after update: %v", got)
	}

	// The continue list now carries the video with its position.
	send(t, ws, map[string]any{"type": "list_continue", "session_id": e.token})
	resp = readJSON(t, ws)
	if resp["status"] != "ok" {
		t.Fatalf("list_continue: %v", resp)
	}
	items, ok := resp["items"].([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("expected 1 continue item, got %v", resp["items"])
	}
	item := items[0].(map[string]any)
	if got := item["position"].(float64); got != 73 {
		t.Errorf("continue item position: %v", got)
	}
}

func TestGateway_bad_json(t *testing.T) {
	e := newTestEnv(t)
	ws := e.dial(t)

	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp := readJSON(t, ws)
	if resp["status"] != "error" || resp["message"] != "bad-request" {
		t.Fatalf("expected bad-request, got %v", resp)
	}
}
