package progress

import (
	"database/sql"
	"errors"
	"time"

	"vod-server/internal/store"
)

// ContinueItem is a watch-progress-annotated catalog entry, used for the
// "continue watching" listing.
type ContinueItem struct {
	ID            int64   `json:"id"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	Duration      float64 `json:"duration"`
	ThumbnailPath string  `json:"thumbnail_path"`
	FilePath      string  `json:"file_path"`
	Position      int64   `json:"position"`
	UpdatedAt     string  `json:"updated_at"`
}

// Tracker persists last-known playback positions per (user, video).
// Updates are last-write-wins by server receipt time; positions are stored
// as reported, without validation against the video duration.
type Tracker struct {
	db *sql.DB
}

// New returns a Tracker backed by db.
func New(db *store.DB) *Tracker {
	return &Tracker{db: db.Conn()}
}

// Get returns the saved position for (userID, videoID). ok is false when no
// record exists.
func (t *Tracker) Get(userID, videoID int64) (position int64, ok bool, err error) {
	row := t.db.QueryRow(
		`SELECT position FROM watch_history WHERE user_id = ? AND video_id = ?`,
		userID, videoID)
	if err := row.Scan(&position); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return position, true, nil
}

// Update upserts the position for (userID, videoID). Negative positions are
// clamped to zero; everything else is stored as-is.
func (t *Tracker) Update(userID, videoID, position int64) error {
	if position < 0 {
		position = 0
	}
	now := time.Now().UTC()
	_, err := t.db.Exec(
		`INSERT INTO watch_history (user_id, video_id, position, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, video_id) DO UPDATE SET position = ?, updated_at = ?`,
		userID, videoID, position, now, position, now,
	)
	return err
}

// ContinueList returns the user's in-progress videos, most recently watched
// first, joined with their catalog metadata.
func (t *Tracker) ContinueList(userID int64) ([]ContinueItem, error) {
	rows, err := t.db.Query(
		`SELECT v.id, v.title, v.description, v.duration, v.thumbnail_path, v.file_path,
		        w.position, IFNULL(w.updated_at, '')
		 FROM watch_history w JOIN videos v ON v.id = w.video_id
		 WHERE w.user_id = ? AND w.position > 0
		 ORDER BY w.updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]ContinueItem, 0)
	for rows.Next() {
		var it ContinueItem
		if err := rows.Scan(&it.ID, &it.Title, &it.Description, &it.Duration,
			&it.ThumbnailPath, &it.FilePath, &it.Position, &it.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
