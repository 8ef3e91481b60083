package catalog

import (
	"database/sql"
	"errors"

	"vod-server/internal/store"
)

// ErrVideoNotFound is returned when the requested video id does not exist.
var ErrVideoNotFound = errors.New("video not found")

// Video is one catalog entry. The identifier is immutable; only title and
// description are mutable after ingestion.
type Video struct {
	ID            int64   `json:"id"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	FilePath      string  `json:"file_path"`
	ThumbnailPath string  `json:"thumbnail_path"`
	SegmentPath   string  `json:"segment_path,omitempty"`
	Codec         string  `json:"codec,omitempty"`
	Duration      float64 `json:"duration"`
	UploadDate    string  `json:"upload_date,omitempty"`
}

// Catalog maps video identifiers to source-file metadata. Read-mostly;
// writes come from the upload and admin surfaces.
type Catalog struct {
	db *sql.DB
}

// New returns a Catalog backed by db.
func New(db *store.DB) *Catalog {
	return &Catalog{db: db.Conn()}
}

const videoColumns = `id, title, description, file_path, thumbnail_path, segment_path, codec, duration, IFNULL(upload_date, '')`

func scanVideo(row interface{ Scan(...any) error }) (Video, error) {
	var v Video
	err := row.Scan(&v.ID, &v.Title, &v.Description, &v.FilePath, &v.ThumbnailPath,
		&v.SegmentPath, &v.Codec, &v.Duration, &v.UploadDate)
	return v, err
}

// List returns all videos ordered by upload date, newest first.
func (c *Catalog) List() ([]Video, error) {
	rows, err := c.db.Query(`SELECT ` + videoColumns + ` FROM videos ORDER BY upload_date DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	videos := make([]Video, 0)
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

// Get returns the video with the given id, or ErrVideoNotFound.
func (c *Catalog) Get(id int64) (Video, error) {
	row := c.db.QueryRow(`SELECT `+videoColumns+` FROM videos WHERE id = ?`, id)
	v, err := scanVideo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Video{}, ErrVideoNotFound
	}
	return v, err
}

// Create inserts a new video and returns its assigned id.
func (c *Catalog) Create(v Video) (int64, error) {
	res, err := c.db.Exec(
		`INSERT INTO videos (title, description, file_path, thumbnail_path, segment_path, codec, duration)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.Title, v.Description, v.FilePath, v.ThumbnailPath, v.SegmentPath, v.Codec, v.Duration,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateMeta updates the mutable metadata (title, description) of a video.
func (c *Catalog) UpdateMeta(id int64, title, description string) error {
	res, err := c.db.Exec(`UPDATE videos SET title = ?, description = ? WHERE id = ?`, title, description, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVideoNotFound
	}
	return nil
}

// SetSegmentInfo records the segment cache directory and probed codec for a
// video once background preparation finishes.
func (c *Catalog) SetSegmentInfo(id int64, segmentPath, codec string, duration float64) error {
	_, err := c.db.Exec(
		`UPDATE videos SET segment_path = ?, codec = ?, duration = ? WHERE id = ?`,
		segmentPath, codec, duration, id,
	)
	return err
}

// Delete removes a video row. The caller is responsible for removing files.
func (c *Catalog) Delete(id int64) error {
	res, err := c.db.Exec(`DELETE FROM videos WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVideoNotFound
	}
	return nil
}
