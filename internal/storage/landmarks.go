package storage

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"eyeline/internal/landmark"
)

// ImageHash is the landmark cache key of an image's bytes.
func ImageHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// PutLandmark caches the landmark record detected for an image.
func (s *Store) PutLandmark(hash, fileName string, rec landmark.Record) error {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal landmark: %w", err)
	}
	return s.exec(`INSERT INTO landmark_cache (image_hash, file_name, width, height, record_json, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT (image_hash) DO UPDATE SET file_name=excluded.file_name, width=excluded.width,
            height=excluded.height, record_json=excluded.record_json, created_at=excluded.created_at;`,
		hash, fileName, rec.Width, rec.Height, string(data), time.Now().UTC())
}

// Landmark returns the cached record for hash, or ErrNotFound.
func (s *Store) Landmark(hash string) (landmark.Record, error) {
	if s == nil {
		return landmark.Record{}, ErrNotFound
	}
	var data string
	err := s.DB.QueryRow(s.rebind(`SELECT record_json FROM landmark_cache WHERE image_hash=?;`), hash).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return landmark.Record{}, ErrNotFound
	}
	if err != nil {
		return landmark.Record{}, err
	}
	var rec landmark.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return landmark.Record{}, fmt.Errorf("unmarshal landmark %s: %w", hash, err)
	}
	return rec, nil
}

// LandmarkCount reports how many images have cached landmarks.
func (s *Store) LandmarkCount() (int, error) {
	if s == nil {
		return 0, nil
	}
	var n int
	err := s.DB.QueryRow(`SELECT COUNT(*) FROM landmark_cache;`).Scan(&n)
	return n, err
}
