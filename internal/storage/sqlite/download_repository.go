package sqlite

import (
	"database/sql"
	"time"

	"github.com/FidelGB/ipsw-downloader/internal/storage"
)

const selectDownloads = `SELECT id, identifier, version, file_path, status, attempts, bytes, error, recorded_at FROM downloads`

type DownloadRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewDownloadRepository(dbConn *sql.DB) *DownloadRepository {
	return &DownloadRepository{db: dbConn, now: time.Now}
}

// RecordDownload appends rec. A zero RecordedAt is stamped with the current time.
func (r *DownloadRepository) RecordDownload(rec storage.DownloadRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = r.now()
	}

	_, err := r.db.Exec(
		`INSERT INTO downloads (identifier, version, file_path, status, attempts, bytes, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Identifier, rec.Version, rec.FilePath, rec.Status, rec.Attempts, rec.Bytes, rec.Error,
		rec.RecordedAt.UTC().Format(time.RFC3339Nano),
	)

	return err
}

func (r *DownloadRepository) GetDownloads(limit int) ([]storage.DownloadRecord, error) {
	rows, err := r.db.Query(selectDownloads+` ORDER BY recorded_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDownloads(rows)
}

func (r *DownloadRepository) GetDeviceDownloads(identifier string, limit int) ([]storage.DownloadRecord, error) {
	rows, err := r.db.Query(selectDownloads+` WHERE identifier = ? ORDER BY recorded_at DESC, id DESC LIMIT ?`, identifier, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDownloads(rows)
}

func scanDownloads(rows *sql.Rows) ([]storage.DownloadRecord, error) {
	downloads := []storage.DownloadRecord{}

	for rows.Next() {
		var (
			record     storage.DownloadRecord
			recordedAt string
		)

		err := rows.Scan(
			&record.ID, &record.Identifier, &record.Version, &record.FilePath, &record.Status,
			&record.Attempts, &record.Bytes, &record.Error, &recordedAt,
		)
		if err != nil {
			return nil, err
		}

		if t, err := time.Parse(time.RFC3339Nano, recordedAt); err == nil {
			record.RecordedAt = t
		}

		downloads = append(downloads, record)
	}

	return downloads, rows.Err()
}
