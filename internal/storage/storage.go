package storage

import "time"

// Terminal outcomes of a download.
const (
	StatusDownloaded = "downloaded"
	StatusAborted    = "aborted"
	StatusFailed     = "failed"
)

// DownloadRecord is one terminal outcome of the download engine. Records
// are an audit trail: the monitor decides what to download from the files on
// disk, never from this history.
type DownloadRecord struct {
	ID         int64     `json:"id"`
	Identifier string    `json:"identifier"`
	Version    string    `json:"version"`
	FilePath   string    `json:"file_path"`
	Status     string    `json:"status"`
	Attempts   int       `json:"attempts"`
	Bytes      int64     `json:"bytes"`
	Error      string    `json:"error,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// DownloadReadRepository lists recorded downloads, newest first.
type DownloadReadRepository interface {
	GetDownloads(limit int) ([]DownloadRecord, error)
	GetDeviceDownloads(identifier string, limit int) ([]DownloadRecord, error)
}

// DownloadWriteRepository appends download outcomes.
type DownloadWriteRepository interface {
	RecordDownload(rec DownloadRecord) error
}

type DownloadRepository interface {
	DownloadReadRepository
	DownloadWriteRepository
}
