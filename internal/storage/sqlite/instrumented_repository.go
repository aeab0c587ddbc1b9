package sqlite

import (
	"context"
	"database/sql"

	"github.com/FidelGB/ipsw-downloader/internal/storage"
	"github.com/FidelGB/ipsw-downloader/internal/telemetry"
)

// InstrumentedDownloadRepository wraps DownloadRepository with telemetry.
type InstrumentedDownloadRepository struct {
	repo      *DownloadRepository
	telemetry *telemetry.Telemetry
}

var _ storage.DownloadRepository = (*InstrumentedDownloadRepository)(nil)

// NewInstrumentedDownloadRepository creates a new instrumented download repository.
func NewInstrumentedDownloadRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedDownloadRepository {
	return &InstrumentedDownloadRepository{
		repo:      NewDownloadRepository(dbConn),
		telemetry: tel,
	}
}

// RecordDownload appends a download outcome with telemetry.
func (r *InstrumentedDownloadRepository) RecordDownload(rec storage.DownloadRecord) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "record_download", func(ctx context.Context) error {
		return r.repo.RecordDownload(rec)
	})
}

// GetDownloads retrieves recent downloads with telemetry.
func (r *InstrumentedDownloadRepository) GetDownloads(limit int) ([]storage.DownloadRecord, error) {
	var result []storage.DownloadRecord

	err := r.telemetry.InstrumentDBOperation(context.Background(), "get_downloads", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetDownloads(limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetDeviceDownloads retrieves recent downloads of one device with telemetry.
func (r *InstrumentedDownloadRepository) GetDeviceDownloads(identifier string, limit int) ([]storage.DownloadRecord, error) {
	var result []storage.DownloadRecord

	err := r.telemetry.InstrumentDBOperation(context.Background(), "get_device_downloads", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetDeviceDownloads(identifier, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
