package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FidelGB/ipsw-downloader/internal/downloader"
	"github.com/FidelGB/ipsw-downloader/internal/firmware"
	"github.com/FidelGB/ipsw-downloader/internal/httpclient"
)

type stubChecker struct {
	latest map[string]*firmware.Descriptor
}

func (s *stubChecker) Latest(_ context.Context, identifier string) (*firmware.Descriptor, error) {
	d, ok := s.latest[identifier]
	if !ok {
		return nil, &firmware.InvalidResponseError{Identifier: identifier, Reason: "unknown device"}
	}

	return d, nil
}

type stubDownloader struct {
	mu    sync.Mutex
	dir   string
	calls []string
	fail  map[string]error
}

func (s *stubDownloader) Download(_ context.Context, fw *firmware.Descriptor) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, fw.Identifier)
	s.mu.Unlock()

	if err := s.fail[fw.Identifier]; err != nil {
		return "", err
	}

	path := fw.ArtifactPath(s.dir)
	if err := os.WriteFile(path, []byte("ipsw"), 0o644); err != nil {
		return "", err
	}

	return path, nil
}

func descriptor(id, version string) *firmware.Descriptor {
	return &firmware.Descriptor{
		DeviceName: id,
		Identifier: id,
		Version:    version,
		URL:        "https://updates.cdn-apple.com/" + id + "_" + version + ".ipsw",
	}
}

func TestRunCycle_SkipsExistingArtifacts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "iPhone14,2_17.0.ipsw"), []byte("old"), 0o644))

	checker := &stubChecker{latest: map[string]*firmware.Descriptor{
		"iPhone14,2": descriptor("iPhone14,2", "17.0"),
		"iPad13,1":   descriptor("iPad13,1", "17.0"),
	}}
	dl := &stubDownloader{dir: dir}

	m := New(checker, dl, Options{Devices: []string{"iPhone14,2", "iPad13,1"}, DownloadDir: dir})

	report := m.RunCycle(context.Background())
	assert.Equal(t, []string{"iPad13,1"}, dl.calls)
	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, StatusUpToDate, report.Outcomes[0].Status)
	assert.Equal(t, StatusDownloaded, report.Outcomes[1].Status)

	// the stale file is never rewritten
	data, err := os.ReadFile(filepath.Join(dir, "iPhone14,2_17.0.ipsw"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func TestRunCycle_Idempotent(t *testing.T) {
	dir := t.TempDir()
	checker := &stubChecker{latest: map[string]*firmware.Descriptor{
		"iPhone14,2": descriptor("iPhone14,2", "17.0"),
		"iPhone15,3": descriptor("iPhone15,3", "17.0.1"),
	}}
	dl := &stubDownloader{dir: dir}

	m := New(checker, dl, Options{Devices: []string{"iPhone14,2", "iPhone15,3"}, DownloadDir: dir})

	first := m.RunCycle(context.Background())
	assert.Equal(t, 2, first.Count(StatusDownloaded))

	second := m.RunCycle(context.Background())
	assert.Equal(t, 0, second.Count(StatusDownloaded))
	assert.Equal(t, 2, second.Count(StatusUpToDate))
	assert.Len(t, dl.calls, 2)
}

func TestRunCycle_IsolatesFailures(t *testing.T) {
	dir := t.TempDir()
	checker := &stubChecker{latest: map[string]*firmware.Descriptor{
		"iPhone14,2": descriptor("iPhone14,2", "17.0"),
		"iPhone15,3": descriptor("iPhone15,3", "17.0"),
	}}
	downloadErr := &downloader.RetriesExhaustedError{File: "iPhone15,3_17.0.ipsw", Attempts: 3, Err: errors.New("boom")}
	dl := &stubDownloader{dir: dir, fail: map[string]error{"iPhone15,3": downloadErr}}

	m := New(checker, dl, Options{Devices: []string{"bogus", "iPhone15,3", "iPhone14,2"}, DownloadDir: dir})

	report := m.RunCycle(context.Background())
	require.Len(t, report.Outcomes, 3)

	assert.Equal(t, "bogus", report.Outcomes[0].Identifier)
	assert.Equal(t, StatusCheckFailed, report.Outcomes[0].Status)

	var invalid *firmware.InvalidResponseError
	assert.ErrorAs(t, report.Outcomes[0].Err, &invalid)

	assert.Equal(t, StatusDownloadFailed, report.Outcomes[1].Status)
	assert.ErrorIs(t, report.Outcomes[1].Err, error(downloadErr))

	assert.Equal(t, StatusDownloaded, report.Outcomes[2].Status)
	assert.FileExists(t, filepath.Join(dir, "iPhone14,2_17.0.ipsw"))
}

type blockingDownloader struct {
	active, peak atomic.Int32
}

func (b *blockingDownloader) Download(_ context.Context, fw *firmware.Descriptor) (string, error) {
	n := b.active.Add(1)
	defer b.active.Add(-1)

	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}

	time.Sleep(20 * time.Millisecond)

	return fw.Filename(), nil
}

func TestRunCycle_BoundedParallelism(t *testing.T) {
	latest := map[string]*firmware.Descriptor{}
	devices := make([]string, 0, 8)

	for i := range 8 {
		id := "iPhone14," + strconv.Itoa(i)
		latest[id] = descriptor(id, "17.0")
		devices = append(devices, id)
	}

	for _, tt := range []struct {
		parallel int
		wantPeak int32
	}{{parallel: 0, wantPeak: 1}, {parallel: 1, wantPeak: 1}, {parallel: 3, wantPeak: 3}} {
		t.Run(strconv.Itoa(tt.parallel), func(t *testing.T) {
			dl := &blockingDownloader{}
			m := New(&stubChecker{latest: latest}, dl, Options{Devices: devices, DownloadDir: t.TempDir(), MaxParallel: tt.parallel})

			report := m.RunCycle(context.Background())
			assert.Equal(t, 8, report.Count(StatusDownloaded))
			assert.LessOrEqual(t, dl.peak.Load(), tt.wantPeak)

			if tt.wantPeak == 1 {
				assert.Equal(t, int32(1), dl.peak.Load())
			}
		})
	}
}

func TestRun_SleepsIntervalUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	checker := &stubChecker{latest: map[string]*firmware.Descriptor{"iPhone14,2": descriptor("iPhone14,2", "17.0")}}
	dl := &stubDownloader{dir: dir}

	m := New(checker, dl, Options{Devices: []string{"iPhone14,2"}, DownloadDir: dir, Interval: 600 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sleeps []time.Duration
	m.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		if len(sleeps) == 3 {
			cancel()

			return ctx.Err()
		}

		return nil
	}

	require.NoError(t, m.Run(ctx))
	assert.Equal(t, []time.Duration{600 * time.Second, 600 * time.Second, 600 * time.Second}, sleeps)
	assert.Equal(t, []string{"iPhone14,2"}, dl.calls)
}

func TestRun_PropagatesSleepError(t *testing.T) {
	m := New(&stubChecker{}, &stubDownloader{}, Options{Interval: time.Second})

	boom := errors.New("boom")
	m.sleep = func(context.Context, time.Duration) error { return boom }

	assert.ErrorIs(t, m.Run(context.Background()), boom)
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}

// firmwareAPI serves the device document and the firmware image for one device.
func firmwareAPI(t *testing.T, payload []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var gets atomic.Int32

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/v4/device/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/v4/device/")
		if id != "iPhone14,2" || r.URL.Query().Get("type") != "ipsw" {
			http.NotFound(w, r)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name":       "iPhone 13 Pro",
			"identifier": "iPhone14,2",
			"firmwares": []map[string]any{
				{"identifier": "iPhone14,2", "version": "17.0", "url": srv.URL + "/fw/iPhone14,2_17.0_21A329_Restore.ipsw"},
				{"identifier": "iPhone14,2", "version": "16.6.1", "url": srv.URL + "/fw/old.ipsw"},
			},
		})
	})

	mux.HandleFunc("/fw/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))

		if r.Method == http.MethodGet {
			gets.Add(1)
			_, _ = w.Write(payload)
		}
	})

	return srv, &gets
}

func TestRunCycle_EndToEnd(t *testing.T) {
	payload := []byte(strings.Repeat("firmware image ", 512))
	srv, gets := firmwareAPI(t, payload)

	dir := filepath.Join(t.TempDir(), "ipsw_files")
	client := httpclient.NewClient(httpclient.DefaultOptions())
	checker := firmware.NewChecker(client, srv.URL+"/v4", firmware.SelectFirst)
	var retries atomic.Int32
	dl := downloader.NewDownloader(client, dir, 3, downloader.WithSleeper(func(context.Context, time.Duration) error {
		retries.Add(1)

		return nil
	}))

	m := New(checker, dl, Options{Devices: []string{"iPhone14,2", "iPad99,9"}, DownloadDir: dir})

	first := m.RunCycle(context.Background())
	require.Len(t, first.Outcomes, 2)
	assert.Equal(t, StatusDownloaded, first.Outcomes[0].Status)
	assert.Equal(t, "17.0", first.Outcomes[0].Version)
	assert.Equal(t, filepath.Join(dir, "iPhone14,2_17.0.ipsw"), first.Outcomes[0].Path)
	assert.Equal(t, StatusCheckFailed, first.Outcomes[1].Status)

	data, err := os.ReadFile(filepath.Join(dir, "iPhone14,2_17.0.ipsw"))
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	second := m.RunCycle(context.Background())
	assert.Equal(t, 0, second.Count(StatusDownloaded))
	assert.Equal(t, 1, second.Count(StatusUpToDate))
	assert.Equal(t, int32(1), gets.Load())
	assert.Zero(t, retries.Load())
}

func TestRunCycle_ExhaustedDownloadRetriedNextCycle(t *testing.T) {
	var getsFail atomic.Bool
	getsFail.Store(true)

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/v4/device/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name":      "iPhone 13 Pro",
			"firmwares": []map[string]any{{"version": "17.0", "url": srv.URL + "/fw/restore.ipsw"}},
		})
	})

	payload := strings.Repeat("x", 100)
	mux.HandleFunc("/fw/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(payload)))

			return
		}

		if getsFail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		_, _ = w.Write([]byte(payload))
	})

	dir := t.TempDir()
	client := httpclient.NewClient(httpclient.DefaultOptions())
	dl := downloader.NewDownloader(client, dir, 3, downloader.WithSleeper(func(context.Context, time.Duration) error { return nil }))
	m := New(firmware.NewChecker(client, srv.URL+"/v4", nil), dl, Options{Devices: []string{"iPhone14,2"}, DownloadDir: dir})

	first := m.RunCycle(context.Background())
	require.Len(t, first.Outcomes, 1)
	assert.Equal(t, StatusDownloadFailed, first.Outcomes[0].Status)

	var exhausted *downloader.RetriesExhaustedError
	assert.ErrorAs(t, first.Outcomes[0].Err, &exhausted)
	assert.NoFileExists(t, filepath.Join(dir, "iPhone14,2_17.0.ipsw"))

	getsFail.Store(false)

	second := m.RunCycle(context.Background())
	require.Len(t, second.Outcomes, 1)
	assert.Equal(t, StatusDownloaded, second.Outcomes[0].Status)

	data, err := os.ReadFile(filepath.Join(dir, "iPhone14,2_17.0.ipsw"))
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
}
