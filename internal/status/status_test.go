package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/appconfig"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/health"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/models"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/uploader"
	"github.com/knowhubhq/knowledge-exchange/upload-client/pkg/progress"
)

// stubSource feeds the server hand-built snapshots.
type stubSource struct {
	mu    sync.Mutex
	snaps map[string]progress.Snapshot
}

func newStubSource() *stubSource {
	return &stubSource{snaps: map[string]progress.Snapshot{}}
}

func (s *stubSource) set(snap progress.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.ID] = snap
}

func (s *stubSource) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, id)
}

func (s *stubSource) Progress(id string) (progress.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[id]
	if !ok {
		return progress.Snapshot{}, uploader.ErrUploadNotFound
	}
	return snap, nil
}

func (s *stubSource) Snapshots() []progress.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]progress.Snapshot, 0, len(s.snaps))
	for _, snap := range s.snaps {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *stubSource) AggregateProgress(_ []string) progress.Aggregate {
	return progress.Fold(s.Snapshots()...)
}

type upCheck struct{ name string }

func (u upCheck) Health(_ context.Context) (rsp models.ServiceHealthResp) {
	rsp.Service = u.name
	rsp.Status = models.STATUS_UP
	return rsp
}

func newTestServer(t *testing.T) (*Server, *stubSource, *httptest.Server) {
	t.Helper()
	src := newStubSource()
	srv := New(appconfig.AppConfig{StatusListenAddr: ":0"}, src)
	srv.watchEvery = 10 * time.Millisecond
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, src, ts
}

func TestStatusForOneUpload(t *testing.T) {
	_, src, ts := newTestServer(t)
	src.set(progress.Snapshot{
		ID:             "u1",
		FileName:       "report.csv",
		FileSize:       100,
		Status:         progress.StatusUploading,
		UploadedBytes:  50,
		UploadedChunks: 5,
		TotalChunks:    10,
		Percent:        50,
	})

	resp, err := http.Get(ts.URL + "/status/u1")
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap progress.Snapshot
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "report.csv", snap.FileName)
	assert.Equal(t, progress.StatusUploading, snap.Status)
	assert.Equal(t, float64(50), snap.Percent)
}

func TestStatusForUnknownUpload(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/status/ghost")
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusAggregatesAllUploads(t *testing.T) {
	_, src, ts := newTestServer(t)
	src.set(progress.Snapshot{ID: "a", FileSize: 100, UploadedBytes: 50, Status: progress.StatusUploading})
	src.set(progress.Snapshot{ID: "b", FileSize: 300, UploadedBytes: 300, Status: progress.StatusCompleted})

	resp, err := http.Get(ts.URL + "/status")
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body StatusResponse
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2, body.Summary.TotalFiles)
	assert.Equal(t, 1, body.Summary.CompletedFiles)
	assert.Equal(t, int64(400), body.Summary.TotalBytes)
	assert.Equal(t, int64(350), body.Summary.UploadedBytes)
	assert.Equal(t, 87.5, body.Summary.Percent)
	assert.Equal(t, 2, len(body.Uploads))
	assert.Equal(t, "a", body.Uploads[0].ID)
}

func TestStatusRejectsOtherMethods(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/status", "application/json", strings.NewReader("{}"))
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRootHealthAndVersionRoutes(t *testing.T) {
	health.Reset()
	t.Cleanup(health.Reset)
	assert.NoError(t, health.Register(upCheck{name: "Test Dependency"}))

	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var root appconfig.RootResp
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&root))
	assert.Equal(t, "KNOWHUB", root.System)

	resp, err = http.Get(ts.URL + "/health")
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var h health.Response
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.Equal(t, models.STATUS_UP, h.Status)
	assert.Equal(t, 1, len(h.Services))

	resp, err = http.Get(ts.URL + "/version")
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func wsURL(httpURL, path string) string {
	return strings.Replace(httpURL, "http://", "ws://", 1) + path
}

func TestWatchStreamsUntilCompleted(t *testing.T) {
	_, src, ts := newTestServer(t)
	src.set(progress.Snapshot{ID: "u1", FileSize: 100, UploadedBytes: 30, Status: progress.StatusUploading})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts.URL, "/status/u1/watch"), nil)
	assert.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var first progress.Snapshot
	assert.NoError(t, wsjson.Read(ctx, conn, &first))
	assert.Equal(t, progress.StatusUploading, first.Status)

	src.set(progress.Snapshot{ID: "u1", FileSize: 100, UploadedBytes: 100, Status: progress.StatusCompleted, Percent: 100})

	// Frames keep coming until the completed snapshot arrives; then the
	// server closes the stream normally.
	for {
		var snap progress.Snapshot
		if err := wsjson.Read(ctx, conn, &snap); err != nil {
			t.Fatalf("stream ended before a completed snapshot: %v", err)
		}
		if snap.Status == progress.StatusCompleted {
			break
		}
	}

	var extra progress.Snapshot
	err = wsjson.Read(ctx, conn, &extra)
	assert.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestWatchEndsWhenUploadIsForgotten(t *testing.T) {
	_, src, ts := newTestServer(t)
	src.set(progress.Snapshot{ID: "u2", FileSize: 10, Status: progress.StatusUploading})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts.URL, "/status/u2/watch"), nil)
	assert.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var first progress.Snapshot
	assert.NoError(t, wsjson.Read(ctx, conn, &first))

	src.remove("u2")

	for {
		var snap progress.Snapshot
		if err := wsjson.Read(ctx, conn, &snap); err != nil {
			assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
			return
		}
	}
}

func TestWatchUnknownUpload(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/status/ghost/watch")
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
