//go:build integration
// +build integration

package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/knowhubhq/knowledge-exchange/upload-client/cmd/cli"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/appconfig"
	"github.com/tus/tusd/v2/pkg/filestore"
	tusd "github.com/tus/tusd/v2/pkg/handler"
	"github.com/tus/tusd/v2/pkg/memorylocker"
)

// TestUploadThroughMain drives the whole binary against an in-process tus
// server: config from env, one positional file argument, and main() running
// until the upload settles.
func TestUploadThroughMain(t *testing.T) {
	storeDir := t.TempDir()
	store := filestore.New(storeDir)
	locker := memorylocker.New()
	composer := tusd.NewStoreComposer()
	store.UseIn(composer)
	locker.UseIn(composer)

	handler, err := tusd.NewHandler(tusd.Config{
		BasePath:      "/files/",
		StoreComposer: composer,
	})
	if err != nil {
		t.Fatalf("expected no error building tusd handler; got %v", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/files/", http.StripPrefix("/files/", handler))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	workDir := t.TempDir()
	confPath := filepath.Join(workDir, "destinations.yml")
	destinations := fmt.Sprintf("destinations:\n  - id: tus-local\n    type: tus\n    tus:\n      endpoint: %s/files/\n", srv.URL)
	if err := os.WriteFile(confPath, []byte(destinations), 0644); err != nil {
		t.Fatal(err)
	}

	payload := bytes.Repeat([]byte("knowledge exchange "), 11)
	payloadPath := filepath.Join(workDir, "payload.bin")
	if err := os.WriteFile(payloadPath, payload, 0644); err != nil {
		t.Fatal(err)
	}

	checkpointsDir := filepath.Join(workDir, "checkpoints")
	t.Setenv("DESTINATIONS_CONFIG_FILE", confPath)
	t.Setenv("LOCAL_CHECKPOINTS_FOLDER", checkpointsDir)
	t.Setenv("LOCAL_EVENTS_FOLDER", filepath.Join(workDir, "events"))
	t.Setenv("CHUNK_SIZE_BYTES", "16")
	t.Setenv("STATUS_LISTEN_ADDR", "")

	// init() parsed the config before the test could set the environment,
	// so load it again here.
	appConfig, err = appconfig.ParseConfig(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	cli.Flags.Destination = "tus-local"
	cli.Flags.Resume = false
	cli.Flags.ChunkSize = 0
	if err := flag.CommandLine.Parse([]string{payloadPath}); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		main()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("expected the upload run to settle")
	}

	got := storedPayload(t, storeDir)
	if !bytes.Equal(got, payload) {
		t.Errorf("expected the destination to hold the payload; got %d bytes, want %d", len(got), len(payload))
	}

	// a completed upload leaves no checkpoint behind
	entries, err := os.ReadDir(checkpointsDir)
	if err == nil && len(entries) != 0 {
		t.Errorf("expected no checkpoints after completion; found %d", len(entries))
	}
}

func storedPayload(t *testing.T, dir string) []byte {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("expected to read store dir; got %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".info") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			t.Fatalf("expected to read stored file; got %v", err)
		}
		return b
	}
	t.Fatal("expected the store to hold a file")
	return nil
}
