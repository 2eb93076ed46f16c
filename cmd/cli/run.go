package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/appconfig"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/checkpoint"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/event"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/health"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/status"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/transport"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/uploader"
	"github.com/knowhubhq/knowledge-exchange/upload-client/pkg/metadata"
	"github.com/knowhubhq/knowledge-exchange/upload-client/pkg/progress"
)

// Run wires destinations, checkpoints, locks, and event publishers into an
// upload registry, submits (or resumes) the requested files, and blocks
// until every upload settles or the user interrupts.
func Run(ctx context.Context, appConfig appconfig.AppConfig) error {
	if err := setupMetrics(); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		shutdown, err := InitTracerProvider(ctx)
		if err != nil {
			logger.Error("error initializing tracing; continuing without it", "error", err)
		} else {
			defer shutdown(context.Background())
		}
	}

	var loadOpts []transport.LoadOption
	if appConfig.OauthConfig != nil {
		if err := appConfig.OauthConfig.Check(); err != nil {
			return fmt.Errorf("bad oauth config: %w", err)
		}
		loadOpts = append(loadOpts, transport.WithHTTPAuthFallback(
			appConfig.OauthConfig.TokenURL,
			appConfig.OauthConfig.ClientID,
			appConfig.OauthConfig.ClientSecret,
			strings.Fields(appConfig.OauthConfig.Scopes),
		))
	}

	destinations, err := transport.LoadDestinations(ctx, appConfig.DestinationsConfigFile, loadOpts...)
	if err != nil {
		return fmt.Errorf("failed to load destinations from %s: %w", appConfig.DestinationsConfigFile, err)
	}
	health.Register(destinations.Checkables()...)

	store, storeHealth, err := GetCheckpointStore(appConfig)
	if err != nil {
		return fmt.Errorf("failed to configure checkpoint store: %w", err)
	}
	if storeHealth != nil {
		health.Register(storeHealth)
	}

	locker, lockerHealth, err := GetLocker(appConfig)
	if err != nil {
		return fmt.Errorf("failed to configure upload locker: %w", err)
	}
	if lockerHealth != nil {
		health.Register(lockerHealth)
	}

	defaultBus := event.NewMemoryBus[*event.UploadLifecycle]()
	publishers, err := NewEventPublisher(ctx, appConfig, defaultBus)
	if err != nil {
		return fmt.Errorf("failed to configure event publishers: %w", err)
	}
	defer publishers.Close()

	listenCtx, stopListening := context.WithCancel(ctx)
	defer stopListening()
	go defaultBus.Listen(listenCtx, TracingProcessor(func(_ context.Context, e *event.UploadLifecycle) error {
		logger.Info("upload lifecycle event", "type", e.Type(), "uploadId", e.GetUploadID())
		return nil
	}))

	registry := uploader.NewRegistry(destinations,
		uploader.WithCheckpointStore(store),
		uploader.WithLocker(locker),
		uploader.WithPublishers(publishers),
	)

	if appConfig.StatusListenAddr != "" {
		statusServer := status.New(appConfig, registry)
		httpServer := statusServer.HttpServer()
		go func() {
			err := httpServer.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("error starting status server", "error", err, "addr", appConfig.StatusListenAddr)
			} // .if
		}() // .go
		defer httpServer.Shutdown(context.Background())
		logger.Info("started status server", "addr", appConfig.StatusListenAddr)
	}

	opts := uploader.Options{
		ChunkSize:  appConfig.ChunkSizeBytes,
		MaxRetries: int(appConfig.MaxRetries),
		RetryDelay: appConfig.RetryDelay,
	}
	if Flags.ChunkSize > 0 {
		opts.ChunkSize = Flags.ChunkSize
	}

	var wg sync.WaitGroup
	opts.OnComplete = func(id string, result *transport.FinalizeResult) {
		logger.Info("upload completed", "uploadId", id, "artifact", result.ID, "location", result.Location)
		wg.Done()
	}
	opts.OnError = func(id string, err error) {
		logger.Error("upload failed", "uploadId", id, "error", err.Error())
		wg.Done()
	}

	var ids []string
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	if Flags.Resume {
		ids, closers = resumeCheckpointed(ctx, registry, store, opts, &wg)
	} else {
		ids, closers, err = submitFiles(registry, Files(), Flags.Destination, opts, &wg)
		if err != nil {
			return err
		}
	}
	if len(ids) == 0 {
		fmt.Fprintln(os.Stdout, "nothing to upload")
		return nil
	}

	return watchUploads(ctx, registry, ids, &wg)
} // .Run

func submitFiles(registry *uploader.Registry, paths []string, destination string, opts uploader.Options, wg *sync.WaitGroup) ([]string, []io.Closer, error) {
	if destination == "" {
		return nil, nil, errors.New("a destination id is required; pass -destination")
	}
	if len(paths) == 0 {
		return nil, nil, errors.New("no files to upload; pass one or more paths")
	}

	var ids []string
	var closers []io.Closer
	for _, path := range paths {
		src, err := uploader.OpenFile(path)
		if err != nil {
			return ids, closers, fmt.Errorf("failed to open %s: %w", path, err)
		}
		closers = append(closers, src)

		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		o := opts
		o.Metadata = map[string]string{
			metadata.KeyFilename:  src.Name(),
			metadata.KeyLocalPath: abs,
		}

		wg.Add(1)
		id, err := registry.Submit(src, destination, o)
		if err != nil {
			wg.Done()
			return ids, closers, fmt.Errorf("failed to submit %s: %w", path, err)
		}
		ids = append(ids, id)
		fmt.Fprintf(os.Stdout, "uploading %s as %s\n", path, id)
	}
	return ids, closers, nil
} // .submitFiles

// resumeCheckpointed restores every checkpointed session whose file can
// still be opened. Sessions that cannot be resumed are left checkpointed.
func resumeCheckpointed(ctx context.Context, registry *uploader.Registry, store checkpoint.Store, opts uploader.Options, wg *sync.WaitGroup) ([]string, []io.Closer) {
	sessions, err := store.List(ctx)
	if err != nil {
		logger.Error("failed to list checkpoints", "error", err.Error())
		return nil, nil
	}

	var ids []string
	var closers []io.Closer
	for _, sess := range sessions {
		path := metadata.GetLocalPath(sess.Metadata)
		if path == "" {
			logger.Warn("checkpoint does not record a local path; skipping", "uploadId", sess.ID, "file", sess.FileName)
			continue
		}
		src, err := uploader.OpenFile(path)
		if err != nil {
			logger.Warn("failed to reopen checkpointed file; skipping", "uploadId", sess.ID, "path", path, "error", err.Error())
			continue
		}

		wg.Add(1)
		if err := registry.Restore(sess, src, opts); err != nil {
			wg.Done()
			src.Close()
			logger.Warn("failed to restore upload", "uploadId", sess.ID, "error", err.Error())
			continue
		}
		closers = append(closers, src)
		ids = append(ids, sess.ID)
		fmt.Fprintf(os.Stdout, "resuming %s as %s (%d/%d chunks done)\n", sess.FileName, sess.ID, sess.NextChunk(), sess.TotalChunks)
	}
	return ids, closers
} // .resumeCheckpointed

// watchUploads renders aggregate progress until every upload settles. The
// first interrupt pauses and checkpoints everything; a second one cancels.
func watchUploads(ctx context.Context, registry *uploader.Registry, ids []string, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	sigint := make(chan os.Signal, 2)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigint)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			renderProgress(os.Stdout, registry, ids)
			fmt.Fprintln(os.Stdout)
			return settle(registry, ids)

		case <-ticker.C:
			renderProgress(os.Stdout, registry, ids)

		case <-sigint:
			fmt.Fprintln(os.Stdout)
			logger.Info("interrupt received; pausing uploads. run again with -resume to continue")
			go func() {
				<-sigint
				logger.Warn("second interrupt; cancelling uploads")
				for _, id := range ids {
					registry.Cancel(id)
				}
				os.Exit(1)
			}()
			if err := registry.Close(); err != nil {
				return err
			}
			renderProgress(os.Stdout, registry, ids)
			fmt.Fprintln(os.Stdout)
			return nil

		case <-ctx.Done():
			return ctx.Err()
		}
	}
} // .watchUploads

func settle(registry *uploader.Registry, ids []string) error {
	failed := 0
	for _, id := range ids {
		snap, err := registry.Progress(id)
		if err == nil && snap.Status == progress.StatusError {
			failed++
			fmt.Fprintf(os.Stdout, "failed: %s (%s): %s\n", snap.FileName, id, snap.Error)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(ids))
	}
	return nil
} // .settle

func renderProgress(w io.Writer, registry *uploader.Registry, ids []string) {
	agg := registry.AggregateProgress(ids)

	line := fmt.Sprintf("\r%d/%d files | %s / %s (%.1f%%) | %s/s",
		agg.CompletedFiles, agg.TotalFiles,
		humanize.Bytes(uint64(agg.UploadedBytes)), humanize.Bytes(uint64(agg.TotalBytes)),
		agg.Percent,
		humanize.Bytes(uint64(agg.AverageBytesPerSecond)),
	)
	if agg.AverageBytesPerSecond > 0 && agg.UploadedBytes < agg.TotalBytes {
		eta := time.Duration(float64(agg.TotalBytes-agg.UploadedBytes) / agg.AverageBytesPerSecond * float64(time.Second))
		line += fmt.Sprintf(" | ETA %s", eta.Round(time.Second))
	}
	fmt.Fprintf(w, "%-100s", line)
} // .renderProgress
