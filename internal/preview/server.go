// Package preview serves the committed output over HTTP and rebuilds the site
// when content changes on disk.
package preview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron/v2"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"git.home.luguber.info/inful/sitegen/internal/logfields"
	"git.home.luguber.info/inful/sitegen/internal/pipeline"
)

// debounceWindow coalesces bursts of filesystem events into one rebuild.
const debounceWindow = 300 * time.Millisecond

// Server serves built output and rebuilds on content changes.
type Server struct {
	builder  *pipeline.Builder
	root     string // watched content root
	port     int
	interval time.Duration // periodic full rebuild, zero disables
	registry *prom.Registry

	status buildStatus
}

// New creates a preview server. registry may be nil to disable /metrics.
func New(builder *pipeline.Builder, contentRoot string, port int, interval time.Duration, registry *prom.Registry) *Server {
	return &Server{
		builder:  builder,
		root:     contentRoot,
		port:     port,
		interval: interval,
		registry: registry,
	}
}

// buildStatus tracks the latest rebuild result for /healthz.
type buildStatus struct {
	mu           sync.RWMutex
	lastError    error
	hasGoodBuild bool
}

func (bs *buildStatus) setError(err error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.lastError = err
}

func (bs *buildStatus) setSuccess() {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.lastError = nil
	bs.hasGoodBuild = true
}

func (bs *buildStatus) snapshot() (lastError error, hasGoodBuild bool) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return bs.lastError, bs.hasGoodBuild
}

// Run builds once, then serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	s.rebuild(ctx)

	httpServer := s.startHTTP()

	watcher, err := s.setupWatcher()
	if err != nil {
		_ = httpServer.Close()
		return err
	}
	defer func() { _ = watcher.Close() }()

	rebuildReq, trigger := setupDebouncer()
	s.startRebuildWorker(ctx, rebuildReq)

	var scheduler gocron.Scheduler
	if s.interval > 0 {
		scheduler, err = s.startPeriodicRebuild(rebuildReq)
		if err != nil {
			_ = httpServer.Close()
			return err
		}
	}

	slog.Info("Preview server listening",
		slog.Int("port", s.port),
		slog.String("url", fmt.Sprintf("http://localhost:%d", s.port)))

	for {
		select {
		case <-ctx.Done():
			return s.shutdown(httpServer, scheduler)
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			s.handleFileEvent(watcher, ev, trigger)
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Watcher error", logfields.Error(werr))
		}
	}
}

func (s *Server) startHTTP() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.Dir(s.builder.OutputDir())))
	mux.HandleFunc("/healthz", s.handleHealthz)
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", logfields.Error(err))
		}
	}()
	return server
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	lastErr, hasGoodBuild := s.status.snapshot()
	switch {
	case lastErr != nil && !hasGoodBuild:
		http.Error(w, fmt.Sprintf("no successful build yet: %v", lastErr), http.StatusServiceUnavailable)
	case lastErr != nil:
		// Stale but servable output.
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok (last rebuild failed: %v)\n", lastErr)
	default:
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	}
}

func (s *Server) setupWatcher() (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	if err := addDirsRecursive(watcher, s.root); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	return watcher, nil
}

// setupDebouncer returns a rebuild request channel and a trigger that delays
// the request by debounceWindow, restarting the timer on every call.
func setupDebouncer() (chan struct{}, func()) {
	var mu sync.Mutex
	var timer *time.Timer
	rebuildReq := make(chan struct{}, 1)

	trigger := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounceWindow, func() {
			select {
			case rebuildReq <- struct{}{}:
			default:
			}
		})
	}
	return rebuildReq, trigger
}

// startRebuildWorker serializes rebuilds. Requests arriving during a rebuild
// collapse into one follow-up run.
func (s *Server) startRebuildWorker(ctx context.Context, rebuildReq chan struct{}) {
	var mu sync.Mutex
	running := false
	pending := false

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-rebuildReq:
				mu.Lock()
				if running {
					pending = true
					mu.Unlock()
					continue
				}
				running = true
				mu.Unlock()

				slog.Info("Change detected; rebuilding site")
				s.rebuild(ctx)

				mu.Lock()
				running = false
				if pending {
					pending = false
					mu.Unlock()
					select {
					case rebuildReq <- struct{}{}:
					default:
					}
				} else {
					mu.Unlock()
				}
			}
		}
	}()
}

func (s *Server) rebuild(ctx context.Context) {
	report, err := s.builder.Run(ctx)
	if err != nil {
		slog.Warn("Rebuild failed", logfields.Error(err))
		s.status.setError(err)
		return
	}
	s.status.setSuccess()
	if report.FailedDocuments > 0 {
		slog.Warn("Rebuild completed with document failures",
			slog.Int("failed", report.FailedDocuments))
	}
}

func (s *Server) startPeriodicRebuild(rebuildReq chan struct{}) (gocron.Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			select {
			case rebuildReq <- struct{}{}:
			default:
			}
		}),
		gocron.WithName("periodic-rebuild"),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule periodic rebuild: %w", err)
	}
	scheduler.Start()
	slog.Info("Periodic rebuild enabled", slog.Duration("interval", s.interval))
	return scheduler, nil
}

// shutdown stops the scheduler and HTTP server. rebuildReq is never closed:
// a pending debounce timer or the worker's re-queue may still send into it,
// and the worker exits through ctx instead.
func (s *Server) shutdown(httpServer *http.Server, scheduler gocron.Scheduler) error {
	slog.Info("Shutting down preview server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if scheduler != nil {
		if err := scheduler.Shutdown(); err != nil {
			slog.Warn("Scheduler shutdown error", logfields.Error(err))
		}
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown error", logfields.Error(err))
	}
	return nil
}

func (s *Server) handleFileEvent(watcher *fsnotify.Watcher, ev fsnotify.Event, trigger func()) {
	if shouldIgnoreEvent(ev.Name) {
		return
	}
	// New directories must be added to the watch set.
	if ev.Op&fsnotify.Create == fsnotify.Create {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			_ = addDirsRecursive(watcher, ev.Name)
		}
	}
	slog.Debug("File change detected", logfields.Path(ev.Name), slog.String("op", ev.Op.String()))
	trigger()
}

func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := w.Add(path); err != nil {
				slog.Warn("Watch add failed", logfields.Path(path), logfields.Error(err))
			}
		}
		return nil
	})
}

// shouldIgnoreEvent filters events from hidden files and editor temp/swap
// files so saves do not trigger double rebuilds.
func shouldIgnoreEvent(path string) bool {
	base := filepath.Base(path)

	if strings.HasPrefix(base, ".") {
		return true
	}
	if strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp") ||
		strings.HasSuffix(base, ".swx") ||
		strings.HasPrefix(base, ".#") ||
		strings.HasPrefix(base, "#") && strings.HasSuffix(base, "#") {
		return true
	}
	if base == "Thumbs.db" {
		return true
	}
	return false
}
