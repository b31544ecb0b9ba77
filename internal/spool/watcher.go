// Package spool watches a drop directory for article batch files. Collectors
// write a JSON array of articles as <name>.json; the watcher picks each file
// up, ingests it, and moves it to the processed/ subdirectory.
package spool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/kiji/internal/models"
)

// Writes are debounced so a collector still streaming a large batch file is
// not read mid-write.
const defaultDebounce = 400 * time.Millisecond

const processedDir = "processed"

// Ingestor receives parsed article batches. Satisfied by index.Coordinator.
type Ingestor interface {
	Ingest(ctx context.Context, articles []*models.ArticleInput) (int, error)
}

// Watcher watches the spool directory and ingests batch files as they appear.
type Watcher struct {
	dir      string
	ingestor Ingestor
	debounce time.Duration
	logger   *zap.Logger

	watcher     *fsnotify.Watcher
	mu          sync.Mutex
	debounceMap map[string]*time.Timer
	started     bool
	done        chan struct{}
	stopOnce    sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for spool events.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce overrides the write-settle delay.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher creates a watcher over dir.
func NewWatcher(dir string, ingestor Ingestor, opts ...Option) *Watcher {
	w := &Watcher{
		dir:         dir,
		ingestor:    ingestor,
		debounce:    defaultDebounce,
		logger:      zap.NewNop(),
		debounceMap: make(map[string]*time.Timer),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start creates the spool directory if needed, sweeps batch files already
// waiting in it, and then watches for new ones until ctx is cancelled or Stop
// is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	if err := os.MkdirAll(filepath.Join(w.dir, processedDir), 0o755); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("create spool directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		_ = watcher.Close()
		w.mu.Unlock()
		return fmt.Errorf("watch spool directory: %w", err)
	}
	w.watcher = watcher
	w.started = true
	w.mu.Unlock()

	w.sweep(ctx)
	go w.run(ctx)
	return nil
}

// sweep processes batch files that accumulated while the server was down.
func (w *Watcher) sweep(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("spool sweep failed", zap.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !isBatchFile(entry.Name()) {
			continue
		}
		w.processFile(ctx, filepath.Join(w.dir, entry.Name()))
	}
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("spool watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	if !isBatchFile(ev.Name) {
		return
	}
	switch {
	case ev.Op.Has(fsnotify.Create), ev.Op.Has(fsnotify.Write):
		w.debounceProcess(ctx, ev.Name)
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.cancelDebounce(ev.Name)
	}
}

func isBatchFile(path string) bool {
	name := filepath.Base(path)
	return strings.HasSuffix(name, ".json") && !strings.HasPrefix(name, ".")
}

func (w *Watcher) debounceProcess(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
	}
	w.debounceMap[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.debounceMap, path)
		w.mu.Unlock()
		w.processFile(ctx, path)
	})
}

func (w *Watcher) cancelDebounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
		delete(w.debounceMap, path)
	}
}

// processFile parses and ingests one batch file, then archives it. A file that
// fails to parse or ingest stays in place so the failure is visible and the
// file can be retried after a fix.
func (w *Watcher) processFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("cannot read spool file", zap.String("path", path), zap.Error(err))
		}
		return
	}
	var articles []*models.ArticleInput
	if err := json.Unmarshal(data, &articles); err != nil {
		w.logger.Warn("malformed spool file", zap.String("path", path), zap.Error(err))
		return
	}

	added, err := w.ingestor.Ingest(ctx, articles)
	if err != nil {
		w.logger.Error("spool ingest failed", zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Info("spool file ingested",
		zap.String("path", path),
		zap.Int("articles", len(articles)),
		zap.Int("chunks_added", added),
	)

	archived := filepath.Join(w.dir, processedDir, filepath.Base(path))
	if err := os.Rename(path, archived); err != nil {
		w.logger.Warn("cannot archive spool file", zap.String("path", path), zap.Error(err))
	}
}

// Stop terminates the watcher. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		for path, t := range w.debounceMap {
			t.Stop()
			delete(w.debounceMap, path)
		}
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
		w.mu.Unlock()
	})
}
