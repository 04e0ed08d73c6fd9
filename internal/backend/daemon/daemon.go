package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/reelroom/reel/internal/backup"
)

// Suffixes given to processed inbox files.
const (
	SuffixDone   = ".done"
	SuffixFailed = ".failed"
)

// Config holds configuration for the daemon.
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:8080". Port 0 picks a
	// free port; see Daemon.Addr.
	Addr string

	// ImportDir is the inbox watched for *.jsonl backups. Empty disables it.
	ImportDir string

	// DebounceInterval is how long a dropped file must be quiet before it
	// is imported. This batches the writes of a file being copied in.
	DebounceInterval time.Duration

	// ShutdownTimeout bounds the graceful HTTP shutdown.
	ShutdownTimeout time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:             "127.0.0.1:8080",
		DebounceInterval: 250 * time.Millisecond,
		ShutdownTimeout:  5 * time.Second,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon serves the backend and processes the import inbox.
type Daemon struct {
	handler http.Handler
	sink    backup.Sink
	config  *Config

	srv      *http.Server
	addr     net.Addr
	ready    chan struct{}
	stopOnce sync.Once

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> last event
	changeQueueMu sync.Mutex

	importsMu sync.Mutex
	imports   []ImportReport

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ImportReport describes one processed inbox file.
type ImportReport struct {
	Path   string
	Result *backup.ImportResult
	Err    error
}

// New creates a Daemon serving handler and importing inbox files into sink.
// Use Start() to begin serving.
func New(handler http.Handler, sink backup.Sink, config *Config) (*Daemon, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	if config.ImportDir != "" && sink == nil {
		return nil, fmt.Errorf("sink cannot be nil when ImportDir is set")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		handler:     handler,
		sink:        sink,
		config:      config,
		srv:         &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second},
		ready:       make(chan struct{}),
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// OnShutdown registers f to run when the HTTP server shuts down. Use it for
// connections the server no longer tracks, such as upgraded websockets.
func (d *Daemon) OnShutdown(f func()) {
	d.srv.RegisterOnShutdown(f)
}

// Ready is closed once the listener is bound.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Addr returns the bound listen address. Valid after Ready is closed.
func (d *Daemon) Addr() net.Addr {
	<-d.ready
	return d.addr
}

// Imports returns the inbox files processed so far.
func (d *Daemon) Imports() []ImportReport {
	d.importsMu.Lock()
	defer d.importsMu.Unlock()
	return append([]ImportReport(nil), d.imports...)
}

// Start begins the daemon's operation.
//
// This blocks until ctx is cancelled, Stop is called, or the listener fails.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	ln, err := net.Listen("tcp", d.config.Addr)
	if err != nil {
		close(d.ready)
		return fmt.Errorf("failed to listen on %s: %w", d.config.Addr, err)
	}
	d.addr = ln.Addr()
	close(d.ready)
	d.config.Logger.Printf("Listening on %s", d.addr)

	if d.config.ImportDir != "" {
		if err := d.startInbox(); err != nil {
			_ = ln.Close()
			_ = d.Stop()
			return err
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := d.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	case err, ok := <-serveErr:
		_ = d.Stop()
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	var err error
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")
		d.cancel()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), d.config.ShutdownTimeout)
		defer cancel()
		if shutdownErr := d.srv.Shutdown(shutdownCtx); shutdownErr != nil {
			err = fmt.Errorf("failed to shut down server: %w", shutdownErr)
		}

		if d.watcher != nil {
			if closeErr := d.watcher.Close(); closeErr != nil {
				d.config.Logger.Printf("Error closing watcher: %v", closeErr)
			}
		}

		d.wg.Wait()
		d.config.Logger.Println("Daemon stopped")
	})
	return err
}

// startInbox imports files already present, then watches for new ones.
func (d *Daemon) startInbox() error {
	if err := os.MkdirAll(d.config.ImportDir, 0755); err != nil {
		return fmt.Errorf("failed to create import directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(d.config.ImportDir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch import directory %s: %w", d.config.ImportDir, err)
	}
	d.watcher = watcher
	d.config.Logger.Printf("Watching: %s", d.config.ImportDir)

	// Files dropped before the watch was added.
	existing, err := filepath.Glob(filepath.Join(d.config.ImportDir, "*.jsonl"))
	if err != nil {
		return fmt.Errorf("failed to list import directory: %w", err)
	}
	sort.Strings(existing)
	for _, path := range existing {
		d.queueChange(path)
	}

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()
	return nil
}

// watchFileEvents monitors filesystem events and queues changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			// Only care about Create and Write
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			if filepath.Ext(event.Name) != ".jsonl" {
				continue
			}

			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange (re)starts the debounce window of path.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue imports queued files once they have settled.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			for _, path := range d.settled() {
				d.importFile(path)
			}
		}
	}
}

// settled removes and returns the queued files that have been quiet for at
// least the debounce interval, in name order.
func (d *Daemon) settled() []string {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	now := time.Now()
	var paths []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		paths = append(paths, path)
		delete(d.changeQueue, path)
	}
	sort.Strings(paths)
	return paths
}

// importFile imports one inbox file and renames it out of the way.
func (d *Daemon) importFile(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return
	}

	d.config.Logger.Printf("Importing %s", path)
	result, err := backup.ImportFile(d.ctx, d.sink, path, backup.ImportOptions{})

	suffix := SuffixDone
	if err != nil {
		if d.ctx.Err() != nil {
			// Interrupted by shutdown; leave the file for the next start.
			return
		}
		suffix = SuffixFailed
		d.config.Logger.Printf("Error importing %s: %v", path, err)
	} else {
		d.config.Logger.Printf("Imported %s: %d new, %d existing, %d rejected",
			filepath.Base(path), result.Imported, result.Skipped, len(result.Errors))
		for _, msg := range result.Errors {
			d.config.Logger.Printf("  %s", msg)
		}
	}

	if renameErr := os.Rename(path, path+suffix); renameErr != nil {
		d.config.Logger.Printf("Error renaming %s: %v", path, renameErr)
	}

	d.importsMu.Lock()
	d.imports = append(d.imports, ImportReport{Path: path, Result: result, Err: err})
	d.importsMu.Unlock()
}
