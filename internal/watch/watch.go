// Package watch runs the reconcile sweep whenever the persisted state
// changes, with a debounce so bursts of writes coalesce into one sweep.
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hollandt/warden/internal/model"
)

// Reconciler is the engine surface the watcher drives.
type Reconciler interface {
	Reconcile() error
}

// Watcher watches the state directory and reconciles on change. A
// periodic ticker catches staleness that no file write would surface.
type Watcher struct {
	stateDir   string
	debounce   time.Duration
	interval   time.Duration
	logger     *log.Logger
	reconciler Reconciler

	watcher *fsnotify.Watcher
	ticker  *time.Ticker

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once
}

// New builds a watcher from the project config. logger may be nil.
func New(stateDir string, reconciler Reconciler, cfg model.Config, logger *log.Logger) *Watcher {
	debounce := time.Duration(cfg.Watcher.DebounceSec * float64(time.Second))
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	interval := time.Duration(cfg.Watcher.ScanIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		stateDir:   stateDir,
		debounce:   debounce,
		interval:   interval,
		logger:     logger,
		reconciler: reconciler,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins watching. It returns once the loop is running.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(w.stateDir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", w.stateDir, err)
	}

	w.watcher = watcher
	w.ticker = time.NewTicker(w.interval)

	w.wg.Add(1)
	go w.loop()

	w.logger.Printf("watch: reconciling on changes to %s (debounce %s, sweep every %s)", w.stateDir, w.debounce, w.interval)
	return nil
}

// Run starts the watcher, performs one initial sweep and blocks until
// SIGINT or SIGTERM.
func (w *Watcher) Run() error {
	if err := w.Start(); err != nil {
		return err
	}
	w.runReconcile()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	w.logger.Printf("watch: received signal=%s, shutting down", sig)

	w.Shutdown()
	return nil
}

// Shutdown stops the loop and closes the fsnotify handle. Idempotent.
func (w *Watcher) Shutdown() {
	w.shutdown.Do(func() {
		w.cancel()
		if w.ticker != nil {
			w.ticker.Stop()
		}
		if w.watcher != nil {
			w.watcher.Close()
		}
		w.wg.Wait()
	})
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	// The debounce timer starts disarmed; timerC is nil until the first
	// relevant event so the select never fires early.
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	var timerC <-chan time.Time

	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(w.debounce)
				timerC = timer.C
			}
		case <-timerC:
			timerC = nil
			w.runReconcile()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("watch: fsnotify error=%v", err)
		case <-w.ticker.C:
			w.runReconcile()
		}
	}
}

func (w *Watcher) runReconcile() {
	if err := w.reconciler.Reconcile(); err != nil {
		w.logger.Printf("watch: reconcile failed: %v", err)
	}
}
