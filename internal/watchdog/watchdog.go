// Package watchdog monitors a growing session transcript and signals
// cancellation when it has stopped growing for too long.
package watchdog

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config bounds the watchdog's behavior.
type Config struct {
	// Path is the file whose size is sampled.
	Path string
	// StaleTimeout is the cumulative no-growth duration that triggers Kill.
	StaleTimeout time.Duration
	// CheckInterval is how often Path's size is sampled.
	CheckInterval time.Duration
}

// Watchdog polls a file's size on an interval and reports stale-output
// timeout through the channel returned by Start.
type Watchdog struct {
	cfg     Config
	limiter *rate.Limiter

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	killed  bool
	killCh  chan struct{}
	staleCh chan struct{}
}

// New builds a Watchdog for cfg. It does not start monitoring until Start
// is called.
func New(cfg Config) *Watchdog {
	return &Watchdog{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.CheckInterval), 1),
		killCh:  make(chan struct{}),
		staleCh: make(chan struct{}),
	}
}

// Start begins the monitoring loop. The first returned channel closes the
// moment output growth first stops, before StaleTimeout has fully elapsed;
// the second closes when the watchdog actually declares the session dead.
// Callers select on the kill channel, alongside the session's own
// completion, to cancel the agent process.
func (w *Watchdog) Start(ctx context.Context) (stale, kill <-chan struct{}) {
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.run(loopCtx)

	return w.staleCh, w.killCh
}

// Stop halts monitoring without declaring the session stale. Safe to call
// more than once, and safe to call after the watchdog has already fired.
func (w *Watchdog) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// Killed reports whether the watchdog terminated monitoring because the
// transcript went stale, as opposed to being stopped by the caller.
func (w *Watchdog) Killed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.killed
}

func (w *Watchdog) run(ctx context.Context) {
	defer w.wg.Done()

	var lastSize int64
	var staleSince time.Time
	haveBaseline := false
	staleSignalled := false

	for {
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		size, err := fileSize(w.cfg.Path)
		if err != nil {
			// The transcript may not exist yet in the brief window
			// between process spawn and first write; treat that as
			// "no growth yet" rather than an error.
			size = lastSize
		}

		if !haveBaseline {
			lastSize = size
			haveBaseline = true
			continue
		}

		if size > lastSize {
			lastSize = size
			staleSince = time.Time{}
			continue
		}

		if staleSince.IsZero() {
			staleSince = time.Now()
			if !staleSignalled {
				close(w.staleCh)
				staleSignalled = true
			}
			continue
		}

		if time.Since(staleSince) >= w.cfg.StaleTimeout {
			w.declareKilled()
			return
		}
	}
}

func (w *Watchdog) declareKilled() {
	w.mu.Lock()
	w.killed = true
	w.mu.Unlock()
	close(w.killCh)
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.Size(), nil
}
