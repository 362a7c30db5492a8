package sync

import (
	"context"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/nhle/mailtm-go/mailtm"
)

// SyncState represents the current state of the mailbox sync.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

// SyncStatus holds the sync state of the watched mailbox.
type SyncStatus struct {
	State    SyncState
	LastSync time.Time
	Error    error
}

// Result is sent after every sync attempt.
type Result struct {
	// New is the number of messages archived for the first time.
	New int

	Error error

	// AuthExpired is set when the API rejected the session token.
	AuthExpired bool
}

// Syncer archives the messages of one mailbox. *mailbox.Service satisfies it.
type Syncer interface {
	Sync(ctx context.Context) (int, error)
}

// DefaultInterval is used when no positive interval is given.
const DefaultInterval = 15 * time.Second

// fetchTimeout is the maximum time allowed for a single sync.
const fetchTimeout = 30 * time.Second

// Poller re-syncs a mailbox on a fixed interval.
type Poller struct {
	syncer    Syncer
	interval  time.Duration
	logger    *slog.Logger
	status    SyncStatus
	resultCh  chan Result
	triggerCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	mu        gosync.Mutex
	started   bool
	stopped   bool
}

// New creates a poller for syncer.
func New(syncer Syncer, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		syncer:    syncer,
		interval:  interval,
		logger:    logger,
		resultCh:  make(chan Result, 16),
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the polling goroutine. The first sync happens
// immediately. Polling ends when ctx is done or Stop is called, after
// which Results is closed. A Poller runs at most once; later calls to
// Start are no-ops.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.loop(ctx)
}

// Stop halts polling and waits for an in-flight sync to finish. It is safe
// to call more than once, and before Start.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.stopCh)
	p.mu.Unlock()

	<-p.doneCh
}

// Refresh triggers an immediate sync.
func (p *Poller) Refresh() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
		// a sync is already pending
	}
}

// Results delivers one Result per sync attempt.
func (p *Poller) Results() <-chan Result {
	return p.resultCh
}

// Status returns the current sync status.
func (p *Poller) Status() SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.doneCh)
	defer close(p.resultCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.fetch(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.fetch(ctx)
		case <-p.triggerCh:
			p.fetch(ctx)
		}
	}
}

// fetch performs a single sync and publishes its Result.
func (p *Poller) fetch(parent context.Context) {
	p.setStatus(SyncRunning, nil)

	ctx, cancel := context.WithTimeout(parent, fetchTimeout)
	defer cancel()

	added, err := p.syncer.Sync(ctx)
	if err != nil {
		p.setStatus(SyncError, err)
		p.logger.Warn("mailbox sync failed", "error", err)
		p.sendResult(Result{Error: err, AuthExpired: mailtm.IsAuthError(err)})
		return
	}

	p.setStatus(SyncIdle, nil)
	p.sendResult(Result{New: added})
}

func (p *Poller) setStatus(state SyncState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.State = state
	p.status.Error = err
	if state == SyncIdle && err == nil {
		p.status.LastSync = time.Now()
	}
}

// sendResult publishes msg without blocking.
func (p *Poller) sendResult(msg Result) {
	select {
	case p.resultCh <- msg:
	default:
		// Drop if channel is full to avoid blocking the poller
	}
}
