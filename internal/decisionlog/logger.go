package decisionlog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loicricci/albee-poc-sub001/internal/observability/metrics"
	"github.com/loicricci/albee-poc-sub001/pkg/logging"
)

const (
	defaultBuffer        = 1024
	defaultRetryDelay    = 100 * time.Millisecond
	defaultAppendTimeout = 5 * time.Second
	defaultOverflow      = 8
	outcomeWritten       = "written"
	outcomeRetried       = "retried"
	outcomeDropped       = "dropped"
	outcomeOverflow      = "overflow"
	outcomeInlineWrite   = "inline"
)

// Options tune a Logger. Zero values pick defaults.
type Options struct {
	Buffer int
	// Overflow caps the writers started for records that find the queue
	// full. Records beyond it are dropped.
	Overflow      int
	RetryDelay    time.Duration
	AppendTimeout time.Duration
	Metrics       *metrics.DecisionMetrics
	Logger        *logging.Logger
}

// Logger appends records in the background. A failed append is retried
// once and then dropped with a warning; failures never reach the caller.
type Logger struct {
	store         Store
	queue         chan Record
	overflowSlots chan struct{}
	retryDelay    time.Duration
	appendTimeout time.Duration
	metrics       *metrics.DecisionMetrics
	logger        *logging.Logger

	mu       sync.RWMutex
	closed   bool
	done     chan struct{}
	overflow sync.WaitGroup
}

// NewLogger starts the background writer. Call Close to drain it.
func NewLogger(store Store, opts Options) *Logger {
	if store == nil {
		panic("decisionlog: store cannot be nil")
	}
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.Overflow <= 0 {
		opts.Overflow = defaultOverflow
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.AppendTimeout <= 0 {
		opts.AppendTimeout = defaultAppendTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	l := &Logger{
		store:         store,
		queue:         make(chan Record, opts.Buffer),
		overflowSlots: make(chan struct{}, opts.Overflow),
		retryDelay:    opts.RetryDelay,
		appendTimeout: opts.AppendTimeout,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		done:          make(chan struct{}),
	}
	go l.run()
	return l
}

// Log stamps rec, emits it as a structured "decision" event and queues it
// for the store. It never waits on the store while the logger is open: a
// record that finds the queue full goes to one of a bounded set of overflow
// writers, or is dropped when they are all busy. After Close the append
// happens inline. Log returns the stamped record.
func (l *Logger) Log(ctx context.Context, rec Record) Record {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	l.logger.InfoContext(ctx, "decision",
		"decision_id", rec.ID,
		"persona_id", rec.PersonaID,
		"user_id", rec.UserID,
		"conversation_id", rec.ConversationID,
		"path", string(rec.Path),
		"trigger", string(rec.Trigger),
		"reason", rec.Reason,
		"similarity", rec.Signals.Similarity,
		"novelty", rec.Signals.Novelty,
		"complexity", rec.Signals.Complexity,
		"confidence", rec.Confidence,
	)

	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		l.metrics.ObserveDecisionLog(outcomeInlineWrite)
		l.write(rec)
		return rec
	}
	defer l.mu.RUnlock()

	select {
	case l.queue <- rec:
		return rec
	default:
	}
	select {
	case l.overflowSlots <- struct{}{}:
		l.metrics.ObserveDecisionLog(outcomeOverflow)
		l.overflow.Add(1)
		go func() {
			defer l.overflow.Done()
			defer func() { <-l.overflowSlots }()
			l.write(rec)
		}()
	default:
		l.metrics.ObserveDecisionLog(outcomeDropped)
		l.logger.Warn("decisionlog: queue full, record dropped", "decision_id", rec.ID,
			"persona_id", rec.PersonaID, "path", string(rec.Path))
	}
	return rec
}

func (l *Logger) run() {
	defer close(l.done)
	for rec := range l.queue {
		l.write(rec)
	}
}

// write appends on a context detached from any request, retrying once.
func (l *Logger) write(rec Record) {
	err := l.append(rec)
	if err == nil {
		l.metrics.ObserveDecisionLog(outcomeWritten)
		return
	}
	l.logger.Warn("decisionlog: append failed, retrying", "decision_id", rec.ID, "error", err, "attempt", 1)
	time.Sleep(l.retryDelay)

	if err = l.append(rec); err == nil {
		l.metrics.ObserveDecisionLog(outcomeRetried)
		return
	}
	l.metrics.ObserveDecisionLog(outcomeDropped)
	l.logger.Warn("decisionlog: record dropped", "decision_id", rec.ID, "persona_id", rec.PersonaID,
		"path", string(rec.Path), "error", err, "attempt", 2)
}

func (l *Logger) append(rec Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), l.appendTimeout)
	defer cancel()
	return l.store.Append(ctx, rec)
}

// Close stops accepting queued records and waits for the queue and the
// overflow writers to drain or ctx to end. Records logged after Close are
// written inline.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		<-l.done
		l.overflow.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
