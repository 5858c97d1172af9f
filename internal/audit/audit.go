// Package audit captures who/what/when/where/outcome records for privileged
// operations. Recording is enqueue-and-forget: the observed operation never
// blocks on, or fails because of, the audit backend.
package audit

import (
	"context"
	"strings"
	"sync"
	"time"

	"taskplane.io/internal/ids"
	"taskplane.io/internal/obs"
)

// Outcomes of an audited operation.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Severities. SeveritySecurity marks events such as replay detection that
// deserve elevated attention downstream.
const (
	SeverityInfo     = "info"
	SeveritySecurity = "security"
)

// SystemActor is recorded when no authenticated principal exists.
const SystemActor = "system"

// Entry is one append-only audit record. Never mutated after creation.
type Entry struct {
	ID         string
	TenantID   string
	ActorID    string
	ActorEmail string
	Action     string
	TargetType string
	TargetID   string
	OccurredAt time.Time
	Duration   time.Duration
	Outcome    string
	Message    string
	Severity   string
	IP         string
	UserAgent  string
	RequestID  string
}

// Store appends immutable entries.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Recorder delivers entries to a Store from a single background worker fed by
// a buffered channel. A full queue or a failing sink degrades to a local log
// line; the caller never sees an error.
type Recorder struct {
	store Store
	queue chan Entry
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewRecorder starts a recorder with the given queue capacity.
func NewRecorder(store Store, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = 256
	}
	r := &Recorder{
		store: store,
		queue: make(chan Entry, queueSize),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues the entry without blocking. Missing fields are defaulted:
// id, timestamp, severity, actor and the request id from ctx.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	if e.ActorID == "" {
		e.ActorID = SystemActor
	}
	if e.RequestID == "" {
		e.RequestID = RequestIDFromContext(ctx)
	}
	// The enqueue shares the mutex with Close so a Record racing shutdown
	// degrades to a dropped entry instead of a send on a closed channel.
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logLocal(e, "audit recorder closed, entry dropped")
		return
	}
	select {
	case r.queue <- e:
	default:
		r.logLocal(e, "audit queue full, entry dropped")
	}
	r.mu.Unlock()
}

// Close stops the worker after draining queued entries. Safe to call more
// than once; later Record calls drop to the local log.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := r.store.Append(ctx, &e)
		cancel()
		if err != nil {
			r.logLocal(e, "audit append failed: "+err.Error())
		}
	}
}

func (r *Recorder) logLocal(e Entry, msg string) {
	obs.LogRequest(map[string]any{
		"level":    "error",
		"type":     "audit",
		"msg":      msg,
		"action":   e.Action,
		"tenant":   e.TenantID,
		"actor":    e.ActorID,
		"outcome":  e.Outcome,
		"severity": e.Severity,
	})
}
