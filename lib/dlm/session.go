package dlm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/arannis-dev/qlock/lib/metrics"
	"github.com/arannis-dev/qlock/lib/store"
)

// Default lease and refresh cadence used when a Session is created without
// explicit overrides. The refresh period must never exceed half the lease
// duration, or a single missed refresh could let the lease expire before
// the next attempt.
const (
	DefaultLeaseDuration = 20 * time.Second
	DefaultRefreshPeriod = 5 * time.Second
)

// Option configures a Session at construction time.
type Option func(*Session)

// WithLeaseDuration overrides the default lease duration new Handles from
// this Session acquire with.
func WithLeaseDuration(d time.Duration) Option {
	return func(s *Session) { s.leaseDuration = d }
}

// WithRefreshPeriod overrides the default refresh cadence new Handles from
// this Session use.
func WithRefreshPeriod(d time.Duration) Option {
	return func(s *Session) { s.refreshPeriod = d }
}

// WithRetryInterval overrides how long Acquire waits between contention
// checks. Defaults to half the lease duration.
func WithRetryInterval(d time.Duration) Option {
	return func(s *Session) { s.retryInterval = d }
}

// WithAcquireTimeout sets the default acquire timeout new Handles use.
// Zero (the default) means Acquire only returns bounded by ctx.
func WithAcquireTimeout(d time.Duration) Option {
	return func(s *Session) { s.acquireTimeout = d }
}

// WithClock overrides the Session's time source. Intended for tests.
func WithClock(c Clock) Option {
	return func(s *Session) { s.clock = c }
}

// LockOption configures a single Handle at creation time, overriding the
// Session's defaults for that Handle only.
type LockOption func(*Handle)

// WithHandleLeaseDuration overrides the lease duration for one Handle.
func WithHandleLeaseDuration(d time.Duration) LockOption {
	return func(h *Handle) { h.leaseDuration = d }
}

// WithHandleRefreshPeriod overrides the refresh cadence for one Handle.
func WithHandleRefreshPeriod(d time.Duration) LockOption {
	return func(h *Handle) { h.refreshPeriod = d }
}

// WithHandleAcquireTimeout overrides the acquire timeout for one Handle.
func WithHandleAcquireTimeout(d time.Duration) LockOption {
	return func(h *Handle) { h.acquireTimeout = d }
}

// Session binds a store.Adapter to one table and owns the single background
// Refresher goroutine every Handle it creates shares.
type Session struct {
	table   string
	adapter store.Adapter
	clock   Clock

	leaseDuration  time.Duration
	refreshPeriod  time.Duration
	retryInterval  time.Duration
	acquireTimeout time.Duration

	refresher *refresher
	metrics   *metrics.Set

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewSession creates a Session bound to adapter and table. The Session owns
// a background goroutine; call Close when done with it.
func NewSession(adapter store.Adapter, table string, opts ...Option) (*Session, error) {
	s := &Session{
		table:         table,
		adapter:       adapter,
		clock:         NewSystemClock(),
		leaseDuration: DefaultLeaseDuration,
		refreshPeriod: DefaultRefreshPeriod,
		handles:       make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retryInterval == 0 {
		s.retryInterval = s.leaseDuration / 2
	}
	if s.leaseDuration < 2*s.refreshPeriod {
		return nil, NewError(CodeIllegalState, "lease duration must be at least twice the refresh period")
	}

	s.metrics = metrics.NewSet(table)
	s.refresher = newRefresher(adapter, s.clock, s.metrics)
	return s, nil
}

// GetSession is a convenience factory equivalent to NewSession. It is
// deliberately uncached: every call opens a fresh Session with its own
// Refresher goroutine, mirroring how the underlying store.Adapter is
// expected to be a cheap, already-connected client rather than something
// worth pooling here. Callers that want to reuse a Session across call
// sites must hold onto the returned value themselves.
func GetSession(adapter store.Adapter, table string, opts ...Option) (*Session, error) {
	return NewSession(adapter, table, opts...)
}

// Table returns the table name this Session is bound to.
func (s *Session) Table() string {
	return s.table
}

// CreateLock returns a new, unacquired Handle for name. It is an error to
// create a second Handle for a name that already has a live Handle in this
// Session; release or serialize the existing one first.
func (s *Session) CreateLock(name string, opts ...LockOption) (*Handle, error) {
	s.mu.Lock()
	if _, exists := s.handles[name]; exists {
		s.mu.Unlock()
		return nil, NewError(CodeAlreadyInUse, fmt.Sprintf("a handle for %q already exists in this session", name))
	}

	h := &Handle{
		session:        s,
		name:           name,
		leaseDuration:  s.leaseDuration,
		refreshPeriod:  s.refreshPeriod,
		retryInterval:  s.retryInterval,
		acquireTimeout: s.acquireTimeout,
		state:          stateFree,
	}
	for _, opt := range opts {
		opt(h)
	}

	s.handles[name] = h
	s.mu.Unlock()
	return h, nil
}

// DeserializeLock reconstructs a Handle from a blob produced by
// Handle.Serialize, taking over refreshing it immediately. The token must
// name this Session's table, or DeserializeLock fails with CodeWrongTable.
//
// Taking over is not just a local reconstruction: DeserializeLock issues a
// PutIfVersion against the store conditioned on the blob's version, which
// both proves the handoff is still current and rotates the fencing token
// before this Handle starts refreshing it. If the record was released,
// refreshed or stolen since Serialize produced the blob, that write
// conflicts and DeserializeLock fails with CodeAlreadyInUse instead of
// handing back a Handle that only believes it holds the lock.
func (s *Session) DeserializeLock(blob []byte) (*Handle, error) {
	dec := json.NewDecoder(bytes.NewReader(blob))
	dec.DisallowUnknownFields()
	var sl serializedLock
	if err := dec.Decode(&sl); err != nil {
		return nil, NewError(CodeMalformedToken, err.Error())
	}
	if sl.Name == "" || sl.Version == "" || sl.Lease <= 0 || sl.RefreshPeriod <= 0 {
		return nil, NewError(CodeMalformedToken, "token is missing required fields")
	}
	if sl.Table != s.table {
		return nil, NewError(CodeWrongTable, fmt.Sprintf("token is for table %q, session is bound to %q", sl.Table, s.table))
	}

	s.mu.Lock()
	if _, exists := s.handles[sl.Name]; exists {
		s.mu.Unlock()
		return nil, NewError(CodeAlreadyInUse, fmt.Sprintf("a handle for %q already exists in this session", sl.Name))
	}
	s.mu.Unlock()

	lease := time.Duration(sl.Lease) * time.Second
	refreshPeriod := time.Duration(sl.RefreshPeriod) * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	newVer, stolen, err := refreshLock(ctx, s.adapter, s.clock, sl.Name, lease, sl.Version)
	if stolen {
		return nil, NewError(CodeAlreadyInUse, "token is stale: the lock was released, refreshed or stolen before it could be redeemed")
	}
	if err != nil {
		return nil, err
	}

	h := &Handle{
		session:        s,
		name:           sl.Name,
		leaseDuration:  lease,
		refreshPeriod:  refreshPeriod,
		retryInterval:  s.retryInterval,
		acquireTimeout: s.acquireTimeout,
		state:          stateHeld,
		version:        newVer,
		refreshAt:      s.clock.Now().Add(refreshPeriod),
	}

	s.mu.Lock()
	if _, exists := s.handles[sl.Name]; exists {
		s.mu.Unlock()
		// Another DeserializeLock (or CreateLock) for the same name won the
		// race after our store write went through. Give back the token we
		// just rotated the record onto rather than leaking it unrefreshed.
		_ = releaseLock(context.Background(), s.adapter, sl.Name, newVer)
		return nil, NewError(CodeAlreadyInUse, fmt.Sprintf("a handle for %q already exists in this session", sl.Name))
	}
	s.handles[sl.Name] = h
	s.mu.Unlock()

	s.refresher.register(h)
	return h, nil
}

// forget removes name from the Session's live-handle registry. Called by a
// Handle when it stops being Held (Release, successful Serialize, or a
// detected steal).
func (s *Session) forget(name string) {
	s.mu.Lock()
	delete(s.handles, name)
	s.mu.Unlock()
}

// Close stops the Session's background Refresher. It does not release any
// currently held locks; callers that want a clean shutdown should Release
// their Handles first.
func (s *Session) Close() error {
	s.refresher.close()
	s.metrics.Unregister()
	return nil
}
