package dlm

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"
)

type handleState uint8

const (
	stateFree handleState = iota
	stateHeld
	stateStolen
	stateDetached // held elsewhere after Serialize(); no longer refreshed locally
)

// Handle represents one caller's claim on a named lock within a Session's
// table. A Handle is not safe to Acquire concurrently from multiple
// goroutines, but its state can be inspected (IsHeld) and it can be
// Released from any goroutine.
type Handle struct {
	mu      sync.Mutex
	session *Session
	name    string

	leaseDuration  time.Duration
	refreshPeriod  time.Duration
	retryInterval  time.Duration
	acquireTimeout time.Duration

	state     handleState
	version   string
	refreshAt time.Time
}

// Name returns the logical lock name this Handle is bound to.
func (h *Handle) Name() string {
	return h.name
}

// LeaseDuration returns the lease duration this Handle acquires with.
func (h *Handle) LeaseDuration() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaseDuration
}

// IsHeld reports whether this Handle currently believes it holds the lock.
// After Serialize(), this keeps returning true until the deserializing
// session proves ownership by acquiring or refreshing the record itself -
// this Handle has no way to observe that happening.
func (h *Handle) IsHeld() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == stateHeld || h.state == stateDetached
}

// Acquire blocks until the lock is obtained, ctx is cancelled, or the
// Handle's configured acquire timeout elapses. Acquiring an already-held
// Handle returns a *Error with Code CodeIllegalState.
func (h *Handle) Acquire(ctx context.Context) error {
	h.mu.Lock()
	if h.state == stateHeld {
		h.mu.Unlock()
		return NewError(CodeIllegalState, "handle is already held")
	}
	h.mu.Unlock()

	start := h.session.clock.Now()
	version, stole, err := acquireLock(ctx, h.session.adapter, h.session.clock, h.name, h.leaseDuration, h.retryInterval, h.acquireTimeout)
	elapsed := h.session.clock.Now().Sub(start).Seconds()

	if err != nil {
		h.session.metrics.ObserveAcquire(elapsed, false, HasCode(err, CodeAcquireTimeout))
		return err
	}

	h.mu.Lock()
	h.state = stateHeld
	h.version = version
	h.refreshAt = h.session.clock.Now().Add(h.refreshPeriod)
	h.mu.Unlock()

	h.session.metrics.ObserveAcquire(elapsed, stole, false)
	h.session.refresher.register(h)
	return nil
}

// Release gives up the lock. Releasing a Handle that is not currently held
// (Free, Stolen, or already detached via Serialize) is a no-op - release is
// always idempotent.
func (h *Handle) Release(ctx context.Context) error {
	h.mu.Lock()
	if h.state != stateHeld {
		h.mu.Unlock()
		return nil
	}
	version := h.version
	h.state = stateFree
	h.mu.Unlock()

	h.session.refresher.unregister(h.name)
	h.session.forget(h.name)
	h.session.metrics.ObserveRelease()

	return releaseLock(ctx, h.session.adapter, h.name, version)
}

// ScopedUse acquires the lock, runs fn, and releases the lock afterwards
// regardless of whether fn returns an error. If Acquire fails, fn is never
// called.
func (h *Handle) ScopedUse(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := h.Acquire(ctx); err != nil {
		return err
	}
	defer h.Release(ctx)
	return fn(ctx)
}

// serializedLock is the wire format produced by Serialize and consumed by
// Session.DeserializeLock.
type serializedLock struct {
	Table         string `json:"table"`
	Name          string `json:"name"`
	Version       string `json:"version"`
	Lease         int64  `json:"lease"`
	RefreshPeriod int64  `json:"refresh_period"`
}

// Serialize detaches this Handle from its Session's Refresher and encodes
// it as a JSON blob another process can hand to Session.DeserializeLock to
// take over ownership.
//
// Serialize implies detach: once this call returns successfully, this
// Handle no longer refreshes the lock, and further calls to Release are
// no-ops. Serialize refreshes the lock one last time before encoding it, to
// give the receiving process the longest possible window to complete the
// handoff.
func (h *Handle) Serialize() ([]byte, error) {
	h.mu.Lock()
	if h.state != stateHeld {
		h.mu.Unlock()
		return nil, NewError(CodeIllegalState, "handle is not held")
	}
	name, lease, refreshPeriod, version := h.name, h.leaseDuration, h.refreshPeriod, h.version
	h.mu.Unlock()

	h.session.refresher.unregister(name)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	newVer, stolen, err := refreshLock(ctx, h.session.adapter, h.session.clock, name, lease, version)

	h.mu.Lock()
	defer h.mu.Unlock()

	if stolen {
		h.state = stateStolen
		h.session.forget(name)
		return nil, NewError(CodeIllegalState, "lock was stolen before it could be serialized")
	}
	if err != nil {
		// refreshLock already exhausted its own Transient retry budget
		// (that case comes back as stolen, above), so this is a
		// non-retryable failure. The handle is still held but was already
		// unregistered from the background refresher; re-register it so it
		// keeps being refreshed instead of silently expiring.
		h.session.refresher.register(h)
		return nil, err
	}

	h.version = newVer
	h.state = stateDetached
	h.session.forget(name)

	blob := serializedLock{
		Table:         h.session.table,
		Name:          name,
		Version:       newVer,
		Lease:         int64(lease.Seconds()),
		RefreshPeriod: int64(refreshPeriod.Seconds()),
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(blob); err != nil {
		return nil, NewError(CodeInternal, err.Error())
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// --------------------------------------------------------------------------
// Refresher-facing accessors. These are called from the Session's single
// background goroutine and are mutex-guarded like every other Handle
// method.
// --------------------------------------------------------------------------

func (h *Handle) nextDeadline() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refreshAt
}

func (h *Handle) isTracked() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == stateHeld
}

func (h *Handle) snapshotForRefresh() (version string, lease time.Duration, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != stateHeld {
		return "", 0, false
	}
	return h.version, h.leaseDuration, true
}

func (h *Handle) applyRefresh(newVer string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != stateHeld {
		return
	}
	h.version = newVer
	h.refreshAt = h.session.clock.Now().Add(h.refreshPeriod)
}

func (h *Handle) markStolen() {
	h.mu.Lock()
	if h.state == stateHeld {
		h.state = stateStolen
	}
	h.mu.Unlock()
	h.session.forget(h.name)
}
