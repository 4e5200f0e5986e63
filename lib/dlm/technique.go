package dlm

import (
	"context"
	"time"

	"github.com/arannis-dev/qlock/lib/store"
)

// The version-lease technique: acquire loops between an optimistic
// PutIfAbsent and, on contention, a steal-detection cycle that sleeps for
// the smaller of the retry interval and the current holder's lease, then
// checks whether the holder refreshed in the meantime. Refresh and release
// are single conditional writes gated on the caller's current fencing
// token. A refresh that keeps hitting a Transient store is retried
// immediately, a small bounded number of times, before it gives up and
// reports the lease as Stolen - the caller cannot tell a store that is
// merely flaky apart from one that dropped the lease entirely.
const refreshRetryLimit = 3

// acquireLock repeatedly attempts to create a lock record for name, waiting
// out and stealing from stale holders as necessary, until it succeeds or
// acquireTimeout elapses. acquireTimeout <= 0 means wait indefinitely
// (bounded only by ctx).
func acquireLock(
	ctx context.Context,
	adapter store.Adapter,
	clk Clock,
	name string,
	leaseDuration time.Duration,
	retryInterval time.Duration,
	acquireTimeout time.Duration,
) (version string, stole bool, err error) {
	unbounded := acquireTimeout <= 0
	var deadline time.Time
	if !unbounded {
		deadline = clk.Now().Add(acquireTimeout)
	}

	for {
		select {
		case <-ctx.Done():
			return "", false, NewError(CodeAcquireTimeout, ctx.Err().Error())
		default:
		}

		candidate := clk.NewVersion()
		rec := store.Record{
			LockKey:        name,
			LeaseDuration:  int64(leaseDuration.Seconds()),
			VersionNumber:  candidate,
			HostIdentifier: clk.HostID(),
		}

		err := adapter.PutIfAbsent(ctx, name, rec)
		if err == nil {
			return candidate, false, nil
		}
		if !store.IsConflict(err) {
			return "", false, NewError(CodeTransient, err.Error())
		}

		current, gerr := adapter.Get(ctx, name)
		if gerr != nil {
			return "", false, NewError(CodeTransient, gerr.Error())
		}
		if current == nil {
			// The holder released between our failed PutIfAbsent and this
			// read. Retry immediately.
			continue
		}

		sleepFor := retryInterval
		if holderLease := time.Duration(current.LeaseDuration) * time.Second; holderLease < sleepFor {
			sleepFor = holderLease
		}

		if !unbounded && clk.Now().Add(sleepFor).After(deadline) {
			return "", false, NewError(CodeAcquireTimeout, "acquire_timeout exceeded before the next retry")
		}

		select {
		case <-ctx.Done():
			return "", false, NewError(CodeAcquireTimeout, ctx.Err().Error())
		case <-time.After(sleepFor):
		}

		after, gerr := adapter.Get(ctx, name)
		if gerr != nil {
			return "", false, NewError(CodeTransient, gerr.Error())
		}
		if after == nil || after.VersionNumber != current.VersionNumber {
			// Released, refreshed, or stolen by someone else while we slept.
			continue
		}

		// The record is exactly as stale as when we last saw it: steal it.
		stolenVersion := clk.NewVersion()
		newRec := store.Record{
			LockKey:        name,
			LeaseDuration:  int64(leaseDuration.Seconds()),
			VersionNumber:  stolenVersion,
			HostIdentifier: clk.HostID(),
		}
		serr := adapter.PutIfVersion(ctx, name, newRec, current.VersionNumber)
		if serr == nil {
			return stolenVersion, true, nil
		}
		if store.IsConflict(serr) {
			continue
		}
		return "", false, NewError(CodeTransient, serr.Error())
	}
}

// refreshLock reissues the record at name with a fresh fencing token,
// conditioned on currentVersion still being current. If the store reports a
// conflict, the lock has been stolen out from under the caller. A Transient
// failure is retried immediately up to refreshRetryLimit times; exhausting
// that budget is reported as stolen, since the caller has no way to
// distinguish a lease that lapsed while the store was unreachable from one
// actually taken by someone else.
func refreshLock(ctx context.Context, adapter store.Adapter, clk Clock, name string, leaseDuration time.Duration, currentVersion string) (newVer string, stolen bool, err error) {
	next := clk.NewVersion()
	rec := store.Record{
		LockKey:        name,
		LeaseDuration:  int64(leaseDuration.Seconds()),
		VersionNumber:  next,
		HostIdentifier: clk.HostID(),
	}

	for attempt := 0; ; attempt++ {
		werr := adapter.PutIfVersion(ctx, name, rec, currentVersion)
		if werr == nil {
			return next, false, nil
		}
		if store.IsConflict(werr) {
			return "", true, nil
		}
		if !store.IsTransient(werr) {
			return "", false, NewError(CodeTransient, werr.Error())
		}
		if attempt >= refreshRetryLimit {
			return "", true, nil
		}
		if ctx.Err() != nil {
			return "", false, NewError(CodeTransient, ctx.Err().Error())
		}
	}
}

// releaseLock deletes the record at name, conditioned on currentVersion.
// A conflict (already gone, refreshed by someone else, or stolen) is a
// no-op: release is idempotent by design.
func releaseLock(ctx context.Context, adapter store.Adapter, name string, currentVersion string) error {
	err := adapter.DeleteIfVersion(ctx, name, currentVersion)
	if err == nil {
		return nil
	}
	if store.IsConflict(err) {
		return nil
	}
	return NewError(CodeTransient, err.Error())
}
