// Package dlmtesting provides a shared test suite that exercises the dlm
// protocol against any store.Adapter implementation.
package dlmtesting

import (
	"context"
	"testing"
	"time"

	"github.com/arannis-dev/qlock/lib/dlm"
	"github.com/arannis-dev/qlock/lib/store"
)

// AdapterFactory creates a fresh, empty store.Adapter instance.
type AdapterFactory func() store.Adapter

const testTable = "dlm-protocol-test"

func newTestSession(t *testing.T, factory AdapterFactory, opts ...dlm.Option) *dlm.Session {
	t.Helper()
	defaultOpts := []dlm.Option{
		dlm.WithLeaseDuration(400 * time.Millisecond),
		dlm.WithRefreshPeriod(100 * time.Millisecond),
		dlm.WithRetryInterval(50 * time.Millisecond),
	}
	s, err := dlm.NewSession(factory(), testTable, append(defaultOpts, opts...)...)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// RunProtocolTests runs the full dlm protocol test suite against a
// store.Adapter produced by factory. Each subtest gets a fresh Adapter and
// Session so tests never observe each other's locks.
func RunProtocolTests(t *testing.T, name string, factory AdapterFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("MutualExclusion", func(t *testing.T) { testMutualExclusion(t, factory) })
		t.Run("NoSpuriousFailure", func(t *testing.T) { testNoSpuriousFailure(t, factory) })
		t.Run("VersionMonotonicity", func(t *testing.T) { testVersionMonotonicity(t, factory) })
		t.Run("ReleaseIdempotence", func(t *testing.T) { testReleaseIdempotence(t, factory) })
		t.Run("SerializeRoundTrip", func(t *testing.T) { testSerializeRoundTrip(t, factory) })
		t.Run("StealDetectability", func(t *testing.T) { testStealDetectability(t, factory) })

		t.Run("UncontendedAcquireRelease", func(t *testing.T) { testUncontendedAcquireRelease(t, factory) })
		t.Run("ContendedAcquireWaitsThenSucceeds", func(t *testing.T) { testContendedAcquireWaitsThenSucceeds(t, factory) })
		t.Run("StealAfterHolderDies", func(t *testing.T) { testStealAfterHolderDies(t, factory) })
		t.Run("SerializationHandoff", func(t *testing.T) { testSerializationHandoff(t, factory) })
		t.Run("SerializationWrongTable", func(t *testing.T) { testSerializationWrongTable(t, factory) })
		t.Run("SerializationRejectsStaleToken", func(t *testing.T) { testSerializationRejectsStaleToken(t, factory) })
		t.Run("MalformedToken", func(t *testing.T) { testMalformedToken(t, factory) })
		t.Run("AcquireTimeoutElapses", func(t *testing.T) { testAcquireTimeoutElapses(t, factory) })
	})
}

// --------------------------------------------------------------------------
// Invariants
// --------------------------------------------------------------------------

func testMutualExclusion(t *testing.T, factory AdapterFactory) {
	adapter := factory()
	s1, err := dlm.NewSession(adapter, testTable, dlm.WithLeaseDuration(2*time.Second), dlm.WithRefreshPeriod(1*time.Second))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s1.Close()
	s2, err := dlm.NewSession(adapter, testTable, dlm.WithLeaseDuration(2*time.Second), dlm.WithRefreshPeriod(1*time.Second))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s2.Close()

	ctx := context.Background()

	h1, err := s1.CreateLock("mutex-lock", dlm.WithHandleAcquireTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("CreateLock: %v", err)
	}
	if err := h1.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire should succeed: %v", err)
	}
	defer h1.Release(ctx)

	h2, err := s2.CreateLock("mutex-lock", dlm.WithHandleAcquireTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("CreateLock: %v", err)
	}
	if err := h2.Acquire(ctx); err == nil {
		h2.Release(ctx)
		t.Fatalf("second Acquire should have failed while the first is held")
	} else if !dlm.HasCode(err, dlm.CodeAcquireTimeout) {
		t.Fatalf("expected CodeAcquireTimeout, got %v", err)
	}
}

func testNoSpuriousFailure(t *testing.T, factory AdapterFactory) {
	s := newTestSession(t, factory)
	ctx := context.Background()

	h, err := s.CreateLock("no-spurious-failure")
	if err != nil {
		t.Fatalf("CreateLock: %v", err)
	}
	if err := h.Acquire(ctx); err != nil {
		t.Fatalf("Acquire on a free lock must not fail: %v", err)
	}
	if err := h.Release(ctx); err != nil {
		t.Fatalf("Release must not fail: %v", err)
	}
}

func testVersionMonotonicity(t *testing.T, factory AdapterFactory) {
	adapter := factory()
	s, err := dlm.NewSession(adapter, testTable, dlm.WithLeaseDuration(2*time.Second), dlm.WithRefreshPeriod(1*time.Second))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	h, err := s.CreateLock("version-monotonicity")
	if err != nil {
		t.Fatalf("CreateLock: %v", err)
	}
	if err := h.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	first, err := adapter.Get(ctx, "version-monotonicity")
	if err != nil || first == nil {
		t.Fatalf("Get after Acquire: %v", err)
	}

	blob, err := h.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	second, err := adapter.Get(ctx, "version-monotonicity")
	if err != nil || second == nil {
		t.Fatalf("Get after Serialize: %v", err)
	}

	if second.VersionNumber == first.VersionNumber {
		t.Fatalf("Serialize (which refreshes) must rotate the fencing token")
	}
	_ = blob
}

func testReleaseIdempotence(t *testing.T, factory AdapterFactory) {
	s := newTestSession(t, factory)
	ctx := context.Background()

	h, err := s.CreateLock("release-idempotence")
	if err != nil {
		t.Fatalf("CreateLock: %v", err)
	}
	if err := h.Release(ctx); err != nil {
		t.Fatalf("Release on a never-acquired handle must be a no-op: %v", err)
	}
	if err := h.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := h.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := h.Release(ctx); err != nil {
		t.Fatalf("second Release must also be a no-op: %v", err)
	}
}

func testSerializeRoundTrip(t *testing.T, factory AdapterFactory) {
	adapter := factory()
	sender, err := dlm.NewSession(adapter, testTable, dlm.WithLeaseDuration(2*time.Second), dlm.WithRefreshPeriod(1*time.Second))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sender.Close()
	receiver, err := dlm.NewSession(adapter, testTable, dlm.WithLeaseDuration(2*time.Second), dlm.WithRefreshPeriod(1*time.Second))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer receiver.Close()
	ctx := context.Background()

	h, err := sender.CreateLock("serialize-round-trip")
	if err != nil {
		t.Fatalf("CreateLock: %v", err)
	}
	if err := h.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	blob, err := h.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !h.IsHeld() {
		t.Fatalf("a Handle should still report IsHeld after Serialize")
	}

	received, err := receiver.DeserializeLock(blob)
	if err != nil {
		t.Fatalf("DeserializeLock: %v", err)
	}
	if !received.IsHeld() {
		t.Fatalf("a deserialized Handle should report held")
	}
	if received.Name() != h.Name() {
		t.Fatalf("deserialized handle name mismatch: got %q want %q", received.Name(), h.Name())
	}

	if err := received.Release(ctx); err != nil {
		t.Fatalf("Release on the deserialized handle: %v", err)
	}
}

func testStealDetectability(t *testing.T, factory AdapterFactory) {
	adapter := factory()
	victim, err := dlm.NewSession(adapter, testTable, dlm.WithLeaseDuration(80*time.Millisecond), dlm.WithRefreshPeriod(40*time.Millisecond))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer victim.Close()
	thief, err := dlm.NewSession(adapter, testTable, dlm.WithLeaseDuration(80*time.Millisecond), dlm.WithRefreshPeriod(40*time.Millisecond), dlm.WithRetryInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer thief.Close()
	ctx := context.Background()

	// The victim's own refresh period is an hour, so it abandons the lease.
	victimHandle, err := victim.CreateLock("steal-detectability", dlm.WithHandleRefreshPeriod(time.Hour))
	if err != nil {
		t.Fatalf("CreateLock: %v", err)
	}
	if err := victimHandle.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	thiefHandle, err := thief.CreateLock("steal-detectability", dlm.WithHandleAcquireTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("CreateLock: %v", err)
	}
	if err := thiefHandle.Acquire(ctx); err != nil {
		t.Fatalf("the thief should have stolen the abandoned lease: %v", err)
	}
	defer thiefHandle.Release(ctx)
}

// --------------------------------------------------------------------------
// Scenarios
// --------------------------------------------------------------------------

func testUncontendedAcquireRelease(t *testing.T, factory AdapterFactory) {
	s := newTestSession(t, factory)
	ctx := context.Background()

	h, err := s.CreateLock("uncontended")
	if err != nil {
		t.Fatalf("CreateLock: %v", err)
	}
	if err := h.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !h.IsHeld() {
		t.Fatalf("expected IsHeld after Acquire")
	}
	if err := h.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if h.IsHeld() {
		t.Fatalf("expected !IsHeld after Release")
	}
}

func testContendedAcquireWaitsThenSucceeds(t *testing.T, factory AdapterFactory) {
	adapter := factory()
	holder, err := dlm.NewSession(adapter, testTable, dlm.WithLeaseDuration(150*time.Millisecond), dlm.WithRefreshPeriod(30*time.Millisecond))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer holder.Close()
	waiter, err := dlm.NewSession(adapter, testTable, dlm.WithLeaseDuration(150*time.Millisecond), dlm.WithRefreshPeriod(30*time.Millisecond), dlm.WithRetryInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer waiter.Close()
	ctx := context.Background()

	h1, err := holder.CreateLock("contended")
	if err != nil {
		t.Fatalf("CreateLock: %v", err)
	}
	if err := h1.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	h2, err := waiter.CreateLock("contended", dlm.WithHandleAcquireTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("CreateLock: %v", err)
	}

	go func() {
		time.Sleep(60 * time.Millisecond)
		h1.Release(ctx)
	}()

	if err := h2.Acquire(ctx); err != nil {
		t.Fatalf("waiter should have acquired the lock after it was released: %v", err)
	}
	defer h2.Release(ctx)
}

func testStealAfterHolderDies(t *testing.T, factory AdapterFactory) {
	adapter := factory()
	victim, err := dlm.NewSession(adapter, testTable, dlm.WithLeaseDuration(60*time.Millisecond), dlm.WithRefreshPeriod(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	ctx := context.Background()

	h1, err := victim.CreateLock("holder-dies")
	if err != nil {
		t.Fatalf("CreateLock: %v", err)
	}
	if err := h1.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	victim.Close() // simulate the process dying: no more refreshes, no release

	successor, err := dlm.NewSession(adapter, testTable, dlm.WithLeaseDuration(60*time.Millisecond), dlm.WithRefreshPeriod(20*time.Millisecond), dlm.WithRetryInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer successor.Close()

	h2, err := successor.CreateLock("holder-dies", dlm.WithHandleAcquireTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("CreateLock: %v", err)
	}
	if err := h2.Acquire(ctx); err != nil {
		t.Fatalf("successor should have stolen the lock after the lease lapsed: %v", err)
	}
	defer h2.Release(ctx)
}

func testSerializationHandoff(t *testing.T, factory AdapterFactory) {
	testSerializeRoundTrip(t, factory)
}

func testSerializationWrongTable(t *testing.T, factory AdapterFactory) {
	adapter := factory()
	sender, err := dlm.NewSession(adapter, "table-a", dlm.WithLeaseDuration(2*time.Second), dlm.WithRefreshPeriod(1*time.Second))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sender.Close()
	other, err := dlm.NewSession(adapter, "table-b", dlm.WithLeaseDuration(2*time.Second), dlm.WithRefreshPeriod(1*time.Second))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer other.Close()
	ctx := context.Background()

	h, err := sender.CreateLock("wrong-table")
	if err != nil {
		t.Fatalf("CreateLock: %v", err)
	}
	if err := h.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	blob, err := h.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	if _, err := other.DeserializeLock(blob); err == nil {
		t.Fatalf("expected DeserializeLock to reject a token from a different table")
	} else if !dlm.HasCode(err, dlm.CodeWrongTable) {
		t.Fatalf("expected CodeWrongTable, got %v", err)
	}
}

// testSerializationRejectsStaleToken covers spec scenario 4: a second
// DeserializeLock on the same blob must fail with AlreadyInUse, and it must
// fail via the store's conditional write, not just the local per-Session
// handles map - two independent Sessions (standing in for two processes
// pulling the same handoff blob off a queue) both racing DeserializeLock
// against the same token must not both end up holding the lock.
func testSerializationRejectsStaleToken(t *testing.T, factory AdapterFactory) {
	adapter := factory()
	sender, err := dlm.NewSession(adapter, testTable, dlm.WithLeaseDuration(2*time.Second), dlm.WithRefreshPeriod(1*time.Second))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sender.Close()
	ctx := context.Background()

	h, err := sender.CreateLock("stale-token")
	if err != nil {
		t.Fatalf("CreateLock: %v", err)
	}
	if err := h.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	blob, err := h.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	first, err := dlm.NewSession(adapter, testTable, dlm.WithLeaseDuration(2*time.Second), dlm.WithRefreshPeriod(1*time.Second))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer first.Close()
	second, err := dlm.NewSession(adapter, testTable, dlm.WithLeaseDuration(2*time.Second), dlm.WithRefreshPeriod(1*time.Second))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer second.Close()

	redeemed, err := first.DeserializeLock(blob)
	if err != nil {
		t.Fatalf("first DeserializeLock should succeed: %v", err)
	}
	defer redeemed.Release(ctx)

	if _, err := second.DeserializeLock(blob); err == nil {
		t.Fatalf("expected the second DeserializeLock of the same token to fail")
	} else if !dlm.HasCode(err, dlm.CodeAlreadyInUse) {
		t.Fatalf("expected CodeAlreadyInUse, got %v", err)
	}
}

func testMalformedToken(t *testing.T, factory AdapterFactory) {
	s := newTestSession(t, factory)

	if _, err := s.DeserializeLock([]byte("not json")); err == nil {
		t.Fatalf("expected DeserializeLock to reject garbage input")
	} else if !dlm.HasCode(err, dlm.CodeMalformedToken) {
		t.Fatalf("expected CodeMalformedToken, got %v", err)
	}

	if _, err := s.DeserializeLock([]byte(`{"table":"dlm-protocol-test"}`)); err == nil {
		t.Fatalf("expected DeserializeLock to reject a token missing fields")
	} else if !dlm.HasCode(err, dlm.CodeMalformedToken) {
		t.Fatalf("expected CodeMalformedToken, got %v", err)
	}
}

func testAcquireTimeoutElapses(t *testing.T, factory AdapterFactory) {
	adapter := factory()
	holder, err := dlm.NewSession(adapter, testTable, dlm.WithLeaseDuration(2*time.Second), dlm.WithRefreshPeriod(200*time.Millisecond))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer holder.Close()
	waiter, err := dlm.NewSession(adapter, testTable, dlm.WithLeaseDuration(2*time.Second), dlm.WithRefreshPeriod(200*time.Millisecond), dlm.WithRetryInterval(300*time.Millisecond))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer waiter.Close()
	ctx := context.Background()

	h1, err := holder.CreateLock("acquire-timeout")
	if err != nil {
		t.Fatalf("CreateLock: %v", err)
	}
	if err := h1.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer h1.Release(ctx)

	h2, err := waiter.CreateLock("acquire-timeout", dlm.WithHandleAcquireTimeout(100*time.Millisecond))
	if err != nil {
		t.Fatalf("CreateLock: %v", err)
	}
	start := time.Now()
	err = h2.Acquire(ctx)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatalf("expected Acquire to time out while the lock is held with a long lease")
	}
	if !dlm.HasCode(err, dlm.CodeAcquireTimeout) {
		t.Fatalf("expected CodeAcquireTimeout, got %v", err)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("Acquire took %v, expected it to fail close to the 100ms acquire_timeout", elapsed)
	}
}
