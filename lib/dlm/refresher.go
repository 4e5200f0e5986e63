package dlm

import (
	"context"
	"time"

	"github.com/arannis-dev/qlock/lib/db/util"
	"github.com/arannis-dev/qlock/lib/dlm/internal/deadlineheap"
	"github.com/arannis-dev/qlock/lib/metrics"
	"github.com/arannis-dev/qlock/lib/store"
)

type refresherCmdKind uint8

const (
	cmdRegister refresherCmdKind = iota
	cmdUnregister
)

type refresherCmd struct {
	kind   refresherCmdKind
	handle *Handle
	name   string
}

// refresher is the single background goroutine a Session uses to keep every
// currently held Handle's lease alive. Every Handle belonging to the same
// Session shares this one goroutine rather than running its own timer, so a
// Session with a thousand held locks still makes one refresh decision at a
// time off one deadline-ordered heap.
type refresher struct {
	adapter store.Adapter
	clock   Clock
	metrics *metrics.Set

	cmds *util.LockFreeMPSC[refresherCmd]
	stop chan struct{}
	done chan struct{}
}

func newRefresher(adapter store.Adapter, clock Clock, m *metrics.Set) *refresher {
	r := &refresher{
		adapter: adapter,
		clock:   clock,
		metrics: m,
		cmds:    util.NewLockFreeMPSC[refresherCmd](),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// register starts refreshing h on its configured cadence. Safe to call from
// any goroutine.
func (r *refresher) register(h *Handle) {
	r.cmds.Push(&refresherCmd{kind: cmdRegister, handle: h, name: h.name})
}

// unregister stops refreshing the handle tracked under name, if any. Safe to
// call from any goroutine.
func (r *refresher) unregister(name string) {
	r.cmds.Push(&refresherCmd{kind: cmdUnregister, name: name})
}

// close stops the background goroutine and waits for it to exit.
func (r *refresher) close() {
	close(r.stop)
	<-r.done
	r.cmds.Close()
}

func (r *refresher) run() {
	defer close(r.done)

	deadlines := deadlineheap.New[string]()
	tracked := make(map[string]*Handle)

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	timerArmed := false

	rearm := func() {
		if timerArmed && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timerArmed = false

		_, deadline, ok := deadlines.Peek()
		if !ok {
			return
		}
		wait := time.Duration(deadline) - time.Duration(r.clock.Now().UnixNano())
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
		timerArmed = true
	}

	for {
		select {
		case <-r.stop:
			return

		case cmd, ok := <-r.cmds.Recv():
			if !ok {
				return
			}
			switch cmd.kind {
			case cmdRegister:
				tracked[cmd.handle.name] = cmd.handle
				deadlines.Upsert(cmd.handle.name, cmd.handle.nextDeadline().UnixNano())
			case cmdUnregister:
				delete(tracked, cmd.name)
				deadlines.Remove(cmd.name)
			}
			rearm()

		case <-timer.C:
			timerArmed = false
			now := r.clock.Now().UnixNano()

			for {
				name, deadline, ok := deadlines.Peek()
				if !ok || deadline > now {
					break
				}
				h, isTracked := tracked[name]
				if !isTracked {
					deadlines.Remove(name)
					continue
				}

				r.refreshOne(h)

				if !h.isTracked() {
					deadlines.Remove(name)
					delete(tracked, name)
					continue
				}
				deadlines.Upsert(name, h.nextDeadline().UnixNano())
			}
			rearm()
		}
	}
}

// refreshOne reissues h's lease. refreshLock already retries a Transient
// store immediately, a bounded number of times, and reports the lease Stolen
// if that budget runs out, so any error still reaching here is not worth
// retrying before the next scheduled attempt.
func (r *refresher) refreshOne(h *Handle) {
	version, lease, ok := h.snapshotForRefresh()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	newVer, stolen, err := refreshLock(ctx, r.adapter, r.clock, h.name, lease, version)
	r.metrics.ObserveRefresh(err != nil, stolen)
	if err != nil {
		return
	}
	if stolen {
		h.markStolen()
		return
	}
	h.applyRefresh(newVer)
}
