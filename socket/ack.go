package socket

import (
	"sync"
	"time"

	"github.com/wfunc/gamesync/timer"
)

type pending struct {
	id      string
	data    []byte
	tries   int
	timerID int64
}

// ackTracker resends reliable messages until they are acknowledged or the
// retry budget is spent. Resends run on timer goroutines.
type ackTracker struct {
	timers  *timer.TimerManager
	timeout time.Duration
	retries int
	resend  func(id string, data []byte) error
	giveUp  func(id string)

	mutex   sync.Mutex
	pending map[string]*pending
}

func newAckTracker(timers *timer.TimerManager, timeout time.Duration, retries int) *ackTracker {
	return &ackTracker{
		timers:  timers,
		timeout: timeout,
		retries: retries,
		pending: make(map[string]*pending),
	}
}

// useTimers swaps the timer manager, stopping the previous one.
func (a *ackTracker) useTimers(timers *timer.TimerManager) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	for id, p := range a.pending {
		a.timers.RemoveTimer(p.timerID)
		delete(a.pending, id)
	}
	if a.timers != nil {
		a.timers.Stop()
	}
	a.timers = timers
}

func (a *ackTracker) track(id string, data []byte) {
	if a.timeout <= 0 {
		return
	}
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.timers == nil {
		return
	}
	if _, ok := a.pending[id]; ok {
		return
	}
	p := &pending{id: id, data: data}
	p.timerID = a.timers.AddTimer(a.timeout, a.timeout, func() { a.expire(id) })
	a.pending[id] = p
}

func (a *ackTracker) expire(id string) {
	a.mutex.Lock()
	p, ok := a.pending[id]
	if !ok {
		a.mutex.Unlock()
		return
	}
	p.tries++
	if p.tries > a.retries {
		a.timers.RemoveTimer(p.timerID)
		delete(a.pending, id)
		a.mutex.Unlock()
		if a.giveUp != nil {
			a.giveUp(id)
		}
		return
	}
	data := p.data
	a.mutex.Unlock()

	if a.resend != nil {
		a.resend(id, data)
	}
}

// resolve drops the pending send acknowledged by id.
func (a *ackTracker) resolve(id string) bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	p, ok := a.pending[id]
	if !ok {
		return false
	}
	a.timers.RemoveTimer(p.timerID)
	delete(a.pending, id)
	return true
}

func (a *ackTracker) reset() {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	for id, p := range a.pending {
		a.timers.RemoveTimer(p.timerID)
		delete(a.pending, id)
	}
}

func (a *ackTracker) len() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return len(a.pending)
}
