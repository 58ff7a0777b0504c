package validator

import "time"

// passivationTimer gates the idle shutdown of a validator. It understands
// four inputs: Start and Stop (driven by the connected-client count),
// CommandReceived (any accepted command restarts the countdown), and the
// timeout firing on C.
type passivationTimer struct {
	timeout time.Duration
	timer   *time.Timer
	active  bool
}

func newPassivationTimer(timeout time.Duration) *passivationTimer {
	timer := time.NewTimer(timeout)
	stopTimer(timer)
	return &passivationTimer{timeout: timeout, timer: timer}
}

// Start arms the countdown. Called at construction and whenever the last
// client disconnects.
func (p *passivationTimer) Start() {
	p.active = true
	p.reset()
}

// Stop disarms the countdown while clients are connected.
func (p *passivationTimer) Stop() {
	p.active = false
	stopTimer(p.timer)
}

// CommandReceived restarts the countdown if it is armed.
func (p *passivationTimer) CommandReceived() {
	if p.active {
		p.reset()
	}
}

func (p *passivationTimer) C() <-chan time.Time {
	return p.timer.C
}

// Active reports whether a fire on C should passivate; a drain race after
// Stop must not.
func (p *passivationTimer) Active() bool {
	return p.active
}

func (p *passivationTimer) reset() {
	stopTimer(p.timer)
	p.timer.Reset(p.timeout)
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
