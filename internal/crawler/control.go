package crawler

import (
	"sync"
	"sync/atomic"
)

// ControlRequest is a cooperative instruction read by the crawl loop.
type ControlRequest int32

// Control requests. Stop outranks pause.
const (
	ControlNone ControlRequest = iota
	ControlPause
	ControlStop
)

func (r ControlRequest) String() string {
	switch r {
	case ControlPause:
		return "pause"
	case ControlStop:
		return "stop"
	default:
		return "none"
	}
}

// Control carries pause/stop requests to one running loop.
type Control struct {
	req  atomic.Int32
	done chan struct{}
}

func newControl() *Control {
	return &Control{done: make(chan struct{})}
}

// Requested returns the strongest pending request.
func (c *Control) Requested() ControlRequest {
	return ControlRequest(c.req.Load())
}

// Done is closed when the loop owning this control exits.
func (c *Control) Done() <-chan struct{} {
	return c.done
}

func (c *Control) request(r ControlRequest) {
	for {
		cur := c.req.Load()
		if ControlRequest(cur) >= r {
			return
		}
		if c.req.CompareAndSwap(cur, int32(r)) {
			return
		}
	}
}

// Controls is the process-wide registry of running loops keyed by run id.
type Controls struct {
	mu    sync.Mutex
	byRun map[string]*Control
}

// NewControls returns an empty registry.
func NewControls() *Controls {
	return &Controls{byRun: make(map[string]*Control)}
}

// Register creates the control for a loop about to run. It returns false when
// a loop for runID is already registered in this process.
func (c *Controls) Register(runID string) (*Control, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byRun[runID]; exists {
		return nil, false
	}
	ctrl := newControl()
	c.byRun[runID] = ctrl
	return ctrl, true
}

// Signal delivers r to the loop running runID and reports whether one exists.
func (c *Controls) Signal(runID string, r ControlRequest) (*Control, bool) {
	c.mu.Lock()
	ctrl, ok := c.byRun[runID]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	ctrl.request(r)
	return ctrl, true
}

// Release unregisters ctrl and closes its Done channel.
func (c *Controls) Release(runID string, ctrl *Control) {
	c.mu.Lock()
	if cur, ok := c.byRun[runID]; ok && cur == ctrl {
		delete(c.byRun, runID)
	}
	c.mu.Unlock()
	close(ctrl.done)
}

// Active reports whether a loop for runID is registered.
func (c *Controls) Active(runID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.byRun[runID]
	return ok
}
