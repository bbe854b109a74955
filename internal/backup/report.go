package backup

import (
	"github.com/nmuller/rosbak/internal/inventory"
)

// State tracks a router task through its lifecycle. Failed is terminal
// and reachable from any non-terminal state.
type State string

const (
	StatePending     State = "pending"
	StateConnecting  State = "connecting"
	StateListing     State = "listing"
	StateDownloading State = "downloading"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// RouterResult is the terminal outcome of one router's backup task.
type RouterResult struct {
	Router    inventory.Router
	State     State
	Err       error
	Artifacts []string
}

// Report tallies a whole run: one result per router plus the retention
// rename count.
type Report struct {
	Results []RouterResult
	Renamed int
}

// Failed returns the number of routers whose task ended in failure.
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.State == StateFailed {
			n++
		}
	}
	return n
}

// Succeeded returns the number of routers whose task completed.
func (r *Report) Succeeded() int {
	return len(r.Results) - r.Failed()
}
