// Package lifecycle provides the shared graceful-stop polling pattern used
// by both the index daemon and the watcher: ask a component to stop, then
// poll whether it actually has, on a fixed schedule, falling back to a
// caller-supplied action if it hasn't within that window.
package lifecycle

import "time"

// pollInterval and pollAttempts match the five-attempts-at-100ms polling
// window used for every component that can be asked to stop but offers no
// hard-kill primitive.
const (
	pollInterval = 100 * time.Millisecond
	pollAttempts = 5
)

// Stop asks a component to stop (via requestStop), then polls isFinished on
// pollInterval up to pollAttempts times. If the component still hasn't
// finished by the last poll, onTimeout is invoked. Stop never forces
// termination itself; onTimeout is the caller's only hook for that.
func Stop(requestStop func(), isFinished func() bool, onTimeout func()) {
	requestStop()
	for i := 0; i < pollAttempts; i++ {
		time.Sleep(pollInterval)
		if isFinished() {
			return
		}
	}
	onTimeout()
}
