package quota

import (
	"sync"

	"github.com/italolelis/mega_downloader/internal/telemetry"
)

// Tracker accounts the bytes transferred from the current network identity and decides
// when the identity must be rotated. A zero threshold disables rotation.
type Tracker struct {
	mu                 sync.Mutex
	threshold          int64
	bytesSinceRotation int64
	forced             bool
	telemetry          *telemetry.Telemetry
}

func NewTracker(threshold int64, tel *telemetry.Telemetry) *Tracker {
	if threshold < 0 {
		threshold = 0
	}

	return &Tracker{threshold: threshold, telemetry: tel}
}

// Record adds n completed bytes. Negative values are ignored.
func (t *Tracker) Record(n int64) {
	if n <= 0 {
		return
	}

	t.mu.Lock()
	t.bytesSinceRotation += n
	current := t.bytesSinceRotation
	t.mu.Unlock()

	t.telemetry.RecordQuota(current)
}

// ShouldRotate reports whether the threshold has been reached or a rotation was forced.
func (t *Tracker) ShouldRotate() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.forced {
		return true
	}

	return t.threshold > 0 && t.bytesSinceRotation >= t.threshold
}

// ForceRotation makes the next ShouldRotate true regardless of the byte count. Used when
// the remote service reports the transfer quota as exhausted before the threshold.
func (t *Tracker) ForceRotation() {
	t.mu.Lock()
	t.forced = true
	t.mu.Unlock()
}

// OnRotated resets the counter after a successful rotation.
func (t *Tracker) OnRotated() {
	t.mu.Lock()
	t.bytesSinceRotation = 0
	t.forced = false
	t.mu.Unlock()

	t.telemetry.RecordQuota(0)
}

func (t *Tracker) BytesSinceRotation() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.bytesSinceRotation
}

func (t *Tracker) Threshold() int64 {
	return t.threshold
}
