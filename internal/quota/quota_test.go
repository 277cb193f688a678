package quota

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const mb = 1000 * 1000

func TestTracker_RotationCadence(t *testing.T) {
	tracker := NewTracker(4500*mb, nil)

	var rotations int

	for _, size := range []int64{3000 * mb, 2000 * mb, 1000 * mb} {
		if tracker.ShouldRotate() {
			rotations++

			tracker.OnRotated()
		}

		tracker.Record(size)
	}

	assert.Equal(t, 1, rotations)
	assert.Equal(t, int64(1000*mb), tracker.BytesSinceRotation())
}

func TestTracker_ThresholdIsInclusive(t *testing.T) {
	tracker := NewTracker(100, nil)

	tracker.Record(99)
	assert.False(t, tracker.ShouldRotate())

	tracker.Record(1)
	assert.True(t, tracker.ShouldRotate())
}

func TestTracker_IgnoresNegativeAndZero(t *testing.T) {
	tracker := NewTracker(100, nil)

	tracker.Record(50)
	tracker.Record(-20)
	tracker.Record(0)

	assert.Equal(t, int64(50), tracker.BytesSinceRotation())
}

func TestTracker_ZeroThresholdNeverRotates(t *testing.T) {
	tracker := NewTracker(0, nil)

	tracker.Record(1 << 40)
	assert.False(t, tracker.ShouldRotate())
	assert.Equal(t, int64(0), tracker.Threshold())
}

func TestTracker_ForceRotation(t *testing.T) {
	tracker := NewTracker(0, nil)

	tracker.ForceRotation()
	assert.True(t, tracker.ShouldRotate())

	tracker.OnRotated()
	assert.False(t, tracker.ShouldRotate())
	assert.Equal(t, int64(0), tracker.BytesSinceRotation())
}
