package progress

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_ReportsProgress(t *testing.T) {
	var (
		buf     bytes.Buffer
		reports []int64
	)

	pw := NewWriter(&buf, 10, 4, func(written, total int64) {
		assert.Equal(t, int64(10), total)
		reports = append(reports, written)
	})

	for _, chunk := range []string{"ab", "cd", "ef", "gh", "ij"} {
		_, err := pw.Write([]byte(chunk))
		require.NoError(t, err)
	}

	assert.Equal(t, "abcdefghij", buf.String())
	assert.Equal(t, int64(10), pw.Written())
	assert.Equal(t, []int64{4, 8}, reports)
}

func TestWriter_Stalled(t *testing.T) {
	pw := NewWriter(&bytes.Buffer{}, 0, 0, nil)

	assert.False(t, pw.Stalled(time.Hour))

	time.Sleep(20 * time.Millisecond)
	assert.True(t, pw.Stalled(10*time.Millisecond))

	_, err := pw.Write([]byte("x"))
	require.NoError(t, err)
	assert.False(t, pw.Stalled(10*time.Millisecond))
}
