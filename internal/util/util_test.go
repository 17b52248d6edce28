package util

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatBytesFixedWidth(t *testing.T) {
	testCases := []struct {
		in   float64
		want string
	}{
		{0, " 0.0   B"},
		{99, "99.0   B"},
		{1536, " 1.5 KiB"},
		{100 * 1024, " 0.1 MiB"},
	}

	for _, tc := range testCases {
		got := formatBytes(tc.in)
		assert.Equal(t, tc.want, got)
		assert.Len(t, got, 8)
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00:00", FormatDuration(0))
	assert.Equal(t, "01:05", FormatDuration(65*time.Second))
	assert.Equal(t, "1:00:01", FormatDuration(time.Hour+time.Second))
}

func TestRandomUIDInRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		uid := RandomUID()
		assert.GreaterOrEqual(t, uid, uint32(1))
		assert.LessOrEqual(t, uid, uint32(MaxSessionUID))
	}
}

func TestSetLevel(t *testing.T) {
	assert.True(t, SetLevel("debug"))
	assert.True(t, SetLevel("info"))
	assert.False(t, SetLevel("verbose"))
}

func TestStatsProbeStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	StartStatsProbe(ctx, 5*time.Millisecond, func() (Traffic, error) {
		calls.Add(1)
		return Traffic{BytesSent: 1024, BytesRecv: 2048}, nil
	})

	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)
	n := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, calls.Load())
}

func TestStatsProbeWritesToLogFile(t *testing.T) {
	require.True(t, SetLevel("info"))
	path := filepath.Join(t.TempDir(), "duocall.log")
	closeLog := EnableFileLog(FileOptions{Path: path})
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartStatsProbe(ctx, 5*time.Millisecond, func() (Traffic, error) {
		return Traffic{BytesSent: 1024, BytesRecv: 2048}, nil
	})

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		return err == nil && strings.Contains(string(data), "Lost:")
	}, time.Second, 5*time.Millisecond)
}

func TestFileLogToggleWhileLogging(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				LogDebug("tick")
			}
		}()
	}

	for i := 0; i < 20; i++ {
		closeLog := EnableFileLog(FileOptions{Path: filepath.Join(dir, "toggle.log")})
		assert.NoError(t, closeLog())
	}
	cancel()
	wg.Wait()

	assert.Nil(t, fileLogger.Load())
}
