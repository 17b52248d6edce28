package util

import (
	"context"
	"fmt"
	"time"
)

// Traffic is a cumulative media counter sample.
type Traffic struct {
	BytesSent   uint64
	BytesRecv   uint64
	PacketsLost int64
}

// StartStatsProbe launches a goroutine that samples media traffic every
// interval and logs the per-second rates. It stops when ctx is cancelled.
func StartStatsProbe(ctx context.Context, interval time.Duration, sample func() (Traffic, error)) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev Traffic
		secs := interval.Seconds()
		for {
			select {
			case <-ticker.C:
				cur, err := sample()
				if err != nil {
					LogDebug("stats probe: %v", err)
					continue
				}

				outS := float64(delta(cur.BytesSent, prev.BytesSent)) / secs
				inS := float64(delta(cur.BytesRecv, prev.BytesRecv)) / secs
				lost := cur.PacketsLost - prev.PacketsLost

				LogInfo("%s", formatStats(inS, outS, lost))
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// delta tolerates counters that reset between samples.
func delta(cur, prev uint64) uint64 {
	if cur < prev {
		return cur
	}
	return cur - prev
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of a probe sample for the logger.
func formatStats(inS, outS float64, lost int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Lost: %d pkts",
		formatBytes(inS),
		formatBytes(outS),
		lost,
	)
}

// FormatDuration renders a call duration as mm:ss, or h:mm:ss past an hour.
func FormatDuration(d time.Duration) string {
	total := int(d / time.Second)
	h, m, s := total/3600, (total/60)%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
