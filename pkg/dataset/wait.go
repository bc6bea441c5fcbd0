package dataset

import (
	"context"
	"time"

	"datasetclient/pkg/apperrors"
)

// Clock abstracts time for the polling loop.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Polling defaults used by callers that have no preference.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultWaitTimeout  = 5 * time.Minute
)

// WaitForExport polls an export until it reaches a terminal status.
//
// The first fetch happens immediately; later fetches are spaced exactly
// interval apart with no backoff. The deadline is checked before every
// non-initial fetch, so no fetch is issued once it has passed; the loop then
// fails with apperrors.ErrTimeout. A failed export is returned as a normal
// value. Cancelling ctx interrupts the sleep between polls.
func (c *Client) WaitForExport(ctx context.Context, id string, interval, deadline time.Duration) (ExportHandle, error) {
	if interval <= 0 {
		return ExportHandle{}, apperrors.Validation("interval", "poll interval must be positive")
	}
	if deadline <= 0 {
		return ExportHandle{}, apperrors.Validation("deadline", "wait deadline must be positive")
	}

	c.metrics.RecordWaitActive(ctx, 1)
	defer c.metrics.RecordWaitActive(ctx, -1)

	logger := c.logger.With("exportId", id)
	start := c.clock.Now()
	expires := start.Add(deadline)

	handle, err := c.GetExport(ctx, id)
	if err != nil {
		return ExportHandle{}, err
	}
	c.metrics.RecordExportPoll(ctx, string(handle.Status))

	for !handle.Status.Terminal() {
		if c.clock.Now().After(expires) {
			return c.timedOut(ctx, id, start)
		}
		logger.Debug("Export not finished, waiting", "status", handle.Status, "interval", interval)
		if err := c.clock.Sleep(ctx, interval); err != nil {
			return ExportHandle{}, err
		}
		if c.clock.Now().After(expires) {
			return c.timedOut(ctx, id, start)
		}

		handle, err = c.GetExport(ctx, id)
		if err != nil {
			return ExportHandle{}, err
		}
		c.metrics.RecordExportPoll(ctx, string(handle.Status))
	}

	elapsed := c.clock.Now().Sub(start)
	c.metrics.RecordExportTerminal(ctx, string(handle.Status), elapsed)
	if handle.Status == StatusFailed {
		logger.Warn("Export failed", "error", handle.Error, "elapsed", elapsed)
	} else {
		logger.Info("Export succeeded", "artifacts", len(handle.Artifacts), "elapsed", elapsed)
	}
	return handle, nil
}

func (c *Client) timedOut(ctx context.Context, id string, start time.Time) (ExportHandle, error) {
	elapsed := c.clock.Now().Sub(start)
	c.metrics.RecordExportTerminal(ctx, "timeout", elapsed)
	c.logger.Warn("Export wait timed out", "exportId", id, "elapsed", elapsed)
	return ExportHandle{}, apperrors.Timeout(id, elapsed)
}
