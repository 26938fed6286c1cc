package ingest

import (
	"context"
	"time"

	"famtool-server/internal/metrics"
	"famtool-server/internal/model"
	"famtool-server/internal/store"

	backoff "github.com/cenkalti/backoff/v4"
)

// secondaryWrite retries a write whose primary counterpart already landed.
// When the retries run out the write is parked under DeadLetters for
// reconciliation; the primary is never rolled back.
func (r *Router) secondaryWrite(ctx context.Context, path string, value any) {
	attempts := 0
	op := func() error {
		attempts++
		return r.st.Set(ctx, path, value)
	}
	onRetry := func(err error, wait time.Duration) {
		r.logger.Warn().Err(err).Str("path", path).Dur("wait", wait).Int("attempt", attempts).Msg("secondary write failed, retrying")
	}

	err := backoff.RetryNotify(op, backoff.WithContext(r.retry(), ctx), onRetry)
	if err == nil {
		return
	}

	metrics.SecondaryWriteFailures.Inc()
	r.logger.Error().Err(err).Str("path", path).Int("attempts", attempts).Msg("secondary write dead-lettered")

	var payload map[string]any
	if n, nerr := store.Normalize(value); nerr == nil {
		payload, _ = n.(map[string]any)
	}
	letter := model.DeadLetter{
		Path:      path,
		Value:     payload,
		Error:     err.Error(),
		Attempts:  attempts,
		CreatedAt: r.now().UnixMilli(),
	}
	if _, derr := r.st.Push(ctx, model.DeadLettersRoot, letter); derr != nil {
		r.logger.Error().Err(derr).Str("path", path).Msg("dead letter write failed")
	}
}
