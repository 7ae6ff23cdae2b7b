package listener

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"cta-engine/internal/observability"
)

// Refresher rebuilds the in-memory CTA snapshot.
type Refresher interface {
	BuildSnapshot(ctx context.Context) error
}

const debounce = 200 * time.Millisecond

// ListenAndRefresh rebuilds the snapshot whenever the CTA tables change. It
// returns when ctx is done.
func ListenAndRefresh(ctx context.Context, pool *pgxpool.Pool, r Refresher, channel string, baseBackoff time.Duration) error {
	for {
		err := listen(ctx, pool, r, channel)
		if ctx.Err() != nil {
			log.Info().Msg("listener stopped")
			return nil
		}
		backoff := jitter(baseBackoff)
		log.Error().Err(err).Dur("retry_in", backoff).Msg("listen connection lost")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
	}
}

func listen(ctx context.Context, pool *pgxpool.Pool, r Refresher, channel string) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, "LISTEN "+channel); err != nil {
		return err
	}
	log.Info().Str("channel", channel).Msg("listening for DB changes")

	// changes made while we were not listening
	refresh(ctx, r)

	var lastRefresh time.Time
	for {
		ntf, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if time.Since(lastRefresh) < debounce {
			continue // burst of notifications
		}
		lastRefresh = time.Now()
		log.Info().Str("channel", ntf.Channel).Str("payload", ntf.Payload).Msg("db change; refreshing snapshot")
		refresh(ctx, r)
	}
}

func refresh(ctx context.Context, r Refresher) {
	if err := r.BuildSnapshot(ctx); err != nil {
		observability.SnapshotRefreshes.WithLabelValues("error").Inc()
		log.Error().Err(err).Msg("refresh snapshot error")
		return
	}
	observability.SnapshotRefreshes.WithLabelValues("ok").Inc()
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64() // 0.5x-1.5x
	return time.Duration(float64(base) * factor)
}

// PollAndRefresh rebuilds the snapshot every interval; used for sources that
// cannot notify, like the catalog file.
func PollAndRefresh(ctx context.Context, r Refresher, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			refresh(ctx, r)
		}
	}
}
