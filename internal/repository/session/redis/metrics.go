package redis

import (
	"context"
	"fmt"

	"github.com/sharetube/watchsync/internal/repository/session"
	omitnilpointers "github.com/sharetube/watchsync/pkg/omit-nil-pointers"
)

func (r repo) UpdateMetrics(ctx context.Context, params *session.UpdateMetricsParams) error {
	fields := omitnilpointers.OmitNilPointers(map[string]any{
		"sync_attempts":      params.SyncAttempts,
		"sync_successes":     params.SyncSuccesses,
		"average_sync_delta": params.AverageSyncDelta,
		"last_sync_time":     params.LastSyncTime,
		"network_quality":    params.NetworkQuality,
	})
	if len(fields) == 0 {
		return nil
	}

	metricsKey := r.getMetricsKey(params.SessionId)
	pipe := r.rc.TxPipeline()
	pipe.HSet(ctx, metricsKey, fields)
	pipe.Expire(ctx, metricsKey, r.expireDuration)

	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to update metrics: %w", err)
	}

	return nil
}

func (r repo) GetMetrics(ctx context.Context, sessionId string) (session.Metrics, error) {
	res := r.rc.HGetAll(ctx, r.getMetricsKey(sessionId))
	if err := res.Err(); err != nil {
		return session.Metrics{}, fmt.Errorf("failed to get metrics: %w", err)
	}
	if len(res.Val()) == 0 {
		return session.Metrics{}, session.ErrMetricsNotFound
	}

	var metrics session.Metrics
	if err := res.Scan(&metrics); err != nil {
		return session.Metrics{}, fmt.Errorf("failed to scan metrics: %w", err)
	}

	return metrics, nil
}
