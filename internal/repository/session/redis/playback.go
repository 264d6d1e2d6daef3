package redis

import (
	"context"
	"fmt"

	"github.com/sharetube/watchsync/internal/repository/session"
)

func (r repo) SetPlayback(ctx context.Context, params *session.SetPlaybackParams) error {
	playbackKey := r.getPlaybackKey(params.SessionId)

	pipe := r.rc.TxPipeline()
	pipe.HSet(ctx, playbackKey, params.Playback)
	pipe.Expire(ctx, playbackKey, r.expireDuration)
	pipe.Expire(ctx, r.getSessionKey(params.SessionId), r.expireDuration)

	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to set playback: %w", err)
	}

	return nil
}

func (r repo) GetPlayback(ctx context.Context, sessionId string) (session.Playback, error) {
	playbackKey := r.getPlaybackKey(sessionId)
	res := r.rc.HGetAll(ctx, playbackKey)
	if err := res.Err(); err != nil {
		return session.Playback{}, fmt.Errorf("failed to get playback: %w", err)
	}
	if len(res.Val()) == 0 {
		return session.Playback{}, session.ErrPlaybackNotFound
	}

	var playback session.Playback
	if err := res.Scan(&playback); err != nil {
		return session.Playback{}, fmt.Errorf("failed to scan playback: %w", err)
	}

	return playback, nil
}
