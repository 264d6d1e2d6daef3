package session

type CreateSessionParams struct {
	SessionId string
	CreatedAt int64
}

type SetPlaybackParams struct {
	SessionId string
	Playback  Playback
}

// UpdateMetricsParams updates only the non-nil fields.
type UpdateMetricsParams struct {
	SessionId        string
	SyncAttempts     *int
	SyncSuccesses    *int
	AverageSyncDelta *float64
	LastSyncTime     *int64
	NetworkQuality   *string
}
