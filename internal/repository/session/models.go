package session

type Session struct {
	CreatedAt int64 `redis:"created_at"`
}

type Playback struct {
	IsPlaying    bool    `redis:"is_playing"`
	CurrentTime  float64 `redis:"current_time"`
	Buffering    bool    `redis:"buffering"`
	Seeking      bool    `redis:"seeking"`
	PlaybackRate float64 `redis:"playback_rate"`
	Timestamp    int64   `redis:"timestamp"`
	HostId       string  `redis:"host_id"`
}

type Metrics struct {
	SyncAttempts     int     `redis:"sync_attempts"`
	SyncSuccesses    int     `redis:"sync_successes"`
	AverageSyncDelta float64 `redis:"average_sync_delta"`
	LastSyncTime     int64   `redis:"last_sync_time"`
	NetworkQuality   string  `redis:"network_quality"`
}
