package domain

type SyncMetrics struct {
	SyncAttempts     int            `json:"syncAttempts"`
	SyncSuccesses    int            `json:"syncSuccesses"`
	AverageSyncDelta float64        `json:"averageSyncDelta"`
	LastSyncTime     int64          `json:"lastSyncTime"`
	NetworkQuality   NetworkQuality `json:"networkQuality"`
}

type UserSyncMetrics struct {
	UserId string `json:"userId"`
	SyncMetrics
}
