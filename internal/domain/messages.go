package domain

type SyncRequest struct {
	RequesterId string `json:"requesterId"`
	Timestamp   *int64 `json:"timestamp,omitempty"`
}

type SyncResponse struct {
	Success       bool          `json:"success"`
	HostId        string        `json:"hostId"`
	PlaybackState PlaybackState `json:"playbackState"`
	Timestamp     int64         `json:"timestamp"`
}

type HostTransfer struct {
	PreviousHostId string `json:"previousHostId"`
	NewHostId      string `json:"newHostId"`
}

type NetworkQualityUpdate struct {
	UserId    string         `json:"userId"`
	Quality   NetworkQuality `json:"quality"`
	Timestamp *int64         `json:"timestamp,omitempty"`
}
