package controller

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/sharetube/watchsync/internal/domain"
	"github.com/sharetube/watchsync/internal/service/session"
)

type AliveInput struct {
	Status domain.PresenceStatus `json:"status" validate:"omitempty,oneof=active inactive away"`
}

func (c controller) handleAlive(ctx context.Context, _ *websocket.Conn, input AliveInput) error {
	if err := c.validateInput(input); err != nil {
		return err
	}

	return c.sessionService.Heartbeat(ctx, &session.HeartbeatParams{
		SessionId: c.getSessionIdFromCtx(ctx),
		SenderId:  c.getUserIdFromCtx(ctx),
		Status:    input.Status,
	})
}

type SyncRequestInput struct {
	Timestamp *int64 `json:"timestamp" validate:"omitempty,gte=0"`
}

func (c controller) handleSyncRequest(ctx context.Context, _ *websocket.Conn, input SyncRequestInput) error {
	if err := c.validateInput(input); err != nil {
		return err
	}

	resp, err := c.sessionService.SyncRequest(ctx, &session.SyncRequestParams{
		SessionId: c.getSessionIdFromCtx(ctx),
		SenderId:  c.getUserIdFromCtx(ctx),
		Timestamp: input.Timestamp,
	})
	if err != nil {
		return err
	}

	if err := c.getConnFromCtx(ctx).WriteJSON(session.Output{
		Type:    "SYNC_RESPONSE",
		Payload: resp,
	}); err != nil {
		return fmt.Errorf("failed to write sync response: %w", err)
	}

	return nil
}

type UpdatePlaybackInput struct {
	IsPlaying    bool    `json:"isPlaying"`
	CurrentTime  float64 `json:"currentTime" validate:"gte=0"`
	Buffering    bool    `json:"buffering"`
	Seeking      bool    `json:"seeking"`
	PlaybackRate float64 `json:"playbackRate" validate:"gte=0,max=16"`
	Timestamp    int64   `json:"timestamp" validate:"gte=0"`
	HostId       string  `json:"hostId" validate:"max=64"`
}

func (c controller) handleUpdatePlayback(ctx context.Context, _ *websocket.Conn, input UpdatePlaybackInput) error {
	if err := c.validateInput(input); err != nil {
		return err
	}

	return c.sessionService.UpdatePlayback(ctx, &session.UpdatePlaybackParams{
		SessionId: c.getSessionIdFromCtx(ctx),
		SenderId:  c.getUserIdFromCtx(ctx),
		State: domain.PlaybackState{
			IsPlaying:    input.IsPlaying,
			CurrentTime:  input.CurrentTime,
			Buffering:    input.Buffering,
			Seeking:      input.Seeking,
			PlaybackRate: input.PlaybackRate,
			Timestamp:    input.Timestamp,
			HostId:       input.HostId,
		},
	})
}

type ReportPositionInput struct {
	ObservedTime float64 `json:"observedTime" validate:"gte=0"`
	Timestamp    int64   `json:"timestamp" validate:"gte=0"`
}

// handleReportPosition forwards a viewer position. A correction, if any, reaches
// the viewer as a SYNC_CORRECTION push.
func (c controller) handleReportPosition(ctx context.Context, _ *websocket.Conn, input ReportPositionInput) error {
	if err := c.validateInput(input); err != nil {
		return err
	}

	_, err := c.sessionService.ReportPosition(ctx, &session.ReportPositionParams{
		SessionId:    c.getSessionIdFromCtx(ctx),
		SenderId:     c.getUserIdFromCtx(ctx),
		ObservedTime: input.ObservedTime,
		Timestamp:    input.Timestamp,
	})

	return err
}

type TransferHostInput struct {
	PreviousHostId string `json:"previousHostId" validate:"max=64"`
	NewHostId      string `json:"newHostId" validate:"required,max=64"`
}

func (c controller) handleTransferHost(ctx context.Context, _ *websocket.Conn, input TransferHostInput) error {
	if err := c.validateInput(input); err != nil {
		return err
	}

	return c.sessionService.TransferHost(ctx, &session.TransferHostParams{
		SessionId:      c.getSessionIdFromCtx(ctx),
		SenderId:       c.getUserIdFromCtx(ctx),
		PreviousHostId: input.PreviousHostId,
		NewHostId:      input.NewHostId,
	})
}

type UpdateNetworkQualityInput struct {
	UserId    string                `json:"userId" validate:"max=64"`
	Quality   domain.NetworkQuality `json:"quality" validate:"required,oneof=good fair poor"`
	Timestamp *int64                `json:"timestamp" validate:"omitempty,gte=0"`
}

func (c controller) handleUpdateNetworkQuality(ctx context.Context, _ *websocket.Conn, input UpdateNetworkQualityInput) error {
	if err := c.validateInput(input); err != nil {
		return err
	}

	_, err := c.sessionService.UpdateNetworkQuality(ctx, &session.UpdateNetworkQualityParams{
		SessionId: c.getSessionIdFromCtx(ctx),
		SenderId:  c.getUserIdFromCtx(ctx),
		UserId:    input.UserId,
		Quality:   input.Quality,
		Timestamp: input.Timestamp,
	})

	return err
}
