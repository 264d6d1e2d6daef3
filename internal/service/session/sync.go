package session

import (
	"context"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sharetube/watchsync/internal/domain"
)

func (s *service) SyncRequest(ctx context.Context, params *SyncRequestParams) (domain.SyncResponse, error) {
	c, err := s.get(params.SessionId)
	if err != nil {
		return domain.SyncResponse{}, err
	}

	resp, err := c.OnSyncRequest(domain.SyncRequest{
		RequesterId: params.SenderId,
		Timestamp:   params.Timestamp,
	})
	if err != nil {
		return domain.SyncResponse{}, fmt.Errorf("failed to sync: %w", err)
	}

	return resp, nil
}

// UpdatePlayback applies a host playback update and persists the resulting
// authoritative state.
func (s *service) UpdatePlayback(ctx context.Context, params *UpdatePlaybackParams) error {
	if err := validation.ValidateStructWithContext(ctx, &params.State,
		validation.Field(&params.State.CurrentTime, CurrentTimeRule...),
		validation.Field(&params.State.PlaybackRate, PlaybackRateRule...),
	); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	c, err := s.get(params.SessionId)
	if err != nil {
		return err
	}

	if err := c.OnHostPlaybackUpdate(params.SenderId, params.State); err != nil {
		return fmt.Errorf("failed to update playback: %w", err)
	}

	if state, ok := c.Playback(); ok {
		if err := s.savePlayback(ctx, params.SessionId, state); err != nil {
			s.logger.WarnContext(ctx, "failed to persist playback", "error", err)
		}
	}

	return nil
}

func (s *service) ReportPosition(ctx context.Context, params *ReportPositionParams) (*domain.SyncResponse, error) {
	if err := validation.ValidateStructWithContext(ctx, params,
		validation.Field(&params.ObservedTime, CurrentTimeRule...),
	); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	c, err := s.get(params.SessionId)
	if err != nil {
		return nil, err
	}

	correction, err := c.OnViewerReport(params.SenderId, params.ObservedTime, params.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to report position: %w", err)
	}

	return correction, nil
}

// TransferHost moves host authority. Only the current host may hand it over;
// a session without host may be claimed by a user for itself.
func (s *service) TransferHost(ctx context.Context, params *TransferHostParams) error {
	if err := validation.ValidateStructWithContext(ctx, params,
		validation.Field(&params.PreviousHostId, OptionalUserIdRule...),
		validation.Field(&params.NewHostId, UserIdRule...),
	); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	if params.PreviousHostId == "" {
		if params.SenderId != params.NewHostId {
			return ErrPermissionDenied
		}
	} else if params.SenderId != params.PreviousHostId {
		return ErrPermissionDenied
	}

	c, err := s.get(params.SessionId)
	if err != nil {
		return err
	}

	if err := c.RequestHostTransfer(domain.HostTransfer{
		PreviousHostId: params.PreviousHostId,
		NewHostId:      params.NewHostId,
	}); err != nil {
		return fmt.Errorf("failed to transfer host: %w", err)
	}

	return nil
}

func (s *service) UpdateNetworkQuality(ctx context.Context, params *UpdateNetworkQualityParams) (domain.NetworkQuality, error) {
	if err := validation.ValidateStructWithContext(ctx, params,
		validation.Field(&params.Quality, QualityRule...),
		validation.Field(&params.UserId, OptionalUserIdRule...),
	); err != nil {
		return "", fmt.Errorf("%w: %w", ErrValidation, err)
	}

	userId := params.UserId
	if userId == "" {
		userId = params.SenderId
	}
	if userId != params.SenderId {
		return "", ErrPermissionDenied
	}

	c, err := s.get(params.SessionId)
	if err != nil {
		return "", err
	}

	q, err := c.OnNetworkQualityUpdate(domain.NetworkQualityUpdate{
		UserId:    userId,
		Quality:   params.Quality,
		Timestamp: params.Timestamp,
	})
	if err != nil {
		return "", fmt.Errorf("failed to update network quality: %w", err)
	}

	return q, nil
}

func (s *service) Heartbeat(ctx context.Context, params *HeartbeatParams) error {
	if err := validation.ValidateStructWithContext(ctx, params,
		validation.Field(&params.Status, StatusRule...),
	); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	c, err := s.get(params.SessionId)
	if err != nil {
		return err
	}

	if err := c.Heartbeat(params.SenderId, params.Status, 0); err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}

	return nil
}
