package relay

import (
	"context"

	"github.com/rs/zerolog"
)

type Resolution struct {
	Token       string
	DeviceType  DeviceType
	CanonicalID string
	Overridden  bool
}

// Resolver maps a sender-supplied token to the installation's current
// registration. The latest row for the installation's key wins, even when
// its device type differs from the submitted one.
type Resolver struct {
	store  RegistrationStore
	logger zerolog.Logger
}

func NewResolver(store RegistrationStore, logger zerolog.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

func (r *Resolver) Resolve(ctx context.Context, token string, submitted DeviceType) Resolution {
	resolution := Resolution{Token: token, DeviceType: submitted}
	if r == nil || r.store == nil {
		return resolution
	}
	byToken, err := r.store.LatestRegistrationByToken(ctx, token)
	if err != nil {
		r.logger.Error().Err(err).Msg("registration lookup by token failed")
		return resolution
	}
	if byToken == nil {
		return resolution
	}
	latest := byToken
	if byToken.KeyID != "" {
		latest, err = r.store.LatestRegistrationByKey(ctx, byToken.KeyID)
	}
	if err != nil {
		r.logger.Error().Err(err).Str("key_id", byToken.KeyID).Msg("registration lookup by key failed")
		return resolution
	}
	if latest == nil {
		return resolution
	}
	if latest.RegistrationID != token || latest.NotifyType != submitted {
		r.logger.Debug().
			Str("key_id", latest.KeyID).
			Stringer("submitted_type", submitted).
			Stringer("resolved_type", latest.NotifyType).
			Msg("registration superseded by newer row")
	}
	return Resolution{
		Token:       latest.RegistrationID,
		DeviceType:  latest.NotifyType,
		CanonicalID: latest.CanonicalID,
		Overridden:  true,
	}
}
