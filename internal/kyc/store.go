package kyc

import (
	"context"
	"time"

	"github.com/valinor-ai/kycgate/internal/platform/apperr"
)

// UpdateFunc receives the freshest stored profile under the per-profile
// lock. found is false when no profile exists yet; the returned profile is
// then inserted.
type UpdateFunc func(current Profile, found bool) (Profile, error)

// Store persists profiles keyed by owner. One owner has one profile, so the
// owner id is the aggregate lock key.
type Store interface {
	// Load returns the profile or an error matching ErrProfileNotFound.
	Load(ctx context.Context, userID string) (Profile, error)
	// Update runs fn under the lock and stores its result with the version
	// bumped.
	Update(ctx context.Context, userID string, fn UpdateFunc) (Profile, error)
	// Save writes p if the stored version still equals expectedVersion.
	Save(ctx context.Context, p Profile, expectedVersion int64) (Profile, error)
	// ApprovedBefore lists owners of active approved profiles whose approval
	// happened at or before cutoff.
	ApprovedBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}

func profileNotFound(userID string) error {
	return apperr.Wrap(apperr.CodeNotFound, ErrProfileNotFound, "no kyc profile for user %s", userID)
}

func versionConflict(userID string, want, got int64) error {
	return apperr.New(apperr.CodeVersionConflict, "profile of %s is at version %d, expected %d", userID, got, want)
}
