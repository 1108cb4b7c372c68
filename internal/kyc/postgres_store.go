package kyc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/valinor-ai/kycgate/internal/platform/database"
)

// PostgresStore keeps each profile as a JSONB document. Status, approval
// and deactivation are mirrored into columns for the expiry sweep.
type PostgresStore struct {
	pool *database.Pool
}

func NewPostgresStore(pool *database.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func loadProfile(ctx context.Context, q database.Querier, userID string, forUpdate bool) (Profile, error) {
	query := `SELECT document, version FROM kyc_profiles WHERE user_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var (
		doc     []byte
		version int64
	)
	if err := q.QueryRow(ctx, query, userID).Scan(&doc, &version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, profileNotFound(userID)
		}
		return Profile{}, fmt.Errorf("loading kyc profile: %w", err)
	}
	var p Profile
	if err := json.Unmarshal(doc, &p); err != nil {
		return Profile{}, fmt.Errorf("decoding kyc profile: %w", err)
	}
	p.Version = version
	return p, nil
}

func (s *PostgresStore) Load(ctx context.Context, userID string) (Profile, error) {
	return loadProfile(ctx, s.pool, userID, false)
}

// Update locks the row for the transaction. When two callers race to create
// the same profile the loser's insert fails on the unique owner column and
// the whole update is retried once against the winner's row.
func (s *PostgresStore) Update(ctx context.Context, userID string, fn UpdateFunc) (Profile, error) {
	p, err := s.update(ctx, userID, fn)
	if database.IsUniqueViolation(err) {
		p, err = s.update(ctx, userID, fn)
	}
	return p, err
}

func (s *PostgresStore) update(ctx context.Context, userID string, fn UpdateFunc) (Profile, error) {
	var out Profile
	err := database.WithTx(ctx, s.pool, func(ctx context.Context, q database.Querier) error {
		current, err := loadProfile(ctx, q, userID, true)
		found := err == nil
		if err != nil && !errors.Is(err, ErrProfileNotFound) {
			return err
		}

		next, err := fn(current, found)
		if err != nil {
			return err
		}
		next.UserID = userID
		if found {
			next.ID = current.ID
			next.CreatedAt = current.CreatedAt
			out, err = updateProfile(ctx, q, next)
			return err
		}
		out, err = insertProfile(ctx, q, next)
		return err
	})
	if err != nil {
		return Profile{}, err
	}
	return out, nil
}

func (s *PostgresStore) Save(ctx context.Context, p Profile, expectedVersion int64) (Profile, error) {
	var out Profile
	err := database.WithTx(ctx, s.pool, func(ctx context.Context, q database.Querier) error {
		current, err := loadProfile(ctx, q, p.UserID, true)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return versionConflict(p.UserID, expectedVersion, current.Version)
		}
		p.ID = current.ID
		p.CreatedAt = current.CreatedAt
		out, err = updateProfile(ctx, q, p)
		return err
	})
	if err != nil {
		return Profile{}, err
	}
	return out, nil
}

func (s *PostgresStore) ApprovedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM kyc_profiles
		 WHERE status = $1 AND approved_at <= $2 AND deactivated_at IS NULL
		 ORDER BY user_id`, string(StatusApproved), cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing approved profiles: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning profile owner: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func deactivatedAt(p Profile) *time.Time {
	if p.Deactivation == nil {
		return nil
	}
	return &p.Deactivation.At
}

func insertProfile(ctx context.Context, q database.Querier, p Profile) (Profile, error) {
	p.Version = 1
	doc, err := json.Marshal(p)
	if err != nil {
		return Profile{}, fmt.Errorf("encoding kyc profile: %w", err)
	}
	_, err = q.Exec(ctx,
		`INSERT INTO kyc_profiles (id, user_id, status, approved_at, deactivated_at, document, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8)`,
		p.ID, p.UserID, string(p.KYC.Status), p.KYC.ApprovedAt, deactivatedAt(p), doc, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return Profile{}, fmt.Errorf("inserting kyc profile: %w", err)
	}
	return p, nil
}

func updateProfile(ctx context.Context, q database.Querier, p Profile) (Profile, error) {
	var version int64
	doc, err := json.Marshal(p)
	if err != nil {
		return Profile{}, fmt.Errorf("encoding kyc profile: %w", err)
	}
	err = q.QueryRow(ctx,
		`UPDATE kyc_profiles
		 SET status = $2, approved_at = $3, deactivated_at = $4, document = $5,
		     version = version + 1, updated_at = $6
		 WHERE user_id = $1
		 RETURNING version`,
		p.UserID, string(p.KYC.Status), p.KYC.ApprovedAt, deactivatedAt(p), doc, p.UpdatedAt,
	).Scan(&version)
	if err != nil {
		return Profile{}, fmt.Errorf("updating kyc profile: %w", err)
	}
	p.Version = version
	return p, nil
}
