// Package postgres implements the primary customer store on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/solsticehq/centra/errs"
	"github.com/solsticehq/centra/internal/schema"
	"github.com/solsticehq/centra/internal/store"
)

const (
	profileSelectSQL = `
SELECT email, display_name, created_at
FROM customers
WHERE id = @customer_id;
`

	lifeAreasSelectSQL = `
SELECT category, score, trend, goal, COALESCE(notes, ''), COALESCE(score_history, '[]'::jsonb), updated_at
FROM life_areas
WHERE customer_id = @customer_id
ORDER BY category;
`

	entriesSelectSQL = `
SELECT category, value, recorded_at
FROM entries
WHERE customer_id = @customer_id
ORDER BY recorded_at DESC
LIMIT @limit;
`

	progressSelectSQL = `
SELECT stage, step_index, step_progress, completed_challenges, total_points, COALESCE(action_history, '[]'::jsonb)
FROM progress
WHERE customer_id = @customer_id;
`

	supplementsSelectSQL = `
SELECT name, dosage, unit_price::text, active
FROM supplements
WHERE customer_id = @customer_id
ORDER BY name;
`

	profileUpdateSQL = `
UPDATE customers
SET email = COALESCE(@email, email),
    display_name = COALESCE(@display_name, display_name),
    updated_at = NOW()
WHERE id = @customer_id;
`
)

// Store is the pgx-backed primary store.
type Store struct {
	pool  *pgxpool.Pool
	clock func() time.Time
}

var _ store.Store = (*Store)(nil)

// Config controls store construction.
type Config struct {
	DSN string
	// Clock overrides time.Now for account-age derivation.
	Clock func() time.Time
}

// New connects a store. The pool is verified with a ping so configuration
// errors surface at startup, not on the first request.
func New(ctx context.Context, cfg Config) (*Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errs.New("store", errs.CodeConfig, errs.WithMessage("postgres DSN required"))
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.New("store", errs.CodeUnavailable,
			errs.WithMessage("postgres unreachable"), errs.WithCause(err))
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{pool: pool, clock: clock}, nil
}

// NewWithPool wraps an existing pool; used by tests and cmd/seed.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, clock: time.Now}
}

func (s *Store) ensurePool() (*pgxpool.Pool, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("customer store: nil pool")
	}
	return s.pool, nil
}

// Bundle composes the required sections from one query per section. A missing
// customer row fails the whole operation with NotFound.
func (s *Store) Bundle(ctx context.Context, customerID string) (*schema.Bundle, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	id := strings.TrimSpace(customerID)
	if id == "" {
		return nil, errs.Validation("store", "customerId", "customer id required")
	}
	args := pgx.NamedArgs{"customer_id": id}

	bundle := new(schema.Bundle)

	var createdAt time.Time
	row := pool.QueryRow(ctx, profileSelectSQL, args)
	if err := row.Scan(&bundle.Profile.Email, &bundle.Profile.DisplayName, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.New("store", errs.CodeNotFound,
				errs.WithMessage("customer "+id+" not found"))
		}
		return nil, fmt.Errorf("customer store: select profile: %w", err)
	}
	bundle.Profile.CreatedAt = createdAt
	bundle.Profile.AccountAgeDays = int(s.clock().Sub(createdAt).Hours() / 24)

	if bundle.LifeAreas, err = s.lifeAreas(ctx, pool, args); err != nil {
		return nil, err
	}
	if bundle.RecentEntries, err = s.recentEntries(ctx, pool, id); err != nil {
		return nil, err
	}
	if bundle.Progress, err = s.progress(ctx, pool, args); err != nil {
		return nil, err
	}
	return bundle, nil
}

func (s *Store) lifeAreas(ctx context.Context, pool *pgxpool.Pool, args pgx.NamedArgs) ([]schema.LifeArea, error) {
	rows, err := pool.Query(ctx, lifeAreasSelectSQL, args)
	if err != nil {
		return nil, fmt.Errorf("customer store: select life areas: %w", err)
	}
	defer rows.Close()

	var areas []schema.LifeArea
	for rows.Next() {
		var (
			area         schema.LifeArea
			trend        string
			historyBytes []byte
		)
		if err := rows.Scan(&area.Category, &area.Score, &trend, &area.Goal, &area.Notes, &historyBytes, &area.UpdatedAt); err != nil {
			return nil, fmt.Errorf("customer store: scan life area: %w", err)
		}
		area.Trend = schema.Trend(trend)
		if err := json.Unmarshal(historyBytes, &area.ScoreHistory); err != nil {
			return nil, fmt.Errorf("customer store: decode score history: %w", err)
		}
		areas = append(areas, area)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("customer store: iterate life areas: %w", err)
	}
	return areas, nil
}

func (s *Store) recentEntries(ctx context.Context, pool *pgxpool.Pool, customerID string) ([]schema.Entry, error) {
	args := pgx.NamedArgs{"customer_id": customerID, "limit": store.MaxRecentEntries}
	rows, err := pool.Query(ctx, entriesSelectSQL, args)
	if err != nil {
		return nil, fmt.Errorf("customer store: select entries: %w", err)
	}
	defer rows.Close()

	var entries []schema.Entry
	for rows.Next() {
		var entry schema.Entry
		if err := rows.Scan(&entry.Category, &entry.Value, &entry.RecordedAt); err != nil {
			return nil, fmt.Errorf("customer store: scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("customer store: iterate entries: %w", err)
	}
	return entries, nil
}

func (s *Store) progress(ctx context.Context, pool *pgxpool.Pool, args pgx.NamedArgs) (schema.Progress, error) {
	var (
		progress     schema.Progress
		actionsBytes []byte
	)
	row := pool.QueryRow(ctx, progressSelectSQL, args)
	err := row.Scan(&progress.Stage, &progress.StepIndex, &progress.StepProgress,
		&progress.CompletedChallenges, &progress.TotalPoints, &actionsBytes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// A customer without a progress row is still at the start.
			return schema.Progress{Stage: "foundation"}, nil
		}
		return schema.Progress{}, fmt.Errorf("customer store: select progress: %w", err)
	}
	if err := json.Unmarshal(actionsBytes, &progress.ActionHistory); err != nil {
		return schema.Progress{}, fmt.Errorf("customer store: decode action history: %w", err)
	}
	return progress, nil
}

// Supplements returns the customer's inventory.
func (s *Store) Supplements(ctx context.Context, customerID string) ([]schema.Supplement, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	args := pgx.NamedArgs{"customer_id": strings.TrimSpace(customerID)}
	rows, err := pool.Query(ctx, supplementsSelectSQL, args)
	if err != nil {
		return nil, fmt.Errorf("customer store: select supplements: %w", err)
	}
	defer rows.Close()

	var supplements []schema.Supplement
	for rows.Next() {
		var (
			supplement schema.Supplement
			price      string
		)
		if err := rows.Scan(&supplement.Name, &supplement.Dosage, &price, &supplement.Active); err != nil {
			return nil, fmt.Errorf("customer store: scan supplement: %w", err)
		}
		if supplement.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("customer store: parse unit price %q: %w", price, err)
		}
		supplements = append(supplements, supplement)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("customer store: iterate supplements: %w", err)
	}
	return supplements, nil
}

// UpdateProfile applies a partial profile mutation.
func (s *Store) UpdateProfile(ctx context.Context, customerID string, params store.UpdateProfileParams) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	id := strings.TrimSpace(customerID)
	if id == "" {
		return errs.Validation("store", "customerId", "customer id required")
	}
	if params.Email != nil && !strings.Contains(*params.Email, "@") {
		return errs.Validation("store", "email", "valid email required")
	}
	args := pgx.NamedArgs{
		"customer_id":  id,
		"email":        params.Email,
		"display_name": params.DisplayName,
	}
	tag, err := pool.Exec(ctx, profileUpdateSQL, args)
	if err != nil {
		return fmt.Errorf("customer store: update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New("store", errs.CodeNotFound,
			errs.WithMessage("customer "+id+" not found"))
	}
	return nil
}

// Ping probes connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	if err := pool.Ping(ctx); err != nil {
		return errs.New("store", errs.CodeUnavailable,
			errs.WithMessage("postgres unreachable"), errs.WithCause(err))
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
