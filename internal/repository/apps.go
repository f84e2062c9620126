package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/receipts-worker/constants"
	"github.com/joseph-ayodele/receipts-worker/internal/common"
)

// AppStatusUpdate is written to the apps row after a store pass.
type AppStatusUpdate struct {
	Status      constants.AppStatus
	LastRunAt   time.Time
	LastError   string
	Description string
}

// AppStatus is one row of the apps table.
type AppStatus struct {
	Slug        string
	Status      constants.AppStatus
	LastRunAt   *time.Time
	LastError   *string
	Description *string
}

type AppStatusRepository interface {
	Update(ctx context.Context, slug string, u AppStatusUpdate) error
	Get(ctx context.Context, slug string) (*AppStatus, error)
}

type appStatusRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewAppStatusRepository(db *DB, logger *slog.Logger) AppStatusRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &appStatusRepository{db: db, logger: logger}
}

// Update upserts the apps row for slug. last_error is overwritten on every
// run so a recovered app does not keep showing an old failure; the
// description is only replaced when one is given.
func (r *appStatusRepository) Update(ctx context.Context, slug string, u AppStatusUpdate) error {
	if u.LastRunAt.IsZero() {
		u.LastRunAt = time.Now()
	}
	q, args := r.db.builder().Insert("apps").
		Columns("slug", "status", "last_run_at", "last_error", "description").
		Values(slug, string(u.Status), u.LastRunAt.UTC(), nullString(u.LastError), nullString(u.Description)).
		OnConflict(
			entsql.ConflictColumns("slug"),
			entsql.ResolveWith(func(s *entsql.UpdateSet) {
				s.SetExcluded("status")
				s.SetExcluded("last_run_at")
				s.SetExcluded("last_error")
				if u.Description != "" {
					s.SetExcluded("description")
				}
			}),
		).
		Query()
	if _, err := r.db.sqlDB().ExecContext(ctx, q, args...); err != nil {
		r.logger.Error("failed to update app status", "slug", slug, "error", err)
		return fmt.Errorf("%w: update app status: %v", common.ErrDatabase, err)
	}
	return nil
}

func (r *appStatusRepository) Get(ctx context.Context, slug string) (*AppStatus, error) {
	q, args := r.db.builder().Select("slug", "status", "last_run_at", "last_error", "description").
		From(entsql.Table("apps")).
		Where(entsql.EQ("slug", slug)).
		Query()
	var (
		out       AppStatus
		status    string
		lastRunAt sql.NullTime
		lastError sql.NullString
		desc      sql.NullString
	)
	err := r.db.sqlDB().QueryRowContext(ctx, q, args...).Scan(&out.Slug, &status, &lastRunAt, &lastError, &desc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get app status: %v", common.ErrDatabase, err)
	}
	out.Status = constants.AppStatus(status)
	if lastRunAt.Valid {
		t := lastRunAt.Time
		out.LastRunAt = &t
	}
	out.LastError = fromNull(lastError)
	out.Description = fromNull(desc)
	return &out, nil
}
