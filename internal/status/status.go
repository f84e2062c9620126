// Package status publishes the health of each store pass to the apps table
// and to a gRPC health endpoint.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/receipts-worker/constants"
	"github.com/joseph-ayodele/receipts-worker/internal/repository"
)

// StoreReport summarises one store pass.
type StoreReport struct {
	Store       string
	Status      constants.AppStatus
	RunAt       time.Time
	Description string
	LastError   string
}

type Sink interface {
	Report(ctx context.Context, r StoreReport) error
}

// MultiSink reports to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Report(ctx context.Context, r StoreReport) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Report(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AppSlug is the apps row a store reports to.
func AppSlug(store string) string {
	return store + "-receipts"
}

// DBSink writes the report to the apps table.
type DBSink struct {
	repo   repository.AppStatusRepository
	logger *slog.Logger
}

func NewDBSink(repo repository.AppStatusRepository, logger *slog.Logger) *DBSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &DBSink{repo: repo, logger: logger}
}

func (s *DBSink) Report(ctx context.Context, r StoreReport) error {
	slug := AppSlug(r.Store)
	err := s.repo.Update(ctx, slug, repository.AppStatusUpdate{
		Status:      r.Status,
		LastRunAt:   r.RunAt,
		LastError:   r.LastError,
		Description: r.Description,
	})
	if err != nil {
		return fmt.Errorf("app status %s: %w", slug, err)
	}
	s.logger.Debug("status.app.updated", "slug", slug, "status", r.Status)
	return nil
}
