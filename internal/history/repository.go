package history

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shipdesk/shipnotify/internal/dispatch"
)

// Repository archives finished dispatch runs. The snapshot file remains the
// authoritative per-day state; history is an append-only audit trail.
type Repository interface {
	SaveRun(ctx context.Context, report dispatch.Report) error
}

type pgRunHistoryRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewPgRunHistoryRepository creates a new instance for PostgreSQL.
func NewPgRunHistoryRepository(db *pgxpool.Pool, logger *slog.Logger) Repository {
	return &pgRunHistoryRepository{db: db, logger: logger.With("component", "run_history")}
}

func (r *pgRunHistoryRepository) SaveRun(ctx context.Context, report dispatch.Report) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		query := `
			INSERT INTO dispatch_runs (
				id, started_at, finished_at, success_count, failed_count,
				cancelled_count, was_cancelled
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		_, err := tx.Exec(ctx, query,
			report.RunID, report.StartedAt, report.FinishedAt,
			report.Success, report.Failed, report.Cancelled, report.WasCancelled,
		)
		if err != nil {
			return err
		}

		for _, rec := range report.Recipients {
			query := `
				INSERT INTO dispatch_run_recipients (
					run_id, recipient, status, record_count, detail
				) VALUES ($1, $2, $3, $4, $5)
			`
			if _, err := tx.Exec(ctx, query,
				report.RunID, rec.Recipient, string(rec.Status), rec.Records, rec.Detail,
			); err != nil {
				return err
			}
		}

		r.logger.InfoContext(ctx, "Archived dispatch run", "run_id", report.RunID, "recipients", len(report.Recipients))
		return nil
	})
}
