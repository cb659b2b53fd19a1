package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cuongbtq/sheetworks/internal/domain"
	"github.com/cuongbtq/sheetworks/shared/logger"
)

const jobColumns = `id, project_id, created_by, type, status, progress, payload, error, logs_path, created_at, updated_at`

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, log *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: log.With(logger.Component("worker_storage")),
	}
}

// NextPendingJob returns the oldest pending job whose type is in types.
// Returns domain.ErrJobNotFound when the queue is empty.
func (s *Storage) NextPendingJob(ctx context.Context, types []domain.JobType) (*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = $1
		  AND type = ANY($2)
		ORDER BY created_at ASC
		LIMIT 1
	`

	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, domain.JobStatusPending, pq.Array(names))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, domain.NewRetryableError(fmt.Errorf("failed to query pending jobs: %w", err))
	}

	return &job, nil
}

// ClaimJob moves a job from pending to running in a single conditional write.
// Returns domain.ErrJobAlreadyClaimed when another poller got there first.
func (s *Storage) ClaimJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    progress = 0,
		    error = NULL,
		    updated_at = NOW()
		WHERE id = $2
		  AND status = $3
		RETURNING ` + jobColumns

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, domain.JobStatusRunning, jobID, domain.JobStatusPending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Debug("Job no longer pending", slog.String("job_id", jobID))
			return nil, domain.ErrJobAlreadyClaimed
		}
		return nil, domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}

	s.logger.Info("Job claimed",
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
	)

	return &job, nil
}

// UpdateJobProgress raises the progress of a running job. Progress never goes down.
func (s *Storage) UpdateJobProgress(ctx context.Context, jobID string, progress float64) error {
	query := `
		UPDATE jobs
		SET progress = GREATEST(progress, $1),
		    updated_at = NOW()
		WHERE id = $2
		  AND status = $3
	`

	result, err := s.db.ExecContext(ctx, query, progress, jobID, domain.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		s.logger.Warn("Job progress update - no rows affected (job may not be running)",
			slog.String("job_id", jobID),
		)
	}

	return nil
}

// TouchJob refreshes updated_at of a running job
func (s *Storage) TouchJob(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET updated_at = NOW()
		WHERE id = $1
		  AND status = $2
	`

	if _, err := s.db.ExecContext(ctx, query, jobID, domain.JobStatusRunning); err != nil {
		return fmt.Errorf("failed to touch job: %w", err)
	}
	return nil
}

// CompleteJob marks a running job succeeded with progress 1 and no error
func (s *Storage) CompleteJob(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    progress = 1,
		    error = NULL,
		    updated_at = NOW()
		WHERE id = $2
		  AND status = $3
	`

	result, err := s.db.ExecContext(ctx, query, domain.JobStatusSucceeded, jobID, domain.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	s.warnIfNotRunning(result, jobID, "complete")
	return nil
}

// FailJob marks a running job failed with the given message. Progress is left where it stopped.
func (s *Storage) FailJob(ctx context.Context, jobID, message string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    error = $2,
		    updated_at = NOW()
		WHERE id = $3
		  AND status = $4
	`

	result, err := s.db.ExecContext(ctx, query, domain.JobStatusFailed, message, jobID, domain.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	s.warnIfNotRunning(result, jobID, "fail")
	return nil
}

// warnIfNotRunning logs a terminal write that matched no running job, e.g. one reset by stale recovery
func (s *Storage) warnIfNotRunning(result sql.Result, jobID, op string) {
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		s.logger.Warn("Job status update - no rows affected (job is no longer running)",
			slog.String("job_id", jobID),
			slog.String("op", op),
		)
	}
}

// RecoverStaleJobs resets running jobs not updated within olderThan back to pending.
// A live worker refreshes updated_at while it processes a job, see TouchJob.
func (s *Storage) RecoverStaleJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    progress = 0,
		    updated_at = NOW()
		WHERE status = $2
		  AND updated_at < $3
	`

	cutoff := time.Now().Add(-olderThan)
	result, err := s.db.ExecContext(ctx, query, domain.JobStatusPending, domain.JobStatusRunning, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale jobs: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// GetPackage loads a package by id. Returns domain.ErrPackageNotFound when absent.
func (s *Storage) GetPackage(ctx context.Context, packageID string) (*domain.Package, error) {
	query := `
		SELECT id, project_id, created_by, label, package_date, notes, status, created_at, updated_at
		FROM packages
		WHERE id = $1
	`

	var pkg domain.Package
	if err := s.db.GetContext(ctx, &pkg, query, packageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPackageNotFound
		}
		return nil, fmt.Errorf("failed to get package: %w", err)
	}
	return &pkg, nil
}

// SetPackageStatus updates the status of a package
func (s *Storage) SetPackageStatus(ctx context.Context, packageID string, status domain.PackageStatus) error {
	query := `
		UPDATE packages
		SET status = $1,
		    updated_at = NOW()
		WHERE id = $2
	`

	if _, err := s.db.ExecContext(ctx, query, status, packageID); err != nil {
		return fmt.Errorf("failed to set package status: %w", err)
	}

	s.logger.Debug("Package status updated",
		slog.String("package_id", packageID),
		slog.String("status", string(status)),
	)
	return nil
}

// ListDocuments returns the documents of a package in upload order
func (s *Storage) ListDocuments(ctx context.Context, packageID string) ([]domain.Document, error) {
	query := `
		SELECT id, package_id, discipline, original_filename, storage_path, page_count, created_at
		FROM documents
		WHERE package_id = $1
		ORDER BY created_at ASC
	`

	docs := []domain.Document{}
	if err := s.db.SelectContext(ctx, &docs, query, packageID); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

// SetDocumentPageCount records the page count found when the PDF was opened
func (s *Storage) SetDocumentPageCount(ctx context.Context, documentID string, pageCount int) error {
	query := `UPDATE documents SET page_count = $1 WHERE id = $2`

	if _, err := s.db.ExecContext(ctx, query, pageCount, documentID); err != nil {
		return fmt.Errorf("failed to set page count: %w", err)
	}
	return nil
}

// DeleteSheetsByDocument removes every sheet row of a document and returns how many went
func (s *Storage) DeleteSheetsByDocument(ctx context.Context, documentID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sheets WHERE document_id = $1`, documentID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sheets: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// InsertSheet creates the placeholder row for a page and returns its id
func (s *Storage) InsertSheet(ctx context.Context, documentID, packageID string, pageIndex int) (string, error) {
	query := `
		INSERT INTO sheets (document_id, package_id, page_index)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	var id string
	if err := s.db.QueryRowxContext(ctx, query, documentID, packageID, pageIndex).Scan(&id); err != nil {
		return "", fmt.Errorf("failed to insert sheet: %w", err)
	}
	return id, nil
}

// UpdateSheetArtifacts records the rendered image, thumbnail and pixel size of a sheet
func (s *Storage) UpdateSheetArtifacts(ctx context.Context, sheetID string, artifacts domain.SheetArtifacts) error {
	query := `
		UPDATE sheets
		SET image_path = $1,
		    thumb_path = $2,
		    width_px = $3,
		    height_px = $4
		WHERE id = $5
	`

	_, err := s.db.ExecContext(ctx, query,
		artifacts.ImagePath,
		artifacts.ThumbPath,
		artifacts.WidthPx,
		artifacts.HeightPx,
		sheetID,
	)
	if err != nil {
		return fmt.Errorf("failed to update sheet: %w", err)
	}
	return nil
}
