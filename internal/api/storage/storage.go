package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/sheetworks/internal/domain"
	"github.com/cuongbtq/sheetworks/shared/postgresql"
)

const (
	packageColumns  = `id, project_id, created_by, label, package_date, notes, status, created_at, updated_at`
	documentColumns = `id, package_id, discipline, original_filename, storage_path, page_count, created_at`
	jobColumns      = `id, project_id, created_by, type, status, progress, payload, error, logs_path, created_at, updated_at`
)

type Storage struct {
	pg *postgresql.Client
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		pg: pg,
		db: pg.GetDB(),
	}
}

func (s *Storage) GetProject(ctx context.Context, projectID string) (*domain.Project, error) {
	query := `
		SELECT id, owner_id, name, description, created_at, updated_at
		FROM projects
		WHERE id = $1
	`

	var project domain.Project
	if err := s.db.GetContext(ctx, &project, query, projectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return &project, nil
}

func (s *Storage) CreatePackage(ctx context.Context, pkg *domain.Package) (*domain.Package, error) {
	query := `
		INSERT INTO packages (
			project_id, created_by, label, package_date, notes, status
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
		RETURNING ` + packageColumns

	var created domain.Package
	err := s.db.GetContext(ctx, &created, query,
		pkg.ProjectID,
		pkg.CreatedBy,
		pkg.Label,
		pkg.PackageDate,
		pkg.Notes,
		domain.PackageStatusDraft,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create package: %w", err)
	}

	return &created, nil
}

func (s *Storage) ListPackages(ctx context.Context, projectID string) ([]domain.Package, error) {
	query := `
		SELECT ` + packageColumns + `
		FROM packages
		WHERE project_id = $1
		ORDER BY created_at DESC
	`

	packages := []domain.Package{}
	if err := s.db.SelectContext(ctx, &packages, query, projectID); err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}

	return packages, nil
}

func (s *Storage) GetPackage(ctx context.Context, packageID string) (*domain.Package, error) {
	query := `
		SELECT ` + packageColumns + `
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

// PackageCounts returns how many documents and sheets belong to a package
func (s *Storage) PackageCounts(ctx context.Context, packageID string) (documents int, sheets int, err error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM documents WHERE package_id = $1) AS documents,
			(SELECT COUNT(*) FROM sheets WHERE package_id = $1) AS sheets
	`

	var counts struct {
		Documents int `db:"documents"`
		Sheets    int `db:"sheets"`
	}
	if err := s.db.GetContext(ctx, &counts, query, packageID); err != nil {
		return 0, 0, fmt.Errorf("failed to count package contents: %w", err)
	}

	return counts.Documents, counts.Sheets, nil
}

// FindDocumentByFilename returns the document of a package that was uploaded under filename
func (s *Storage) FindDocumentByFilename(ctx context.Context, packageID, filename string) (*domain.Document, error) {
	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE package_id = $1
		  AND original_filename = $2
		ORDER BY created_at ASC
		LIMIT 1
	`

	var doc domain.Document
	if err := s.db.GetContext(ctx, &doc, query, packageID, filename); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to find document: %w", err)
	}

	return &doc, nil
}

// CreateDocument inserts a document row with an empty storage path
func (s *Storage) CreateDocument(ctx context.Context, doc *domain.Document) (*domain.Document, error) {
	query := `
		INSERT INTO documents (
			package_id, discipline, original_filename, storage_path
		) VALUES (
			$1, $2, $3, ''
		)
		RETURNING ` + documentColumns

	var created domain.Document
	if err := s.db.GetContext(ctx, &created, query, doc.PackageID, doc.Discipline, doc.OriginalFilename); err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	return &created, nil
}

func (s *Storage) DeleteDocument(ctx context.Context, documentID string) error {
	if _, err := s.pg.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, documentID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func (s *Storage) SetDocumentStoragePath(ctx context.Context, documentID, storagePath string) error {
	query := `
		UPDATE documents
		SET storage_path = $1
		WHERE id = $2
	`

	affected, err := s.pg.ExecContext(ctx, query, storagePath, documentID)
	if err != nil {
		return fmt.Errorf("failed to set document storage path: %w", err)
	}
	if affected == 0 {
		return domain.ErrDocumentNotFound
	}

	return nil
}

// DeleteSheetsByDocument removes the sheets of a document that is about to be replaced
func (s *Storage) DeleteSheetsByDocument(ctx context.Context, documentID string) (int64, error) {
	affected, err := s.pg.ExecContext(ctx, `DELETE FROM sheets WHERE document_id = $1`, documentID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sheets: %w", err)
	}
	return affected, nil
}

// EnqueueRenderJob inserts a pending job and moves the package to processing in one transaction
func (s *Storage) EnqueueRenderJob(ctx context.Context, job *domain.Job, packageID string) (*domain.Job, error) {
	insert := `
		INSERT INTO jobs (
			project_id, created_by, type, status, progress, payload
		) VALUES (
			$1, $2, $3, $4, 0, $5
		)
		RETURNING ` + jobColumns

	update := `
		UPDATE packages
		SET status = $1,
		    updated_at = NOW()
		WHERE id = $2
	`

	var created domain.Job
	err := s.pg.WithTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &created, insert,
			job.ProjectID,
			job.CreatedBy,
			job.Type,
			domain.JobStatusPending,
			job.Payload,
		)
		if err != nil {
			return fmt.Errorf("failed to create job: %w", err)
		}

		if _, err := tx.ExecContext(ctx, update, domain.PackageStatusProcessing, packageID); err != nil {
			return fmt.Errorf("failed to update package status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &created, nil
}

// ListSheets returns the sheets of a package ordered by document and page
func (s *Storage) ListSheets(ctx context.Context, packageID string) ([]domain.Sheet, error) {
	query := `
		SELECT id, document_id, package_id, page_index, image_path, thumb_path,
		       width_px, height_px, sheet_number, sheet_title, discipline_guess,
		       meta_confidence, text_extract_path, created_at
		FROM sheets
		WHERE package_id = $1
		ORDER BY document_id ASC, page_index ASC
	`

	sheets := []domain.Sheet{}
	if err := s.db.SelectContext(ctx, &sheets, query, packageID); err != nil {
		return nil, fmt.Errorf("failed to list sheets: %w", err)
	}

	return sheets, nil
}

// ListPackageJobs returns the jobs whose payload references packageID, newest first
func (s *Storage) ListPackageJobs(ctx context.Context, projectID, packageID string) ([]domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE project_id = $1
		  AND payload->>'packageId' = $2
		ORDER BY created_at DESC, id DESC
	`

	jobs := []domain.Job{}
	if err := s.db.SelectContext(ctx, &jobs, query, projectID, packageID); err != nil {
		return nil, fmt.Errorf("failed to list package jobs: %w", err)
	}

	return jobs, nil
}

func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE id = $1
	`

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

type JobFilter struct {
	CreatedBy string
	Type      string
	Status    string
	PageSize  int
	Cursor    *JobCursor
}

type JobCursor struct {
	CreatedAt time.Time
	ID        string
}

func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `
        SELECT ` + jobColumns + `
        FROM jobs
        WHERE 1=1
    `
	args := []interface{}{}
	argIdx := 1

	if filter.CreatedBy != "" {
		query += fmt.Sprintf(" AND created_by = $%d", argIdx)
		args = append(args, filter.CreatedBy)
		argIdx++
	}

	if filter.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, filter.Type)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.ID)
		argIdx += 2
	}

	// created_at alone is not unique; id breaks ties so pages never overlap
	query += " ORDER BY created_at DESC, id DESC"

	// one extra row tells the caller whether another page exists
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	jobs := []domain.Job{}
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}
