package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/sheetworks/internal/api/storage"
	"github.com/cuongbtq/sheetworks/internal/domain"
	"github.com/cuongbtq/sheetworks/shared/logger"
)

// DefaultUserID is used when a request carries no X-User-ID header
const DefaultUserID = "00000000-0000-0000-0000-000000000000"

// HeaderUserID identifies the caller; there is no authentication in front of it
const HeaderUserID = "X-User-ID"

// Store is the persistence the handlers need
type Store interface {
	GetProject(ctx context.Context, projectID string) (*domain.Project, error)
	CreatePackage(ctx context.Context, pkg *domain.Package) (*domain.Package, error)
	ListPackages(ctx context.Context, projectID string) ([]domain.Package, error)
	GetPackage(ctx context.Context, packageID string) (*domain.Package, error)
	PackageCounts(ctx context.Context, packageID string) (int, int, error)
	FindDocumentByFilename(ctx context.Context, packageID, filename string) (*domain.Document, error)
	CreateDocument(ctx context.Context, doc *domain.Document) (*domain.Document, error)
	DeleteDocument(ctx context.Context, documentID string) error
	SetDocumentStoragePath(ctx context.Context, documentID, storagePath string) error
	DeleteSheetsByDocument(ctx context.Context, documentID string) (int64, error)
	EnqueueRenderJob(ctx context.Context, job *domain.Job, packageID string) (*domain.Job, error)
	ListSheets(ctx context.Context, packageID string) ([]domain.Sheet, error)
	ListPackageJobs(ctx context.Context, projectID, packageID string) ([]domain.Job, error)
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
}

// BlobUploader writes raw uploads to object storage
type BlobUploader interface {
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error
}

// EventPublisher announces enqueued jobs so workers can skip their poll wait
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// HealthChecker reports whether the database is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	Store          Store
	Blobs          BlobUploader
	Events         EventPublisher // optional
	Health         HealthChecker
	MaxUploadBytes int64
}

// PackageHandler handles package, upload and sheet requests
type PackageHandler struct {
	logger         *slog.Logger
	store          Store
	blobs          BlobUploader
	events         EventPublisher
	maxUploadBytes int64
}

// NewPackageHandler creates a new PackageHandler instance
func NewPackageHandler(deps *Dependencies) *PackageHandler {
	return &PackageHandler{
		logger:         deps.Logger.With(logger.Component("package_handler")),
		store:          deps.Store,
		blobs:          deps.Blobs,
		events:         deps.Events,
		maxUploadBytes: deps.MaxUploadBytes,
	}
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	store  Store
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger.With(logger.Component("job_handler")),
		store:  deps.Store,
	}
}
