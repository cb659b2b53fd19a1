package worker

import (
	"context"
	"time"

	"github.com/cuongbtq/sheetworks/internal/domain"
	"github.com/cuongbtq/sheetworks/internal/worker/render"
)

// JobStore is the job queue as seen by the scheduler
type JobStore interface {
	NextPendingJob(ctx context.Context, types []domain.JobType) (*domain.Job, error)
	ClaimJob(ctx context.Context, jobID string) (*domain.Job, error)
	UpdateJobProgress(ctx context.Context, jobID string, progress float64) error
	TouchJob(ctx context.Context, jobID string) error
	CompleteJob(ctx context.Context, jobID string) error
	FailJob(ctx context.Context, jobID, message string) error
	RecoverStaleJobs(ctx context.Context, olderThan time.Duration) (int64, error)
}

// PackageStore reads packages and their documents
type PackageStore interface {
	GetPackage(ctx context.Context, packageID string) (*domain.Package, error)
	SetPackageStatus(ctx context.Context, packageID string, status domain.PackageStatus) error
	ListDocuments(ctx context.Context, packageID string) ([]domain.Document, error)
}

// SheetStore writes per-document and per-page rows
type SheetStore interface {
	SetDocumentPageCount(ctx context.Context, documentID string, pageCount int) error
	DeleteSheetsByDocument(ctx context.Context, documentID string) (int64, error)
	InsertSheet(ctx context.Context, documentID, packageID string, pageIndex int) (string, error)
	UpdateSheetArtifacts(ctx context.Context, sheetID string, artifacts domain.SheetArtifacts) error
}

// Store is everything the worker reads and writes in the record store
type Store interface {
	JobStore
	PackageStore
	SheetStore
}

// BlobStore is the object storage holding uploads and rendered images
type BlobStore interface {
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error
	Download(ctx context.Context, bucket, path string) ([]byte, error)
}

// Rasterizer opens PDFs for page rendering
type Rasterizer interface {
	Open(ctx context.Context, pdf []byte) (PageSource, error)
}

// PageSource is an opened PDF
type PageSource interface {
	PageCount() int
	Render(ctx context.Context, pageIndex int) (*render.Raster, error)
	Close() error
}

// Thumbnailer scales a rendered page down to thumbnail size
type Thumbnailer interface {
	Thumbnail(image []byte) ([]byte, error)
}

type pdfRasterizer struct {
	rz *render.Rasterizer
}

// NewPDFRasterizer adapts a render.Rasterizer to the Rasterizer interface
func NewPDFRasterizer(rz *render.Rasterizer) Rasterizer {
	return pdfRasterizer{rz: rz}
}

func (p pdfRasterizer) Open(ctx context.Context, pdf []byte) (PageSource, error) {
	src, err := p.rz.Open(ctx, pdf)
	if err != nil {
		return nil, err
	}
	return src, nil
}
