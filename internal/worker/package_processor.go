package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/google/uuid"

	"github.com/cuongbtq/sheetworks/internal/domain"
	"github.com/cuongbtq/sheetworks/shared/logger"
)

// DocumentRenderer renders one document of a package
type DocumentRenderer interface {
	Process(ctx context.Context, doc domain.Document, pkg *domain.Package) DocumentResult
}

// PackageProcessor handles render_package jobs
type PackageProcessor struct {
	jobs     JobStore
	packages PackageStore
	docs     DocumentRenderer
	events   *eventEmitter
	metrics  *Metrics
	logger   *slog.Logger

	// requireRenderedSheet fails the job when no page rendered completely
	requireRenderedSheet bool
}

// NewPackageProcessor creates a PackageProcessor
func NewPackageProcessor(jobs JobStore, packages PackageStore, docs DocumentRenderer, log *slog.Logger) *PackageProcessor {
	return &PackageProcessor{
		jobs:     jobs,
		packages: packages,
		docs:     docs,
		metrics:  NewMetrics(nil),
		logger:   log.With(logger.Component("package_processor")),
	}
}

// Handle implements JobProcessor
func (p *PackageProcessor) Handle(ctx context.Context, job *domain.Job) error {
	result, err := p.Process(ctx, job)
	if result != nil {
		p.metrics.packageRendered(result)
		p.logger.Info("Package render finished",
			slog.String("job_id", job.ID),
			slog.String("package_id", result.PackageID),
			slog.Any("summary", result.Summary()),
		)
	}
	return err
}

// Process renders every document of the package named in the job payload, in
// upload order, and marks the package ready. Per-document failures are recorded
// in the result and do not fail the job.
func (p *PackageProcessor) Process(ctx context.Context, job *domain.Job) (*PackageResult, error) {
	packageID, ok := job.Payload.PackageID()
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", domain.ErrInvalidPayload, domain.PayloadKeyPackageID)
	}
	if _, err := uuid.Parse(packageID); err != nil {
		return nil, fmt.Errorf("%w: %s %q is not a valid id", domain.ErrInvalidPayload, domain.PayloadKeyPackageID, packageID)
	}

	log := p.logger.With(
		slog.String("job_id", job.ID),
		slog.String("package_id", packageID),
	)

	pkg, err := p.packages.GetPackage(ctx, packageID)
	if err != nil {
		if errors.Is(err, domain.ErrPackageNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrPackageNotFound, packageID)
		}
		return nil, fmt.Errorf("failed to load package: %w", err)
	}

	if err := p.packages.SetPackageStatus(ctx, pkg.ID, domain.PackageStatusProcessing); err != nil {
		log.Warn("Failed to mark package processing", logger.Err(err))
	}

	docs, err := p.packages.ListDocuments(ctx, pkg.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, domain.ErrNoDocuments
	}

	result := &PackageResult{PackageID: pkg.ID}
	total := len(docs)

	log.Info("Rendering package", slog.Int("documents", total))

	for k, doc := range docs {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("render stopped after %d of %d documents: %w", k, total, err)
		}

		docResult := p.processDocument(ctx, doc, pkg)
		result.Documents = append(result.Documents, docResult)

		if docResult.Err != nil {
			log.Error("Document failed",
				slog.String("document_id", doc.ID),
				slog.String("filename", doc.OriginalFilename),
				logger.Err(docResult.Err),
			)
		}

		// 1.0 is written together with the succeeded status
		if done := k + 1; done < total {
			progress := float64(done) / float64(total)
			if err := p.jobs.UpdateJobProgress(ctx, job.ID, progress); err != nil {
				log.Warn("Failed to update job progress", logger.Err(err))
			}
			p.events.emit(ctx, domain.EventJobProgress, job, progress, nil)
		}
	}

	if p.requireRenderedSheet && result.Summary().RenderedPages == 0 {
		return result, domain.ErrNothingRendered
	}

	if err := p.packages.SetPackageStatus(ctx, pkg.ID, domain.PackageStatusReady); err != nil {
		return result, fmt.Errorf("failed to mark package ready: %w", err)
	}

	return result, nil
}

func (p *PackageProcessor) processDocument(ctx context.Context, doc domain.Document, pkg *domain.Package) (result DocumentResult) {
	defer func() {
		if r := recover(); r != nil {
			result = DocumentResult{
				DocumentID: doc.ID,
				Err:        fmt.Errorf("panic processing document: %v", r),
			}
			p.logger.Error("Recovered panic while processing document",
				slog.String("document_id", doc.ID),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	return p.docs.Process(ctx, doc, pkg)
}
