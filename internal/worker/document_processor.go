package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/cuongbtq/sheetworks/internal/domain"
	"github.com/cuongbtq/sheetworks/shared/logger"
)

// DocumentProcessor renders every page of one document into sheet rows and images
type DocumentProcessor struct {
	store      SheetStore
	blobs      BlobStore
	rasterizer Rasterizer
	thumbs     Thumbnailer
	logger     *slog.Logger
}

// NewDocumentProcessor creates a DocumentProcessor
func NewDocumentProcessor(store SheetStore, blobs BlobStore, rasterizer Rasterizer, thumbs Thumbnailer, log *slog.Logger) *DocumentProcessor {
	return &DocumentProcessor{
		store:      store,
		blobs:      blobs,
		rasterizer: rasterizer,
		thumbs:     thumbs,
		logger:     log.With(logger.Component("document_processor")),
	}
}

// Process renders doc, which belongs to pkg. Images are stored under the package
// creator's prefix. Existing sheets of the document are replaced. A failed page
// never stops the remaining pages.
func (p *DocumentProcessor) Process(ctx context.Context, doc domain.Document, pkg *domain.Package) DocumentResult {
	result := DocumentResult{DocumentID: doc.ID}
	log := p.logger.With(
		slog.String("document_id", doc.ID),
		slog.String("package_id", pkg.ID),
	)

	if doc.StoragePath == "" {
		result.Err = fmt.Errorf("%w: document %s has no storage path", domain.ErrEmptyDocument, doc.ID)
		return result
	}

	data, err := p.blobs.Download(ctx, domain.BucketRawUploads, doc.StoragePath)
	if err != nil {
		result.Err = fmt.Errorf("failed to download %s: %w", doc.StoragePath, err)
		return result
	}
	if len(data) == 0 {
		result.Err = fmt.Errorf("%w: %s", domain.ErrEmptyDocument, doc.StoragePath)
		return result
	}

	src, err := p.rasterizer.Open(ctx, data)
	if err != nil {
		result.Err = fmt.Errorf("failed to open pdf: %w", err)
		return result
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.Warn("Failed to release rendered document", logger.Err(err))
		}
	}()

	count := src.PageCount()
	result.PageCount = count

	if err := p.store.SetDocumentPageCount(ctx, doc.ID, count); err != nil {
		result.Err = err
		return result
	}

	removed, err := p.store.DeleteSheetsByDocument(ctx, doc.ID)
	if err != nil {
		result.Err = fmt.Errorf("failed to purge previous sheets: %w", err)
		return result
	}

	log.Info("Rendering document",
		slog.Int("page_count", count),
		slog.Int64("replaced_sheets", removed),
	)

	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			result.Err = fmt.Errorf("stopped before page %d: %w", i, err)
			break
		}

		page := p.renderPage(ctx, src, doc, pkg, i)
		if page.Err != nil {
			log.Warn("Page not fully rendered",
				slog.Int("page_index", i),
				slog.String("status", string(page.Status)),
				logger.Err(page.Err),
			)
		}
		result.Pages = append(result.Pages, page)
	}

	return result
}

func (p *DocumentProcessor) renderPage(ctx context.Context, src PageSource, doc domain.Document, pkg *domain.Package, index int) (result PageResult) {
	result = PageResult{PageIndex: index, Status: PageFailed}

	defer func() {
		if r := recover(); r != nil {
			result.Status = PageFailed
			result.Err = fmt.Errorf("panic rendering page %d: %v", index, r)
			p.logger.Error("Recovered panic while rendering page",
				slog.String("document_id", doc.ID),
				slog.Int("page_index", index),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	sheetID, err := p.store.InsertSheet(ctx, doc.ID, pkg.ID, index)
	if err != nil {
		result.Err = err
		return result
	}
	result.SheetID = sheetID

	raster, err := src.Render(ctx, index)
	if err != nil {
		result.Err = err
		return result
	}

	thumb, err := p.thumbs.Thumbnail(raster.PNG)
	if err != nil {
		result.Err = fmt.Errorf("failed to create thumbnail: %w", err)
		return result
	}

	imagePath := domain.SheetImagePath(pkg.CreatedBy, pkg.ProjectID, pkg.ID, sheetID, domain.ImageKindPage)
	if err := p.blobs.Upload(ctx, domain.BucketSheetImages, imagePath, raster.PNG, domain.ContentTypePNG); err != nil {
		result.Err = fmt.Errorf("failed to upload page image: %w", err)
		return result
	}

	var thumbRef *string
	var thumbErr error
	thumbPath := domain.SheetImagePath(pkg.CreatedBy, pkg.ProjectID, pkg.ID, sheetID, domain.ImageKindThumb)
	if err := p.blobs.Upload(ctx, domain.BucketSheetImages, thumbPath, thumb, domain.ContentTypePNG); err != nil {
		thumbErr = fmt.Errorf("failed to upload thumbnail: %w", err)
	} else {
		thumbRef = &thumbPath
	}

	err = p.store.UpdateSheetArtifacts(ctx, sheetID, domain.SheetArtifacts{
		ImagePath: imagePath,
		ThumbPath: thumbRef,
		WidthPx:   raster.Width,
		HeightPx:  raster.Height,
	})
	if err != nil {
		result.Err = errors.Join(err, thumbErr)
		return result
	}

	if thumbErr != nil {
		result.Status = PagePartial
		result.Err = thumbErr
		return result
	}

	result.Status = PageRendered
	return result
}
