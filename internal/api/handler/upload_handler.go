package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/sheetworks/internal/api/dto"
	"github.com/cuongbtq/sheetworks/internal/domain"
	"github.com/cuongbtq/sheetworks/shared/logger"
)

const (
	uploadFormField     = "files"
	disciplineFormField = "discipline"
	publishTimeout      = 5 * time.Second
)

type uploadedFile struct {
	name string
	data []byte
}

// requestError is a failure already phrased for the client
type requestError struct {
	status  int
	message string
}

// UploadDocuments handles POST /api/v1/packages/:package_id/documents/upload
// Stores the uploaded PDFs and queues one render_package job for the package
func (h *PackageHandler) UploadDocuments(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": fmt.Sprintf("Upload exceeds %d bytes", tooLarge.Limit),
			})
			return
		}
		h.logger.Warn("Invalid multipart form", logger.Err(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid multipart form"})
		return
	}

	headers := form.File[uploadFormField]
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No files uploaded"})
		return
	}

	pkg, ok := h.loadPackage(c)
	if !ok {
		return
	}

	files := make([]uploadedFile, 0, len(headers))
	for _, fh := range headers {
		data, err := readFormFile(fh)
		if err != nil {
			h.logger.Warn("Failed to read uploaded file", slog.String("filename", fh.Filename), logger.Err(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Failed to read %s", fh.Filename)})
			return
		}
		if !mimetype.Detect(data).Is(domain.ContentTypePDF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("File %s is not a PDF", fh.Filename)})
			return
		}
		files = append(files, uploadedFile{name: fh.Filename, data: data})
	}

	var discipline *string
	if d := c.PostForm(disciplineFormField); d != "" {
		discipline = &d
	}

	ctx := c.Request.Context()
	documentIDs := make([]string, 0, len(files))
	for _, f := range files {
		docID, reqErr := h.storeDocument(ctx, pkg, userID, discipline, f)
		if reqErr != nil {
			c.JSON(reqErr.status, gin.H{"error": reqErr.message})
			return
		}
		documentIDs = append(documentIDs, docID)
	}

	projectID := pkg.ProjectID
	job, err := h.store.EnqueueRenderJob(ctx, &domain.Job{
		ProjectID: &projectID,
		CreatedBy: &userID,
		Type:      domain.JobTypeRenderPackage,
		Payload:   domain.Payload{domain.PayloadKeyPackageID: pkg.ID},
	}, pkg.ID)
	if err != nil {
		h.logger.Error("Failed to create render job", slog.String("package_id", pkg.ID), logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create render job"})
		return
	}

	h.logger.Info("Render job enqueued",
		slog.String("job_id", job.ID),
		slog.String("package_id", pkg.ID),
		slog.Int("documents", len(documentIDs)),
	)

	h.announce(ctx, job, pkg.ID)

	c.JSON(http.StatusCreated, dto.UploadDocumentsResponse{
		PackageID:   pkg.ID,
		DocumentIDs: documentIDs,
		JobID:       job.ID,
	})
}

// storeDocument upserts the document row for f and writes its bytes to raw_uploads.
func (h *PackageHandler) storeDocument(ctx context.Context, pkg *domain.Package, userID string, discipline *string, f uploadedFile) (string, *requestError) {
	created := false
	doc, err := h.store.FindDocumentByFilename(ctx, pkg.ID, f.name)
	switch {
	case err == nil:
		purged, err := h.store.DeleteSheetsByDocument(ctx, doc.ID)
		if err != nil {
			h.logger.Error("Failed to clear previous sheets", slog.String("document_id", doc.ID), logger.Err(err))
			return "", &requestError{http.StatusInternalServerError, fmt.Sprintf("Failed to replace %s", f.name)}
		}
		h.logger.Info("Reusing existing document",
			slog.String("document_id", doc.ID),
			slog.Int64("sheets_removed", purged),
		)
	case errors.Is(err, domain.ErrDocumentNotFound):
		doc, err = h.store.CreateDocument(ctx, &domain.Document{
			PackageID:        pkg.ID,
			Discipline:       discipline,
			OriginalFilename: f.name,
		})
		if err != nil {
			h.logger.Error("Failed to create document", slog.String("filename", f.name), logger.Err(err))
			return "", &requestError{http.StatusInternalServerError, "Failed to create document record"}
		}
		created = true
	default:
		h.logger.Error("Failed to look up document", slog.String("filename", f.name), logger.Err(err))
		return "", &requestError{http.StatusInternalServerError, "Failed to create document record"}
	}

	path := domain.DocumentStoragePath(userID, pkg.ProjectID, pkg.ID, doc.ID, f.name)
	if err := h.blobs.Upload(ctx, domain.BucketRawUploads, path, f.data, domain.ContentTypePDF); err != nil {
		h.logger.Error("Failed to upload document", slog.String("path", path), logger.Err(err))
		if created {
			if delErr := h.store.DeleteDocument(ctx, doc.ID); delErr != nil {
				h.logger.Warn("Failed to remove orphaned document", slog.String("document_id", doc.ID), logger.Err(delErr))
			}
		}
		return "", &requestError{http.StatusBadGateway, fmt.Sprintf("Failed to upload %s", f.name)}
	}

	if err := h.store.SetDocumentStoragePath(ctx, doc.ID, path); err != nil {
		h.logger.Error("Failed to save storage path", slog.String("document_id", doc.ID), logger.Err(err))
		return "", &requestError{http.StatusInternalServerError, fmt.Sprintf("Failed to save %s", f.name)}
	}

	return doc.ID, nil
}

// announce publishes job.enqueued. Workers still find the job by polling when this fails.
func (h *PackageHandler) announce(ctx context.Context, job *domain.Job, packageID string) {
	if h.events == nil {
		return
	}

	body, err := json.Marshal(domain.JobMessage{
		Event:      domain.EventJobEnqueued,
		JobID:      job.ID,
		JobType:    job.Type,
		PackageID:  packageID,
		Status:     domain.JobStatusPending,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Warn("Failed to encode job event", logger.Err(err))
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := h.events.Publish(pubCtx, domain.EventJobEnqueued, body, "application/json"); err != nil {
		h.logger.Warn("Failed to publish job event",
			slog.String("job_id", job.ID),
			logger.Err(err),
		)
	}
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}
