package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/sheetworks/internal/api/dto"
	"github.com/cuongbtq/sheetworks/internal/domain"
	"github.com/cuongbtq/sheetworks/shared/logger"
)

// CreatePackage handles POST /api/v1/projects/:project_id/packages
// Creates a draft package under an existing project
func (h *PackageHandler) CreatePackage(c *gin.Context) {
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}

	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	var req dto.CreatePackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", logger.Err(err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	pkg := domain.Package{
		ProjectID: projectID,
		CreatedBy: userID,
		Label:     req.Label,
		Notes:     req.Notes,
	}
	if req.PackageDate != nil && *req.PackageDate != "" {
		date, err := time.Parse(dto.PackageDateLayout, *req.PackageDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "package_date must be formatted as YYYY-MM-DD",
			})
			return
		}
		pkg.PackageDate = &date
	}

	ctx := c.Request.Context()
	if _, err := h.store.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, domain.ErrProjectNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
			return
		}
		h.logger.Error("Failed to get project", slog.String("project_id", projectID), logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get project"})
		return
	}

	created, err := h.store.CreatePackage(ctx, &pkg)
	if err != nil {
		h.logger.Error("Failed to create package", slog.String("project_id", projectID), logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create package"})
		return
	}

	h.logger.Info("Package created",
		slog.String("package_id", created.ID),
		slog.String("project_id", projectID),
	)

	c.JSON(http.StatusCreated, created)
}

// ListPackages handles GET /api/v1/projects/:project_id/packages
func (h *PackageHandler) ListPackages(c *gin.Context) {
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}

	packages, err := h.store.ListPackages(c.Request.Context(), projectID)
	if err != nil {
		h.logger.Error("Failed to list packages", slog.String("project_id", projectID), logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list packages"})
		return
	}

	c.JSON(http.StatusOK, packages)
}

// GetPackage handles GET /api/v1/packages/:package_id
// Returns the package with its document and sheet counts
func (h *PackageHandler) GetPackage(c *gin.Context) {
	pkg, ok := h.loadPackage(c)
	if !ok {
		return
	}

	documents, sheets, err := h.store.PackageCounts(c.Request.Context(), pkg.ID)
	if err != nil {
		h.logger.Error("Failed to count package contents", slog.String("package_id", pkg.ID), logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get package"})
		return
	}

	c.JSON(http.StatusOK, dto.PackageDetailResponse{
		Package:        *pkg,
		DocumentsCount: documents,
		SheetsCount:    sheets,
	})
}

// ListSheets handles GET /api/v1/packages/:package_id/sheets
func (h *PackageHandler) ListSheets(c *gin.Context) {
	pkg, ok := h.loadPackage(c)
	if !ok {
		return
	}

	sheets, err := h.store.ListSheets(c.Request.Context(), pkg.ID)
	if err != nil {
		h.logger.Error("Failed to list sheets", slog.String("package_id", pkg.ID), logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sheets"})
		return
	}

	c.JSON(http.StatusOK, sheets)
}

// ListPackageJobs handles GET /api/v1/packages/:package_id/jobs
// Returns the jobs referencing the package, newest first
func (h *PackageHandler) ListPackageJobs(c *gin.Context) {
	pkg, ok := h.loadPackage(c)
	if !ok {
		return
	}

	jobs, err := h.store.ListPackageJobs(c.Request.Context(), pkg.ProjectID, pkg.ID)
	if err != nil {
		h.logger.Error("Failed to list package jobs", slog.String("package_id", pkg.ID), logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list jobs"})
		return
	}

	c.JSON(http.StatusOK, jobs)
}

// loadPackage resolves :package_id and writes the error response when it cannot
func (h *PackageHandler) loadPackage(c *gin.Context) (*domain.Package, bool) {
	packageID, ok := uuidParam(c, "package_id")
	if !ok {
		return nil, false
	}

	pkg, err := h.store.GetPackage(c.Request.Context(), packageID)
	if err != nil {
		if errors.Is(err, domain.ErrPackageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Package not found"})
			return nil, false
		}
		h.logger.Error("Failed to get package", slog.String("package_id", packageID), logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get package"})
		return nil, false
	}

	return pkg, true
}

// uuidParam reads a path parameter that must be a UUID
func uuidParam(c *gin.Context, name string) (string, bool) {
	value := c.Param(name)
	if _, err := uuid.Parse(value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": name + " must be a valid UUID",
		})
		return "", false
	}
	return value, true
}

// requestUserID returns the caller id from X-User-ID, falling back to DefaultUserID
func requestUserID(c *gin.Context) (string, bool) {
	userID := c.GetHeader(HeaderUserID)
	if userID == "" {
		return DefaultUserID, true
	}
	if _, err := uuid.Parse(userID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": HeaderUserID + " must be a valid UUID",
		})
		return "", false
	}
	return userID, true
}
