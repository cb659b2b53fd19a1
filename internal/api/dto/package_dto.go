package dto

import "github.com/cuongbtq/sheetworks/internal/domain"

// PackageDateLayout is the accepted format of package_date
const PackageDateLayout = "2006-01-02"

type CreatePackageRequest struct {
	Label       string  `json:"label" binding:"required"`
	PackageDate *string `json:"package_date"`
	Notes       *string `json:"notes"`
}

type PackageDetailResponse struct {
	domain.Package
	DocumentsCount int `json:"documents_count"`
	SheetsCount    int `json:"sheets_count"`
}

type UploadDocumentsResponse struct {
	PackageID   string   `json:"package_id"`
	DocumentIDs []string `json:"document_ids"`
	JobID       string   `json:"job_id"`
}
