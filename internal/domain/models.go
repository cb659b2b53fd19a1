package domain

import "time"

// Project owns packages; the worker only reads it through package rows
type Project struct {
	ID          string    `db:"id" json:"id"`
	OwnerID     string    `db:"owner_id" json:"owner_id"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Package is a versioned set of uploaded drawing documents
type Package struct {
	ID          string        `db:"id" json:"id"`
	ProjectID   string        `db:"project_id" json:"project_id"`
	CreatedBy   string        `db:"created_by" json:"created_by"`
	Label       string        `db:"label" json:"label"`
	PackageDate *time.Time    `db:"package_date" json:"package_date"`
	Notes       *string       `db:"notes" json:"notes"`
	Status      PackageStatus `db:"status" json:"status"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
}

// Document is one uploaded PDF within a package.
// PageCount stays nil until the rasterizer has opened the file.
type Document struct {
	ID               string    `db:"id" json:"id"`
	PackageID        string    `db:"package_id" json:"package_id"`
	Discipline       *string   `db:"discipline" json:"discipline"`
	OriginalFilename string    `db:"original_filename" json:"original_filename"`
	StoragePath      string    `db:"storage_path" json:"storage_path"`
	PageCount        *int      `db:"page_count" json:"page_count"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// Sheet is one rendered page of a document
type Sheet struct {
	ID              string    `db:"id" json:"id"`
	DocumentID      string    `db:"document_id" json:"document_id"`
	PackageID       string    `db:"package_id" json:"package_id"`
	PageIndex       int       `db:"page_index" json:"page_index"`
	ImagePath       *string   `db:"image_path" json:"image_path"`
	ThumbPath       *string   `db:"thumb_path" json:"thumb_path"`
	WidthPx         *int      `db:"width_px" json:"width_px"`
	HeightPx        *int      `db:"height_px" json:"height_px"`
	SheetNumber     *string   `db:"sheet_number" json:"sheet_number"`
	SheetTitle      *string   `db:"sheet_title" json:"sheet_title"`
	DisciplineGuess *string   `db:"discipline_guess" json:"discipline_guess"`
	MetaConfidence  *float64  `db:"meta_confidence" json:"meta_confidence"`
	TextExtractPath *string   `db:"text_extract_path" json:"text_extract_path"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Complete reports whether both rendered artifacts are recorded on the row
func (s *Sheet) Complete() bool {
	return s.ImagePath != nil && s.ThumbPath != nil && s.WidthPx != nil && s.HeightPx != nil
}

// SheetArtifacts is the partial update written once a page has been rendered
type SheetArtifacts struct {
	ImagePath string
	ThumbPath *string
	WidthPx   int
	HeightPx  int
}
