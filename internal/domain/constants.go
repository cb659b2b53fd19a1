package domain

import "time"

// JobStatus is the lifecycle state of a job row
type JobStatus string

// Job status constants
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transition is expected
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// JobType identifies which processor handles a job
type JobType string

// Declared job types. Only render_package has a processor today.
const (
	JobTypeRenderPackage   JobType = "render_package"
	JobTypeExtractMetadata JobType = "extract_metadata"
	JobTypeAlignSheets     JobType = "align_sheets"
	JobTypeDetectChanges   JobType = "detect_changes"
)

// Valid reports whether t is one of the declared job types
func (t JobType) Valid() bool {
	switch t {
	case JobTypeRenderPackage, JobTypeExtractMetadata, JobTypeAlignSheets, JobTypeDetectChanges:
		return true
	}
	return false
}

// PackageStatus is driven by the render job lifecycle
type PackageStatus string

// Package status constants
const (
	PackageStatusDraft      PackageStatus = "draft"
	PackageStatusProcessing PackageStatus = "processing"
	PackageStatusReady      PackageStatus = "ready"
	PackageStatusFailed     PackageStatus = "failed"
)

// Table names
const (
	TableProjects  = "projects"
	TablePackages  = "packages"
	TableDocuments = "documents"
	TableSheets    = "sheets"
	TableJobs      = "jobs"
)

// Storage buckets
const (
	BucketRawUploads        = "raw_uploads"
	BucketSheetImages       = "sheet_images"
	BucketAnalysisArtifacts = "analysis_artifacts"
	BucketEvidenceTiles     = "evidence_tiles"
	BucketExports           = "exports"
)

// Rendering and scheduling defaults
const (
	RenderScale         = 2.0
	ThumbnailMaxWidth   = 400
	DefaultPollInterval = 5 * time.Second
)

// PayloadKeyPackageID is the payload key carried by render_package jobs
const PayloadKeyPackageID = "packageId"

// Content types written to the blob store
const (
	ContentTypePDF = "application/pdf"
	ContentTypePNG = "image/png"
)
