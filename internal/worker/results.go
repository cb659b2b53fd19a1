package worker

import "log/slog"

// PageStatus is the outcome of rendering one page
type PageStatus string

const (
	// PageRendered means the row has image, thumbnail and size recorded
	PageRendered PageStatus = "rendered"
	// PagePartial means the image is stored but the thumbnail upload failed
	PagePartial PageStatus = "partial"
	// PageFailed means the row, if it exists, has no artifacts
	PageFailed PageStatus = "failed"
)

// PageResult records what happened to one page
type PageResult struct {
	PageIndex int
	SheetID   string
	Status    PageStatus
	Err       error
}

// DocumentResult records what happened to one document. Err is set when the
// document failed as a whole; page failures only show up in Pages.
type DocumentResult struct {
	DocumentID string
	PageCount  int
	Pages      []PageResult
	Err        error
}

// PackageResult collects the outcome of a render_package job
type PackageResult struct {
	PackageID string
	Documents []DocumentResult
}

// Summary holds aggregate counts of a PackageResult
type Summary struct {
	Documents       int
	FailedDocuments int
	Pages           int
	RenderedPages   int
	PartialPages    int
	FailedPages     int
}

// Summary aggregates document and page outcomes
func (r *PackageResult) Summary() Summary {
	var s Summary
	for _, d := range r.Documents {
		s.Documents++
		if d.Err != nil {
			s.FailedDocuments++
		}
		for _, p := range d.Pages {
			s.Pages++
			switch p.Status {
			case PageRendered:
				s.RenderedPages++
			case PagePartial:
				s.PartialPages++
			default:
				s.FailedPages++
			}
		}
	}
	return s
}

// LogValue implements slog.LogValuer
func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("documents", s.Documents),
		slog.Int("failed_documents", s.FailedDocuments),
		slog.Int("pages", s.Pages),
		slog.Int("rendered_pages", s.RenderedPages),
		slog.Int("partial_pages", s.PartialPages),
		slog.Int("failed_pages", s.FailedPages),
	)
}
