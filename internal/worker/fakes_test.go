package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/sheetworks/internal/domain"
	"github.com/cuongbtq/sheetworks/internal/worker/render"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type statusWrite struct {
	PackageID string
	Status    domain.PackageStatus
}

// memStore is an in-memory Store. Sheet rows keep the (document_id, page_index)
// uniqueness the schema enforces.
type memStore struct {
	mu sync.Mutex

	jobs      map[string]*domain.Job
	jobOrder  []string
	packages  map[string]*domain.Package
	documents []domain.Document
	sheets    map[string]*domain.Sheet
	seq       int

	progressWrites map[string][]float64
	statusWrites   []statusWrite
	reads          int
	writes         int
	touches        int

	nextErr       error
	claimErr      error
	beforeClaim   func(jobID string)
	getPackageErr error
	listDocsErr   error
	deleteErr     map[string]error
	insertErr     func(documentID string, pageIndex int) error
	updateErr     func(sheetID string) error
}

func newMemStore() *memStore {
	return &memStore{
		jobs:           map[string]*domain.Job{},
		packages:       map[string]*domain.Package{},
		sheets:         map[string]*domain.Sheet{},
		progressWrites: map[string][]float64{},
		deleteErr:      map[string]error{},
	}
}

func (s *memStore) tick() time.Time {
	s.seq++
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(s.seq) * time.Second)
}

func (s *memStore) addPackage(createdBy string) *domain.Package {
	s.mu.Lock()
	defer s.mu.Unlock()

	pkg := &domain.Package{
		ID:        uuid.NewString(),
		ProjectID: uuid.NewString(),
		CreatedBy: createdBy,
		Label:     "Issued for construction",
		Status:    domain.PackageStatusDraft,
		CreatedAt: s.tick(),
	}
	s.packages[pkg.ID] = pkg
	return pkg
}

func (s *memStore) addDocument(pkg *domain.Package, filename string) domain.Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := domain.Document{
		ID:               uuid.NewString(),
		PackageID:        pkg.ID,
		OriginalFilename: filename,
		CreatedAt:        s.tick(),
	}
	doc.StoragePath = domain.DocumentStoragePath(pkg.CreatedBy, pkg.ProjectID, pkg.ID, doc.ID, filename)
	s.documents = append(s.documents, doc)
	return doc
}

func (s *memStore) addJob(jobType domain.JobType, payload domain.Payload) *domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := &domain.Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Status:    domain.JobStatusPending,
		Payload:   payload,
		CreatedAt: s.tick(),
	}
	job.UpdatedAt = job.CreatedAt
	s.jobs[job.ID] = job
	s.jobOrder = append(s.jobOrder, job.ID)
	return job
}

func (s *memStore) job(id string) domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *memStore) pkg(id string) domain.Package {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.packages[id]
}

func (s *memStore) sheetsOf(documentID string) []domain.Sheet {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Sheet
	for _, sh := range s.sheets {
		if sh.DocumentID == documentID {
			out = append(out, *sh)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageIndex < out[j].PageIndex })
	return out
}

func (s *memStore) document(id string) domain.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.documents {
		if d.ID == id {
			return d
		}
	}
	return domain.Document{}
}

func (s *memStore) counts() (reads, writes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads, s.writes
}

func (s *memStore) NextPendingJob(_ context.Context, types []domain.JobType) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++

	if s.nextErr != nil {
		return nil, s.nextErr
	}
	for _, id := range s.jobOrder {
		j := s.jobs[id]
		if j.Status != domain.JobStatusPending {
			continue
		}
		for _, t := range types {
			if j.Type == t {
				cp := *j
				return &cp, nil
			}
		}
	}
	return nil, domain.ErrJobNotFound
}

func (s *memStore) ClaimJob(_ context.Context, jobID string) (*domain.Job, error) {
	if s.beforeClaim != nil {
		s.beforeClaim(jobID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.claimErr != nil {
		return nil, s.claimErr
	}
	j, ok := s.jobs[jobID]
	if !ok || j.Status != domain.JobStatusPending {
		return nil, domain.ErrJobAlreadyClaimed
	}
	s.writes++
	j.Status = domain.JobStatusRunning
	j.Progress = 0
	j.UpdatedAt = s.tick()
	cp := *j
	return &cp, nil
}

func (s *memStore) UpdateJobProgress(_ context.Context, jobID string, progress float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++

	j := s.jobs[jobID]
	if j.Status != domain.JobStatusRunning {
		return nil
	}
	if progress > j.Progress {
		j.Progress = progress
	}
	s.progressWrites[jobID] = append(s.progressWrites[jobID], j.Progress)
	return nil
}

func (s *memStore) TouchJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touches++

	if j := s.jobs[jobID]; j.Status == domain.JobStatusRunning {
		j.UpdatedAt = time.Now()
	}
	return nil
}

func (s *memStore) touchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touches
}

func (s *memStore) CompleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++

	j := s.jobs[jobID]
	if j.Status != domain.JobStatusRunning {
		return nil
	}
	j.Status = domain.JobStatusSucceeded
	j.Progress = 1
	j.Error = nil
	s.progressWrites[jobID] = append(s.progressWrites[jobID], 1)
	return nil
}

func (s *memStore) FailJob(_ context.Context, jobID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++

	j := s.jobs[jobID]
	if j.Status != domain.JobStatusRunning {
		return nil
	}
	j.Status = domain.JobStatusFailed
	j.Error = &message
	return nil
}

func (s *memStore) RecoverStaleJobs(_ context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	var n int64
	for _, j := range s.jobs {
		if j.Status == domain.JobStatusRunning && j.UpdatedAt.Before(cutoff) {
			j.Status = domain.JobStatusPending
			j.Progress = 0
			n++
		}
	}
	return n, nil
}

func (s *memStore) GetPackage(_ context.Context, packageID string) (*domain.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++

	if s.getPackageErr != nil {
		return nil, s.getPackageErr
	}
	p, ok := s.packages[packageID]
	if !ok {
		return nil, domain.ErrPackageNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) SetPackageStatus(_ context.Context, packageID string, status domain.PackageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++

	s.statusWrites = append(s.statusWrites, statusWrite{PackageID: packageID, Status: status})
	if p, ok := s.packages[packageID]; ok {
		p.Status = status
	}
	return nil
}

func (s *memStore) ListDocuments(_ context.Context, packageID string) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++

	if s.listDocsErr != nil {
		return nil, s.listDocsErr
	}
	var out []domain.Document
	for _, d := range s.documents {
		if d.PackageID == packageID {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) SetDocumentPageCount(_ context.Context, documentID string, pageCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++

	for i := range s.documents {
		if s.documents[i].ID == documentID {
			n := pageCount
			s.documents[i].PageCount = &n
			return nil
		}
	}
	return domain.ErrDocumentNotFound
}

func (s *memStore) DeleteSheetsByDocument(_ context.Context, documentID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++

	if err := s.deleteErr[documentID]; err != nil {
		return 0, err
	}
	var n int64
	for id, sh := range s.sheets {
		if sh.DocumentID == documentID {
			delete(s.sheets, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) InsertSheet(_ context.Context, documentID, packageID string, pageIndex int) (string, error) {
	if s.insertErr != nil {
		if err := s.insertErr(documentID, pageIndex); err != nil {
			return "", err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++

	for _, sh := range s.sheets {
		if sh.DocumentID == documentID && sh.PageIndex == pageIndex {
			return "", fmt.Errorf("duplicate key value violates unique constraint: (%s, %d)", documentID, pageIndex)
		}
	}
	sh := &domain.Sheet{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		PackageID:  packageID,
		PageIndex:  pageIndex,
		CreatedAt:  s.tick(),
	}
	s.sheets[sh.ID] = sh
	return sh.ID, nil
}

func (s *memStore) UpdateSheetArtifacts(_ context.Context, sheetID string, a domain.SheetArtifacts) error {
	if s.updateErr != nil {
		if err := s.updateErr(sheetID); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++

	sh, ok := s.sheets[sheetID]
	if !ok {
		return fmt.Errorf("sheet %s not found", sheetID)
	}
	img := a.ImagePath
	w, h := a.WidthPx, a.HeightPx
	sh.ImagePath = &img
	sh.ThumbPath = a.ThumbPath
	sh.WidthPx = &w
	sh.HeightPx = &h
	return nil
}

// memBlobs is an in-memory BlobStore
type memBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploadErr func(bucket, path string) error
	uploads   []string
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}}
}

func (b *memBlobs) put(bucket, path string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[bucket+"/"+path] = data
}

func (b *memBlobs) has(bucket, path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[bucket+"/"+path]
	return ok
}

func (b *memBlobs) Upload(_ context.Context, bucket, path string, data []byte, _ string) error {
	if b.uploadErr != nil {
		if err := b.uploadErr(bucket, path); err != nil {
			return err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[bucket+"/"+path] = data
	b.uploads = append(b.uploads, bucket+"/"+path)
	return nil
}

func (b *memBlobs) Download(_ context.Context, bucket, path string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[bucket+"/"+path]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

// fakePDF encodes a page count the fake rasterizer understands
func fakePDF(pages int) []byte {
	return []byte("%PDF-fake pages=" + strconv.Itoa(pages))
}

// fakeRasterizer opens fakePDF documents
type fakeRasterizer struct {
	renderErr func(pageIndex int) error
	panicPage int
}

func newFakeRasterizer() *fakeRasterizer {
	return &fakeRasterizer{panicPage: -1}
}

func (r *fakeRasterizer) Open(ctx context.Context, pdf []byte) (PageSource, error) {
	s := string(pdf)
	idx := strings.Index(s, "pages=")
	if !strings.HasPrefix(s, "%PDF") || idx < 0 {
		return nil, fmt.Errorf("%w: not a pdf", render.ErrInvalidPDF)
	}
	n, err := strconv.Atoi(s[idx+len("pages="):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", render.ErrInvalidPDF, err)
	}
	return &fakeSource{r: r, pages: n}, nil
}

type fakeSource struct {
	r      *fakeRasterizer
	pages  int
	closed bool
}

func (s *fakeSource) PageCount() int { return s.pages }

func (s *fakeSource) Render(ctx context.Context, pageIndex int) (*render.Raster, error) {
	if pageIndex == s.r.panicPage {
		panic("corrupt content stream")
	}
	if s.r.renderErr != nil {
		if err := s.r.renderErr(pageIndex); err != nil {
			return nil, err
		}
	}
	return &render.Raster{
		PNG:    []byte("png-" + strconv.Itoa(pageIndex)),
		Width:  1224,
		Height: 1584,
	}, nil
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

type fakeThumbnailer struct{}

func (fakeThumbnailer) Thumbnail(image []byte) ([]byte, error) {
	return append([]byte("thumb-"), image...), nil
}

// fakePublisher records published routing keys
type fakePublisher struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, routingKey string, _ []byte, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return p.err
}

func (p *fakePublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

// fakeAcknowledger records AMQP acknowledgements
type fakeAcknowledger struct {
	mu    sync.Mutex
	acks  int
	nacks int
}

func (a *fakeAcknowledger) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *fakeAcknowledger) Nack(uint64, bool, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	return nil
}

func (a *fakeAcknowledger) Reject(uint64, bool) error { return nil }

func (a *fakeAcknowledger) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks, a.nacks
}

// fixture wires a worker over in-memory dependencies
type fixture struct {
	store      *memStore
	blobs      *memBlobs
	rasterizer *fakeRasterizer
	events     *fakePublisher
	worker     *Worker
}

func newFixture(mutate ...func(*Config)) *fixture {
	f := &fixture{
		store:      newMemStore(),
		blobs:      newMemBlobs(),
		rasterizer: newFakeRasterizer(),
		events:     &fakePublisher{},
	}

	cfg := &Config{
		Logger:       discardLogger(),
		Store:        f.store,
		Blobs:        f.blobs,
		Rasterizer:   f.rasterizer,
		Thumbnailer:  fakeThumbnailer{},
		Events:       f.events,
		PollInterval: 10 * time.Millisecond,
	}
	for _, m := range mutate {
		m(cfg)
	}

	f.worker = NewWorker(cfg)
	return f
}

// seedDocument adds a document whose stored PDF has the given page count
func (f *fixture) seedDocument(pkg *domain.Package, filename string, pages int) domain.Document {
	doc := f.store.addDocument(pkg, filename)
	f.blobs.put(domain.BucketRawUploads, doc.StoragePath, fakePDF(pages))
	return doc
}

func (f *fixture) renderJob(pkg *domain.Package) *domain.Job {
	return f.store.addJob(domain.JobTypeRenderPackage, domain.Payload{domain.PayloadKeyPackageID: pkg.ID})
}
