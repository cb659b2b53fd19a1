package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/sheetworks/internal/api/storage"
	"github.com/cuongbtq/sheetworks/internal/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var errBoom = errors.New("boom")

type fakeStore struct {
	mu        sync.Mutex
	projects  map[string]*domain.Project
	packages  map[string]*domain.Package
	documents []*domain.Document
	sheets    []domain.Sheet
	jobs      []*domain.Job

	deletedDocuments []string

	createDocumentErr error
	enqueueErr        error
	listJobsErr       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects: map[string]*domain.Project{},
		packages: map[string]*domain.Package{},
	}
}

func (s *fakeStore) addProject() *domain.Project {
	p := &domain.Project{ID: uuid.NewString(), OwnerID: uuid.NewString(), Name: "Tower A"}
	s.projects[p.ID] = p
	return p
}

func (s *fakeStore) addPackage(projectID string) *domain.Package {
	p := &domain.Package{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		CreatedBy: DefaultUserID,
		Label:     "IFC Set",
		Status:    domain.PackageStatusDraft,
	}
	s.packages[p.ID] = p
	return p
}

func (s *fakeStore) addDocument(packageID, filename string) *domain.Document {
	d := &domain.Document{
		ID:               uuid.NewString(),
		PackageID:        packageID,
		OriginalFilename: filename,
	}
	s.documents = append(s.documents, d)
	return d
}

func (s *fakeStore) addSheet(doc *domain.Document, pageIndex int) {
	s.sheets = append(s.sheets, domain.Sheet{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		PackageID:  doc.PackageID,
		PageIndex:  pageIndex,
	})
}

func (s *fakeStore) addJob(packageID string, createdAt time.Time) *domain.Job {
	pkg := s.packages[packageID]
	var projectID *string
	if pkg != nil {
		projectID = &pkg.ProjectID
	}
	j := &domain.Job{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Type:      domain.JobTypeRenderPackage,
		Status:    domain.JobStatusPending,
		Payload:   domain.Payload{domain.PayloadKeyPackageID: packageID},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	s.jobs = append(s.jobs, j)
	return j
}

func (s *fakeStore) documentsOf(packageID string) []*domain.Document {
	var out []*domain.Document
	for _, d := range s.documents {
		if d.PackageID == packageID {
			out = append(out, d)
		}
	}
	return out
}

func (s *fakeStore) sheetsOf(documentID string) int {
	n := 0
	for _, sh := range s.sheets {
		if sh.DocumentID == documentID {
			n++
		}
	}
	return n
}

func (s *fakeStore) GetProject(_ context.Context, projectID string) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, domain.ErrProjectNotFound
	}
	return p, nil
}

func (s *fakeStore) CreatePackage(_ context.Context, pkg *domain.Package) (*domain.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	created := *pkg
	created.ID = uuid.NewString()
	created.Status = domain.PackageStatusDraft
	created.CreatedAt = time.Now()
	created.UpdatedAt = created.CreatedAt
	s.packages[created.ID] = &created
	return &created, nil
}

func (s *fakeStore) ListPackages(_ context.Context, projectID string) ([]domain.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Package{}
	for _, p := range s.packages {
		if p.ProjectID == projectID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fakeStore) GetPackage(_ context.Context, packageID string) (*domain.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.packages[packageID]
	if !ok {
		return nil, domain.ErrPackageNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) PackageCounts(_ context.Context, packageID string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sheets := 0
	for _, sh := range s.sheets {
		if sh.PackageID == packageID {
			sheets++
		}
	}
	return len(s.documentsOf(packageID)), sheets, nil
}

func (s *fakeStore) FindDocumentByFilename(_ context.Context, packageID, filename string) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.documents {
		if d.PackageID == packageID && d.OriginalFilename == filename {
			return d, nil
		}
	}
	return nil, domain.ErrDocumentNotFound
}

func (s *fakeStore) CreateDocument(_ context.Context, doc *domain.Document) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createDocumentErr != nil {
		return nil, s.createDocumentErr
	}
	created := *doc
	created.ID = uuid.NewString()
	s.documents = append(s.documents, &created)
	return &created, nil
}

func (s *fakeStore) DeleteDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.documents[:0]
	for _, d := range s.documents {
		if d.ID != documentID {
			kept = append(kept, d)
		}
	}
	s.documents = kept
	s.deletedDocuments = append(s.deletedDocuments, documentID)
	return nil
}

func (s *fakeStore) SetDocumentStoragePath(_ context.Context, documentID, storagePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.documents {
		if d.ID == documentID {
			d.StoragePath = storagePath
			return nil
		}
	}
	return domain.ErrDocumentNotFound
}

func (s *fakeStore) DeleteSheetsByDocument(_ context.Context, documentID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	kept := s.sheets[:0]
	for _, sh := range s.sheets {
		if sh.DocumentID == documentID {
			removed++
			continue
		}
		kept = append(kept, sh)
	}
	s.sheets = kept
	return removed, nil
}

func (s *fakeStore) EnqueueRenderJob(_ context.Context, job *domain.Job, packageID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enqueueErr != nil {
		return nil, s.enqueueErr
	}
	created := *job
	created.ID = uuid.NewString()
	created.Status = domain.JobStatusPending
	created.Progress = 0
	created.CreatedAt = time.Now()
	created.UpdatedAt = created.CreatedAt
	s.jobs = append(s.jobs, &created)
	if p, ok := s.packages[packageID]; ok {
		p.Status = domain.PackageStatusProcessing
	}
	return &created, nil
}

func (s *fakeStore) ListSheets(_ context.Context, packageID string) ([]domain.Sheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Sheet{}
	for _, sh := range s.sheets {
		if sh.PackageID == packageID {
			out = append(out, sh)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].PageIndex < out[j].PageIndex
	})
	return out, nil
}

func (s *fakeStore) ListPackageJobs(_ context.Context, projectID, packageID string) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Job{}
	for _, j := range s.jobs {
		pkgID, _ := j.Payload.PackageID()
		if j.ProjectID != nil && *j.ProjectID == projectID && pkgID == packageID {
			out = append(out, *j)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *fakeStore) GetJobByID(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ID == jobID {
			cp := *j
			return &cp, nil
		}
	}
	return nil, domain.ErrJobNotFound
}

func (s *fakeStore) ListJobs(_ context.Context, filter storage.JobFilter) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listJobsErr != nil {
		return nil, s.listJobsErr
	}

	out := []domain.Job{}
	for _, j := range s.jobs {
		if filter.Type != "" && string(j.Type) != filter.Type {
			continue
		}
		if filter.Status != "" && string(j.Status) != filter.Status {
			continue
		}
		if filter.CreatedBy != "" && (j.CreatedBy == nil || *j.CreatedBy != filter.CreatedBy) {
			continue
		}
		if c := filter.Cursor; c != nil {
			before := j.CreatedAt.Before(c.CreatedAt) || (j.CreatedAt.Equal(c.CreatedAt) && j.ID < c.ID)
			if !before {
				continue
			}
		}
		out = append(out, *j)
	}
	sortNewestFirst(out)
	if len(out) > filter.PageSize+1 {
		out = out[:filter.PageSize+1]
	}
	return out, nil
}

func sortNewestFirst(jobs []domain.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID > jobs[j].ID
	})
}

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}}
}

func (b *fakeBlobs) Upload(_ context.Context, bucket, path string, data []byte, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.objects[bucket+"/"+path] = data
	return nil
}

func (b *fakeBlobs) get(bucket, path string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[bucket+"/"+path]
	return data, ok
}

type publishedEvent struct {
	routingKey string
	body       []byte
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, routingKey string, body []byte, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{routingKey: routingKey, body: body})
	return nil
}

type testServer struct {
	engine *gin.Engine
	store  *fakeStore
	blobs  *fakeBlobs
	events *fakePublisher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{
		store:  newFakeStore(),
		blobs:  newFakeBlobs(),
		events: &fakePublisher{},
	}
	deps := &Dependencies{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:  ts.store,
		Blobs:  ts.blobs,
		Events: ts.events,
	}

	packages := NewPackageHandler(deps)
	jobs := NewJobHandler(deps)

	r := gin.New()
	r.POST("/projects/:project_id/packages", packages.CreatePackage)
	r.GET("/projects/:project_id/packages", packages.ListPackages)
	r.GET("/packages/:package_id", packages.GetPackage)
	r.POST("/packages/:package_id/documents/upload", packages.UploadDocuments)
	r.GET("/packages/:package_id/sheets", packages.ListSheets)
	r.GET("/packages/:package_id/jobs", packages.ListPackageJobs)
	r.GET("/jobs", jobs.ListJobs)
	r.GET("/jobs/:job_id", jobs.GetJob)
	ts.engine = r

	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w
}

type formFile struct {
	name string
	data []byte
}

func pdfBytes(marker string) []byte {
	return []byte("%PDF-1.4\n% " + marker + "\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")
}

// newUploadRequest builds a multipart request carrying files under the "files" field
func newUploadRequest(t *testing.T, packageID string, files []formFile, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		part, err := mw.CreateFormFile("files", f.name)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/packages/"+packageID+"/documents/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}
