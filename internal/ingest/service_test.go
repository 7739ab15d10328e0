package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"bitwise74/media-api/config"
	"bitwise74/media-api/db"
	"bitwise74/media-api/internal/model"
	"bitwise74/media-api/internal/service"
	"bitwise74/media-api/pkg/validators"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	mp4Header = []byte("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00isomiso2")
)

type fakeProber struct {
	res *service.ProbeResult
}

func (f *fakeProber) Probe(context.Context, string) (*service.ProbeResult, error) {
	return f.res, nil
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	deleted []string
	failPut error
}

func (s *memStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failPut != nil {
		return "", s.failPut
	}

	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}

	s.puts++
	s.objects[key] = b
	return "https://cdn.test/" + key, nil
}

func (s *memStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.objects, k)
		s.deleted = append(s.deleted, k)
	}
	return nil
}

type fakeJobs struct {
	mu         sync.Mutex
	dispatched []string
	cancelled  []string
}

func (j *fakeJobs) Track(tx *gorm.DB, fileID string) error {
	return tx.Create(&model.Job{FileID: fileID, Type: model.JobMetadata, Status: model.JobPending}).Error
}

func (j *fakeJobs) Dispatch(_ context.Context, fileID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.dispatched = append(j.dispatched, fileID)
	return nil
}

func (j *fakeJobs) CancelAll(_ context.Context, fileID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.cancelled = append(j.cancelled, fileID)
	return nil
}

type fixture struct {
	db    *gorm.DB
	svc   *Service
	store *memStore
	jobs  *fakeJobs
	probe *fakeProber
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	d, err := db.NewMemory()
	require.NoError(t, err)

	probe := &fakeProber{res: &service.ProbeResult{
		Streams: []service.ProbeStream{{CodecType: "video", Width: 2000, Height: 1000}},
	}}

	limits := config.LimitsConfig{
		MaxSize:      map[string]int64{"image": 5, "video": 5},
		MaxDimension: 12000,
		MaxDuration:  time.Hour,
	}

	fx := &fixture{
		db:    d,
		store: &memStore{objects: map[string][]byte{}},
		jobs:  &fakeJobs{},
		probe: probe,
	}
	fx.svc = New(d, validators.NewValidator(limits, probe), fx.store, fx.jobs, opts)

	return fx
}

func (fx *fixture) upload(owner string, body []byte, form validators.UploadForm) (*Result, error) {
	return fx.svc.Upload(context.Background(), Upload{
		OwnerID:      owner,
		Filename:     "harbour.png",
		DeclaredMIME: "image/jpeg",
		Body:         bytes.NewReader(body),
		Form:         form,
	})
}

func (fx *fixture) count(t *testing.T, m any) int64 {
	t.Helper()

	var n int64
	require.NoError(t, fx.db.Model(m).Count(&n).Error)
	return n
}

func png(extra string) []byte {
	return append(append([]byte{}, pngHeader...), extra...)
}

func TestUploadCreatesRecord(t *testing.T) {
	fx := newFixture(t, Options{})

	res, err := fx.upload("owner-1", png("a"), validators.UploadForm{
		Title:             " Harbour ",
		Category:          "poi_image",
		RelatedEntityType: "POI",
		RelatedEntityID:   "poi-9",
	})
	require.NoError(t, err)
	require.False(t, res.Duplicate)

	f := res.File
	assert.Equal(t, "Harbour", f.Title)
	assert.Equal(t, model.ClassImage, f.MediaClass)
	assert.Equal(t, "image/png", f.MIMEType)
	assert.Equal(t, "image/jpeg", f.DeclaredMIME)
	assert.Equal(t, model.PrivacyPublic, f.Privacy)
	assert.Equal(t, model.EntityRef{Type: "poi", ID: "poi-9"}, f.Related)
	assert.Equal(t, 2000, f.Width)
	assert.Len(t, f.ContentHash, 64)
	assert.Equal(t, "originals/"+f.Filename, f.StoragePath)
	assert.Equal(t, "https://cdn.test/"+f.StoragePath, f.CDNURL)

	assert.Equal(t, png("a"), fx.store.objects[f.StoragePath])
	assert.Equal(t, []string{f.ID}, fx.jobs.dispatched)
	assert.EqualValues(t, 1, fx.count(t, &model.Job{}))
}

func TestDuplicateUploadReturnsExisting(t *testing.T) {
	fx := newFixture(t, Options{})

	first, err := fx.upload("owner-1", png("same"), validators.UploadForm{})
	require.NoError(t, err)

	second, err := fx.upload("owner-1", png("same"), validators.UploadForm{Title: "again"})
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.File.ID, second.File.ID)
	assert.Equal(t, 1, fx.store.puts)
	assert.EqualValues(t, 1, fx.count(t, &model.MediaFile{}))
	assert.Len(t, fx.jobs.dispatched, 1)

	// another owner is a separate scope
	other, err := fx.upload("owner-2", png("same"), validators.UploadForm{})
	require.NoError(t, err)
	assert.False(t, other.Duplicate)
	assert.NotEqual(t, first.File.ID, other.File.ID)
}

func TestGlobalScope(t *testing.T) {
	fx := newFixture(t, Options{Scope: ScopeGlobal})

	first, err := fx.upload("owner-1", png("x"), validators.UploadForm{Privacy: "private"})
	require.NoError(t, err)

	second, err := fx.upload("owner-2", png("x"), validators.UploadForm{})
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.File.ID, second.File.ID)
}

func TestPublicScope(t *testing.T) {
	fx := newFixture(t, Options{Scope: ScopePublic})

	first, err := fx.upload("owner-1", png("p"), validators.UploadForm{})
	require.NoError(t, err)

	public, err := fx.upload("owner-2", png("p"), validators.UploadForm{Privacy: "public"})
	require.NoError(t, err)
	assert.True(t, public.Duplicate)
	assert.Equal(t, first.File.ID, public.File.ID)

	private, err := fx.upload("owner-2", png("p"), validators.UploadForm{Privacy: "private"})
	require.NoError(t, err)
	assert.False(t, private.Duplicate)
}

func TestConcurrentIdenticalUploads(t *testing.T) {
	tests := []struct {
		name   string
		opts   Options
		owners []string
	}{
		{"owner", Options{Scope: ScopeOwner}, []string{"owner-1", "owner-1", "owner-1", "owner-1", "owner-1", "owner-1"}},
		{"public", Options{Scope: ScopePublic}, []string{"owner-1", "owner-2", "owner-3", "owner-4", "owner-5", "owner-6"}},
		{"global", Options{Scope: ScopeGlobal}, []string{"owner-1", "owner-2", "owner-3", "owner-4", "owner-5", "owner-6"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, tt.opts)

			results := make([]*Result, len(tt.owners))
			errs := make([]error, len(tt.owners))

			var wg sync.WaitGroup
			for i, owner := range tt.owners {
				wg.Add(1)
				go func() {
					defer wg.Done()
					results[i], errs[i] = fx.upload(owner, png("race"), validators.UploadForm{Privacy: "public"})
				}()
			}
			wg.Wait()

			created := 0
			for i := range results {
				require.NoError(t, errs[i])
				if !results[i].Duplicate {
					created++
				}
				assert.Equal(t, results[0].File.ID, results[i].File.ID)
			}

			assert.Equal(t, 1, created)
			assert.Equal(t, 1, fx.store.puts)
			assert.EqualValues(t, 1, fx.count(t, &model.MediaFile{}))
		})
	}
}

func TestPublicClaimFollowsPrivacy(t *testing.T) {
	fx := newFixture(t, Options{Scope: ScopePublic})
	ctx := context.Background()

	first, err := fx.upload("owner-1", png("pc"), validators.UploadForm{Privacy: "public"})
	require.NoError(t, err)

	private := "private"
	_, err = fx.svc.Update(ctx, first.File.ID, Patch{Privacy: &private})
	require.NoError(t, err)

	// with the first file hidden another owner's public copy is new
	second, err := fx.upload("owner-2", png("pc"), validators.UploadForm{Privacy: "public"})
	require.NoError(t, err)
	assert.False(t, second.Duplicate)

	// turning public again does not take over the existing claim
	public := "public"
	_, err = fx.svc.Update(ctx, first.File.ID, Patch{Privacy: &public})
	require.NoError(t, err)

	third, err := fx.upload("owner-3", png("pc"), validators.UploadForm{Privacy: "public"})
	require.NoError(t, err)
	assert.True(t, third.Duplicate)
	assert.Equal(t, second.File.ID, third.File.ID)

	// archiving releases the shared claim
	require.NoError(t, fx.svc.Archive(ctx, second.File.ID))

	var n int64
	require.NoError(t, fx.db.Model(&model.ContentFingerprint{}).Where("scope_key = ?", publicScopeKey).Count(&n).Error)
	assert.Zero(t, n)
}

func TestAllowDuplicates(t *testing.T) {
	fx := newFixture(t, Options{AllowDuplicates: true})

	first, err := fx.upload("owner-1", png("d"), validators.UploadForm{})
	require.NoError(t, err)

	second, err := fx.upload("owner-1", png("d"), validators.UploadForm{})
	require.NoError(t, err)

	assert.False(t, second.Duplicate)
	assert.NotEqual(t, first.File.ID, second.File.ID)
	assert.Equal(t, first.File.ContentHash, second.File.ContentHash)
}

func TestDurationExceededCreatesNothing(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.probe.res = &service.ProbeResult{
		Streams: []service.ProbeStream{{CodecType: "video", Width: 1920, Height: 1080}},
		Format:  service.ProbeFormat{Duration: "7200.5"},
	}

	body := append(append([]byte{}, mp4Header...), make([]byte, 64)...)

	_, err := fx.svc.Upload(context.Background(), Upload{
		OwnerID:  "owner-1",
		Filename: "tour.mp4",
		Body:     bytes.NewReader(body),
		Form:     validators.UploadForm{Category: "experience_media"},
	})

	var verr *validators.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, validators.ReasonDurationExceeded, verr.Reason)

	assert.Zero(t, fx.store.puts)
	assert.Zero(t, fx.count(t, &model.MediaFile{}))
	assert.Zero(t, fx.count(t, &model.ContentFingerprint{}))
	assert.Zero(t, fx.count(t, &model.Job{}))
}

func TestStorageFailureReleasesClaim(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.store.failPut = errors.New("bucket unavailable")

	_, err := fx.upload("owner-1", png("s"), validators.UploadForm{})
	require.Error(t, err)
	assert.Zero(t, fx.count(t, &model.MediaFile{}))
	assert.Zero(t, fx.count(t, &model.ContentFingerprint{}))

	fx.store.failPut = nil

	res, err := fx.upload("owner-1", png("s"), validators.UploadForm{})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
}

func TestUploadNewVersion(t *testing.T) {
	fx := newFixture(t, Options{})

	parent, err := fx.upload("owner-1", png("v1"), validators.UploadForm{})
	require.NoError(t, err)

	child, err := fx.upload("owner-1", png("v2"), validators.UploadForm{ParentID: parent.File.ID})
	require.NoError(t, err)
	require.NotNil(t, child.File.ParentID)
	assert.Equal(t, parent.File.ID, *child.File.ParentID)
	assert.Equal(t, 2, child.File.Version)

	_, err = fx.upload("owner-2", png("v3"), validators.UploadForm{ParentID: parent.File.ID})
	assert.ErrorIs(t, err, ErrParentNotFound)
}

func TestArchive(t *testing.T) {
	fx := newFixture(t, Options{})
	ctx := context.Background()

	var changed []string
	fx.svc.OnChange = func(id string) { changed = append(changed, id) }

	res, err := fx.upload("owner-1", png("arch"), validators.UploadForm{})
	require.NoError(t, err)
	f := res.File

	require.NoError(t, fx.db.Create(&model.ProcessedVariant{
		FileID:      f.ID,
		VariantType: "thumbnail",
		StoragePath: "variants/" + f.ID + "/thumbnail.jpg",
		Status:      model.VariantCompleted,
	}).Error)

	require.NoError(t, fx.svc.Archive(ctx, f.ID))

	var stored model.MediaFile
	require.NoError(t, fx.db.First(&stored, "id = ?", f.ID).Error)
	assert.True(t, stored.Archived)
	assert.NotNil(t, stored.ArchivedAt)

	assert.Zero(t, fx.count(t, &model.ProcessedVariant{}))
	assert.Zero(t, fx.count(t, &model.ContentFingerprint{}))
	assert.ElementsMatch(t, []string{f.StoragePath, "variants/" + f.ID + "/thumbnail.jpg"}, fx.store.deleted)
	assert.Equal(t, []string{f.ID}, fx.jobs.cancelled)

	// archiving twice is a no-op
	require.NoError(t, fx.svc.Archive(ctx, f.ID))
	assert.Len(t, fx.jobs.cancelled, 1)

	// the content can be uploaded again
	again, err := fx.upload("owner-1", png("arch"), validators.UploadForm{})
	require.NoError(t, err)
	assert.False(t, again.Duplicate)

	assert.ErrorIs(t, fx.svc.Archive(ctx, "missing"), ErrFileNotFound)
	assert.Equal(t, []string{f.ID, f.ID, again.File.ID}, changed)
}

func TestUpdate(t *testing.T) {
	fx := newFixture(t, Options{})
	ctx := context.Background()

	res, err := fx.upload("owner-1", png("u"), validators.UploadForm{Title: "old"})
	require.NoError(t, err)

	title, privacy := "new title", "private"
	f, err := fx.svc.Update(ctx, res.File.ID, Patch{Title: &title, Privacy: &privacy})
	require.NoError(t, err)
	assert.Equal(t, "new title", f.Title)
	assert.Equal(t, model.PrivacyPrivate, f.Privacy)

	bad := "friends"
	_, err = fx.svc.Update(ctx, res.File.ID, Patch{Privacy: &bad})
	var verr *validators.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, validators.ReasonInvalidField, verr.Reason)

	_, err = fx.svc.Update(ctx, "missing", Patch{Title: &title})
	assert.ErrorIs(t, err, ErrFileNotFound)
}
