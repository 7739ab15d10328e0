package app

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bitwise74/media-api/config"
	"bitwise74/media-api/db"
	"bitwise74/media-api/internal"
	"bitwise74/media-api/internal/ingest"
	"bitwise74/media-api/internal/jobs"
	"bitwise74/media-api/internal/model"
	"bitwise74/media-api/internal/moderation"
	"bitwise74/media-api/internal/search"
	"bitwise74/media-api/internal/similarity"
	"bitwise74/media-api/internal/storage"
	"bitwise74/media-api/internal/tagger"
	"bitwise74/media-api/pkg/middleware"
	"bitwise74/media-api/pkg/validators"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "router-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type server struct {
	t      *testing.T
	d      *internal.Deps
	router *gin.Engine
	queue  *jobs.MemoryQueue
}

func newServer(t *testing.T) *server {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	conn, err := db.NewMemory()
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.JWT.Secret = secret
	cfg.Host.RateLimit = 1000
	cfg.Host.CORS = []string{"http://localhost:5173"}
	cfg.Upload.MaxSize = 5
	cfg.Similarity.Threshold = 0.8
	cfg.Storage.SignedURLTTL = time.Minute

	ls, err := storage.NewLocalStoreFs(afero.NewMemMapFs(), "/objects")
	require.NoError(t, err)

	tg, err := tagger.New(conn, tagger.DefaultThreshold, 64)
	require.NoError(t, err)

	queue := jobs.NewMemoryQueue()

	d := &internal.Deps{
		Ctx:          ctx,
		Config:       cfg,
		DB:           conn,
		Store:        ls,
		Gateway:      storage.NewGateway(ls, nil, "https://cdn.test", time.Minute),
		Validator:    validators.NewValidator(config.LimitsConfig{MaxSize: map[string]int64{"document": 1}}, nil),
		Orchestrator: jobs.NewOrchestrator(conn, queue, 3),
		Workflow:     moderation.NewWorkflow(conn),
		Tagger:       tg,
		Search:       search.New(conn, time.Minute, 100),
		Similarity:   similarity.NewEngine(conn, 100),
	}
	d.Ingest = ingest.New(conn, d.Validator, d.Gateway, d.Orchestrator, ingest.Options{Scope: ingest.ScopeOwner})

	d.Orchestrator.HandleFunc(model.JobVariants, time.Minute, func(context.Context, *model.MediaFile, *model.Job) (model.JSONMap, error) {
		return nil, nil
	})

	d.Ingest.OnChange = d.Search.Invalidate
	d.Workflow.OnChange = d.Search.Invalidate
	t.Cleanup(func() { d.Search.Close() })

	return &server{t: t, d: d, router: NewRouter(d), queue: queue}
}

func token(t *testing.T, userID, role string) string {
	t.Helper()

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	return tok
}

func (s *server) do(method, path, tok string, body []byte, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *server) json(method, path, tok string, body any) *httptest.ResponseRecorder {
	b, err := json.Marshal(body)
	require.NoError(s.t, err)

	return s.do(method, path, tok, b, "application/json")
}

func (s *server) upload(tok, name, content string, fields map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for k, v := range fields {
		require.NoError(s.t, mw.WriteField(k, v))
	}

	fw, err := mw.CreateFormFile("file", name)
	require.NoError(s.t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(s.t, err)
	require.NoError(s.t, mw.Close())

	return s.do(http.MethodPost, "/api/files", tok, buf.Bytes(), mw.FormDataContentType())
}

type uploadResponse struct {
	File      model.MediaFile `json:"file"`
	Duplicate bool            `json:"duplicate"`
}

func (s *server) uploadDoc(owner string) model.MediaFile {
	w := s.upload(token(s.t, owner, ""), "harbour notes.txt", "Harbour opening hours and ferry notes\n", map[string]string{
		"title":    "Harbour notes",
		"category": "document",
	})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())

	var res uploadResponse
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &res))

	return res.File
}

func (s *server) approve(fileID string) {
	w := s.json(http.MethodPost, "/api/moderation/"+fileID+"/decision", token(s.t, "mod-1", middleware.RoleModerator), gin.H{
		"decision": "approved",
	})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
}

func TestUploadAndDuplicate(t *testing.T) {
	s := newServer(t)

	f := s.uploadDoc("u1")
	assert.Equal(t, model.ClassDocument, f.MediaClass)
	assert.Equal(t, "u1", f.OwnerID)
	assert.Equal(t, model.ModerationPending, f.ModerationStatus)
	assert.Positive(t, s.queue.Len())

	w := s.upload(token(t, "u1", ""), "copy.txt", "Harbour opening hours and ferry notes\n", map[string]string{"category": "document"})
	require.Equal(t, http.StatusOK, w.Code)

	var res uploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Duplicate)
	assert.Equal(t, f.ID, res.File.ID)
}

func TestUploadErrors(t *testing.T) {
	s := newServer(t)

	w := s.upload("", "a.txt", "hello", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.upload(token(t, "u1", ""), "a.txt", "hello", map[string]string{"category": "avatar"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), validators.ReasonCategoryMismatch)

	w = s.upload(token(t, "u1", ""), "a.txt", "hello", map[string]string{"category": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), validators.ReasonUnknownCategory)

	w = s.upload(token(t, "u1", ""), "a.txt", strings.Repeat("x", 6<<20), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	var n int64
	require.NoError(t, s.d.DB.Model(&model.MediaFile{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestVisibilityFollowsModeration(t *testing.T) {
	s := newServer(t)
	f := s.uploadDoc("u1")

	w := s.do(http.MethodGet, "/api/files/"+f.ID, "", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/api/files/"+f.ID, token(t, "u1", ""), nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/files/search?q=harbour", "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":0`)

	s.approve(f.ID)

	w = s.do(http.MethodGet, "/api/files/"+f.ID, "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	// Anonymous searches are cached, use a distinct URI
	w = s.do(http.MethodGet, "/api/files/search?q=harbour&limit=5", "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)
}

func TestModeratorDecisionRequiresRole(t *testing.T) {
	s := newServer(t)
	f := s.uploadDoc("u1")

	w := s.json(http.MethodPost, "/api/moderation/"+f.ID+"/decision", token(t, "u1", ""), gin.H{"decision": "approved"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.json(http.MethodPost, "/api/moderation/"+f.ID+"/decision", token(t, "mod-1", middleware.RoleModerator), gin.H{"decision": "pending"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.json(http.MethodPost, "/api/moderation/missing/decision", token(t, "mod-1", middleware.RoleModerator), gin.H{"decision": "approved"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAppeal(t *testing.T) {
	s := newServer(t)
	f := s.uploadDoc("u1")

	w := s.json(http.MethodPost, "/api/moderation/"+f.ID+"/decision", token(t, "mod-1", middleware.RoleModerator), gin.H{
		"decision":   "rejected",
		"violations": []string{"spam"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.json(http.MethodPost, "/api/files/"+f.ID+"/appeal", token(t, "u2", ""), gin.H{"reason": "mine"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.json(http.MethodPost, "/api/files/"+f.ID+"/appeal", token(t, "u1", ""), gin.H{"reason": "It is a ferry timetable"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var rec model.ModerationRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, model.ModerationAppeal, rec.Type)
	assert.Equal(t, model.ModerationUnderReview, rec.Decision)

	// Under review is not a decided state
	w = s.json(http.MethodPost, "/api/files/"+f.ID+"/appeal", token(t, "u1", ""), gin.H{"reason": "again"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodGet, "/api/files/"+f.ID+"/moderation", token(t, "u1", ""), nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var trail struct {
		Records []model.ModerationRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trail))
	require.Len(t, trail.Records, 2)
	assert.Equal(t, model.ModerationRejected, trail.Records[0].Decision)
}

func TestServeRecordsUsage(t *testing.T) {
	s := newServer(t)
	f := s.uploadDoc("u1")
	s.approve(f.ID)

	w := s.do(http.MethodGet, "/api/files/"+f.ID+"/serve?action=download", "", nil, "")
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://cdn.test/"+storage.OriginalKey(f.Filename), w.Header().Get("Location"))

	w = s.do(http.MethodGet, "/api/files/"+f.ID+"/serve?action=steal", "", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/files/"+f.ID+"/serve?variant=thumbnail", "", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	var usage []model.UsageRecord
	require.NoError(t, s.d.DB.Find(&usage).Error)
	require.Len(t, usage, 1)
	assert.Equal(t, model.UsageDownload, usage[0].Action)
	assert.Nil(t, usage[0].ActorID)
}

func TestEditTagsAndDelete(t *testing.T) {
	s := newServer(t)
	f := s.uploadDoc("u1")
	owner := token(t, "u1", "")

	w := s.json(http.MethodPatch, "/api/files/"+f.ID, owner, gin.H{"title": "Ferry notes", "privacy": "private"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"title":"Ferry notes"`)

	w = s.json(http.MethodPatch, "/api/files/"+f.ID, owner, gin.H{"privacy": "everyone"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.json(http.MethodPost, "/api/files/"+f.ID+"/tags", owner, gin.H{"tags": []string{"Ferry", "x"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"tags":["ferry"]}`, w.Body.String())

	w = s.do(http.MethodGet, "/api/files/"+f.ID, owner, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"tags":["ferry"]`)

	w = s.do(http.MethodGet, "/api/files/"+f.ID+"/jobs", owner, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(model.JobMetadata))

	w = s.do(http.MethodPost, "/api/files/"+f.ID+"/variants/regenerate", owner, nil, "")
	assert.Equal(t, http.StatusAccepted, w.Code)

	// Someone else can't see the private pending file at all
	w = s.do(http.MethodDelete, "/api/files/"+f.ID, token(t, "u2", ""), nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodDelete, "/api/files/"+f.ID, owner, nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(http.MethodGet, "/api/files/"+f.ID, owner, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSearchRejectsBadParameters(t *testing.T) {
	s := newServer(t)

	for _, q := range []string{"page=0", "limit=abc", "from=yesterday", "min_size=-1"} {
		w := s.do(http.MethodGet, "/api/files/search?"+q, "", nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestTagsAndMetrics(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodGet, "/api/tags", "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = s.do(http.MethodGet, "/metrics", "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "media_http_requests_total")
}

func TestRoutersKeepSeparateCaches(t *testing.T) {
	a := newServer(t)
	w := a.do(http.MethodGet, "/api/tags", "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	b := newServer(t)
	f := b.uploadDoc("u1")
	w = b.json(http.MethodPost, "/api/files/"+f.ID+"/tags", token(t, "u1", ""), gin.H{"tags": []string{"ferry"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	b.approve(f.ID)

	w = b.do(http.MethodGet, "/api/tags", "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ferry"`)
}
