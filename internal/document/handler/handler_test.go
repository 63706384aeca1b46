package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stepdocs/stepdocs/backend/go-services/internal/document"
	"github.com/stepdocs/stepdocs/backend/go-services/internal/document/service"
	"github.com/stepdocs/stepdocs/backend/go-services/internal/storage"
	"github.com/stepdocs/stepdocs/backend/go-services/pkg/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// headerAuth stands in for the token middlewares: X-User is the subject.
func headerAuth(required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if u := c.GetHeader("X-User"); u != "" {
			c.Set(middleware.UserIDKey, u)
		} else if required {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}
		c.Next()
	}
}

type fakeGateway struct {
	owner, name, mime string
	size              int
}

func (f *fakeGateway) Upload(ctx context.Context, ownerID string, data []byte, name, mimeType string) (storage.UploadResult, error) {
	f.owner, f.name, f.mime, f.size = ownerID, name, mimeType, len(data)
	return storage.UploadResult{ExternalID: "img-1", PublicURL: "https://img/img-1"}, nil
}

func (f *fakeGateway) Delete(ctx context.Context, externalID, ownerID string) error { return nil }

func newRouter(svc service.Service, gw storage.Gateway) *gin.Engine {
	g := gin.New()
	RegisterDocumentRoutes(g, svc, Options{Auth: headerAuth(true), OptionalAuth: headerAuth(false), Gateway: gw})
	return g
}

func do(t *testing.T, g *gin.Engine, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != "" {
		req.Header.Set("X-User", user)
	}
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func createDocument(t *testing.T, g *gin.Engine, user string, public bool) document.Document {
	t.Helper()
	body := fmt.Sprintf(`{"title":"Guide","isPublic":%t,"steps":[
		{"stepNumber":1,"stepDescription":"open","type":"STEP","screenshot":{"googleImageId":"A","url":"https://img/A"}},
		{"stepNumber":2,"stepDescription":"hint","type":"TIPS"}]}`, public)
	w := do(t, g, http.MethodPost, "/api/documents", user, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[document.Document](t, w)
}

func TestDocumentHandler_CRUD(t *testing.T) {
	g := newRouter(service.NewMemoryService(), nil)

	d := createDocument(t, g, "alice", false)
	require.NotEmpty(t, d.ID)
	assert.Equal(t, 35, d.EstimatedCompletionTime)
	require.Len(t, d.Steps, 2)

	// get
	w := do(t, g, http.MethodGet, "/api/documents/"+d.ID, "alice", "")
	require.Equal(t, http.StatusOK, w.Code)

	// list
	w = do(t, g, http.MethodGet, "/api/documents", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]document.Summary](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].StepCount)

	// reconcile: drop the tip, replace the image, add a header
	s1, s2 := d.Steps[0].ID, d.Steps[1].ID
	body := fmt.Sprintf(`{"title":"Guide v2","steps":[
		{"id":%q,"stepNumber":1,"stepDescription":"open","type":"STEP","screenshot":{"googleImageId":"B","url":"https://img/B"}},
		{"stepNumber":3,"stepDescription":"done","type":"HEADER"}],"deleteStepIds":[%q]}`, s1, s2)
	w = do(t, g, http.MethodPut, "/api/documents/"+d.ID, "alice", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[document.Document](t, w)
	assert.Equal(t, "Guide v2", updated.Title)
	assert.Equal(t, 32, updated.EstimatedCompletionTime)
	require.Len(t, updated.Steps, 2)

	// soft delete, then it only shows in the deleted list
	w = do(t, g, http.MethodDelete, "/api/documents/"+d.ID, "alice", "")
	require.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, g, http.MethodGet, "/api/documents/"+d.ID, "alice", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	w = do(t, g, http.MethodGet, "/api/documents/deleted/list", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]document.Summary](t, w), 1)

	// restore
	w = do(t, g, http.MethodPut, "/api/documents/"+d.ID+"/restore", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)

	// permanent delete
	w = do(t, g, http.MethodDelete, "/api/documents/"+d.ID+"/permanent", "alice", "")
	require.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, g, http.MethodDelete, "/api/documents/"+d.ID+"/permanent", "alice", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestDocumentHandler_RequiresIdentity(t *testing.T) {
	g := newRouter(service.NewMemoryService(), nil)
	w := do(t, g, http.MethodGet, "/api/documents", "", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDocumentHandler_ValidationAndAbsentFields(t *testing.T) {
	g := newRouter(service.NewMemoryService(), nil)

	w := do(t, g, http.MethodPost, "/api/documents", "alice", `{"title":"","steps":[]}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, g, http.MethodPost, "/api/documents", "alice", `{not json`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	d := createDocument(t, g, "alice", false)

	// metadata only: steps untouched
	w = do(t, g, http.MethodPut, "/api/documents/"+d.ID, "alice", `{"annotationColor":"#00FF00"}`)
	require.Equal(t, http.StatusOK, w.Code)
	updated := decode[document.Document](t, w)
	assert.Equal(t, "#00FF00", updated.AnnotationColor)
	assert.Len(t, updated.Steps, 2)

	// unknown step id
	w = do(t, g, http.MethodPut, "/api/documents/"+d.ID, "alice", `{"deleteStepIds":["nope"]}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	// foreign owner
	w = do(t, g, http.MethodPut, "/api/documents/"+d.ID, "mallory", `{"title":"x"}`)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestDocumentHandler_SharingAndVisibility(t *testing.T) {
	g := newRouter(service.NewMemoryService(), nil)
	d := createDocument(t, g, "alice", false)

	w := do(t, g, http.MethodGet, "/api/documents/"+d.ID, "", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, g, http.MethodPatch, "/api/documents/"+d.ID+"/sharing", "alice", `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, g, http.MethodPatch, "/api/documents/"+d.ID+"/sharing", "alice", `{"isPublic":true}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, g, http.MethodGet, "/api/documents/"+d.ID, "", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestDocumentHandler_SavedDocuments(t *testing.T) {
	g := newRouter(service.NewMemoryService(), nil)
	d := createDocument(t, g, "alice", true)
	path := "/api/documents/" + d.ID

	w := do(t, g, http.MethodPost, path+"/save", "bob", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = do(t, g, http.MethodPost, path+"/save", "bob", "")
	require.Equal(t, http.StatusConflict, w.Code)
	w = do(t, g, http.MethodPost, path+"/save", "alice", "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, g, http.MethodGet, path+"/save-status", "bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[document.SaveStatus](t, w).IsSaved)

	w = do(t, g, http.MethodGet, "/api/documents/saved/list", "bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]document.Summary](t, w), 1)

	w = do(t, g, http.MethodDelete, path+"/save", "bob", "")
	require.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, g, http.MethodDelete, path+"/save", "bob", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, g, http.MethodGet, "/api/documents/saved/list", "bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())
}

func TestDocumentHandler_DeleteStep(t *testing.T) {
	g := newRouter(service.NewMemoryService(), nil)
	d := createDocument(t, g, "alice", false)

	w := do(t, g, http.MethodDelete, "/api/steps/"+d.Steps[1].ID, "mallory", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, g, http.MethodDelete, "/api/steps/"+d.Steps[1].ID, "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	deleted := decode[document.DeletedStep](t, w)
	assert.Equal(t, d.Steps[1].ID, deleted.ID)

	w = do(t, g, http.MethodGet, "/api/documents/"+d.ID, "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[document.Document](t, w).Steps, 1)
}

type retryableService struct {
	service.Service
}

func (retryableService) SoftDelete(ctx context.Context, id, ownerID string) error {
	return fmt.Errorf("%w: %w", document.ErrTransaction, document.ErrConcurrentUpdate)
}

func (retryableService) Restore(ctx context.Context, id, ownerID string) (*document.Document, error) {
	return nil, fmt.Errorf("%w: disk full", document.ErrTransaction)
}

func TestDocumentHandler_TransactionErrors(t *testing.T) {
	g := newRouter(retryableService{}, nil)

	w := do(t, g, http.MethodDelete, "/api/documents/x", "alice", "")
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, true, decode[map[string]any](t, w)["retryable"])

	w = do(t, g, http.MethodPut, "/api/documents/x/restore", "alice", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "disk full")
}

func multipartBody(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func TestDocumentHandler_Upload(t *testing.T) {
	gw := &fakeGateway{}
	g := newRouter(service.NewMemoryService(), gw)

	body, ct := multipartBody(t, "shot.png", "image/png", []byte("png-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/screenshots/upload", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("X-User", "alice")
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[storage.UploadResult](t, w)
	assert.Equal(t, "img-1", res.ExternalID)
	assert.Equal(t, "alice", gw.owner)
	assert.Equal(t, "shot.png", gw.name)
	assert.Equal(t, len("png-bytes"), gw.size)

	body, ct = multipartBody(t, "notes.txt", "text/plain", []byte("hello"))
	req = httptest.NewRequest(http.MethodPost, "/api/screenshots/upload", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("X-User", "alice")
	w = httptest.NewRecorder()
	g.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentHandler_UploadDisabledWithoutGateway(t *testing.T) {
	g := newRouter(service.NewMemoryService(), nil)
	w := do(t, g, http.MethodPost, "/api/screenshots/upload", "alice", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}
