package pill

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/pilltrack-api/internal/middleware"
	"github.com/jwalitptl/pilltrack-api/internal/model"
	"github.com/jwalitptl/pilltrack-api/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("timeofday", func(fl validator.FieldLevel) bool {
			_, err := model.ParseTimeOfDay(fl.Field().String())
			return err == nil
		})
	}
}

type fakeTracker struct {
	pills   map[uuid.UUID]*model.Pill
	lastID  uuid.UUID
	addErr  error
	markErr error
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{pills: make(map[uuid.UUID]*model.Pill)}
}

func (f *fakeTracker) AddPill(ctx context.Context, installationID uuid.UUID, req *model.CreatePillRequest) (*model.Pill, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	at, err := model.ParseTimeOfDay(req.ScheduledAt)
	if err != nil {
		return nil, errors.BadRequest("invalid scheduled time", err)
	}
	p := &model.Pill{ID: uuid.New(), Name: req.Name, ScheduledAt: at}
	f.pills[p.ID] = p
	f.lastID = p.ID
	return p, nil
}

func (f *fakeTracker) ListPills(ctx context.Context, installationID uuid.UUID) ([]*model.Pill, error) {
	out := make([]*model.Pill, 0, len(f.pills))
	for _, p := range f.pills {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeTracker) MarkTaken(ctx context.Context, installationID, pillID uuid.UUID) (*model.Pill, error) {
	if f.markErr != nil {
		return nil, f.markErr
	}
	p, ok := f.pills[pillID]
	if !ok {
		return nil, errors.NotFound("pill", nil)
	}
	p.Taken = true
	return p, nil
}

func (f *fakeTracker) MarkUntaken(ctx context.Context, installationID, pillID uuid.UUID) (*model.Pill, error) {
	p, ok := f.pills[pillID]
	if !ok {
		return nil, errors.NotFound("pill", nil)
	}
	p.Taken = false
	return p, nil
}

func (f *fakeTracker) DeletePill(ctx context.Context, installationID, pillID uuid.UUID) error {
	if _, ok := f.pills[pillID]; !ok {
		return errors.NotFound("pill", nil)
	}
	delete(f.pills, pillID)
	return nil
}

func setupRouter(tracker *fakeTracker) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextInstallationID, uuid.New())
		c.Next()
	})
	NewHandler(tracker).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreatePill(t *testing.T) {
	tracker := newFakeTracker()
	r := setupRouter(tracker)

	w := doJSON(t, r, http.MethodPost, "/api/v1/pills", gin.H{
		"name":         "Vitamin D",
		"scheduled_at": "08:00",
	})

	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Status string     `json:"status"`
		Data   model.Pill `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "Vitamin D", resp.Data.Name)
	assert.Equal(t, "08:00", resp.Data.ScheduledAt.String())
	assert.False(t, resp.Data.Taken)
}

func TestCreatePillValidation(t *testing.T) {
	r := setupRouter(newFakeTracker())

	tests := []struct {
		name string
		body gin.H
	}{
		{"missing name", gin.H{"scheduled_at": "08:00"}},
		{"missing time", gin.H{"name": "Vitamin D"}},
		{"bad time", gin.H{"name": "Vitamin D", "scheduled_at": "25:99"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/api/v1/pills", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestListPills(t *testing.T) {
	tracker := newFakeTracker()
	r := setupRouter(tracker)

	doJSON(t, r, http.MethodPost, "/api/v1/pills", gin.H{"name": "Vitamin D", "scheduled_at": "08:00"})
	w := doJSON(t, r, http.MethodGet, "/api/v1/pills", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data []model.Pill `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 1)
}

func TestMarkTaken(t *testing.T) {
	tracker := newFakeTracker()
	r := setupRouter(tracker)

	doJSON(t, r, http.MethodPost, "/api/v1/pills", gin.H{"name": "Vitamin D", "scheduled_at": "08:00"})
	w := doJSON(t, r, http.MethodPost, "/api/v1/pills/"+tracker.lastID.String()+"/taken", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data model.Pill `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Data.Taken)
}

func TestMarkTakenNotFound(t *testing.T) {
	r := setupRouter(newFakeTracker())
	w := doJSON(t, r, http.MethodPost, "/api/v1/pills/"+uuid.NewString()+"/taken", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMarkTakenInvalidID(t *testing.T) {
	r := setupRouter(newFakeTracker())
	w := doJSON(t, r, http.MethodPost, "/api/v1/pills/not-a-uuid/taken", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMarkUntaken(t *testing.T) {
	tracker := newFakeTracker()
	r := setupRouter(tracker)

	doJSON(t, r, http.MethodPost, "/api/v1/pills", gin.H{"name": "Vitamin D", "scheduled_at": "08:00"})
	doJSON(t, r, http.MethodPost, "/api/v1/pills/"+tracker.lastID.String()+"/taken", nil)
	w := doJSON(t, r, http.MethodDelete, "/api/v1/pills/"+tracker.lastID.String()+"/taken", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data model.Pill `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Data.Taken)
}

func TestDeletePill(t *testing.T) {
	tracker := newFakeTracker()
	r := setupRouter(tracker)

	doJSON(t, r, http.MethodPost, "/api/v1/pills", gin.H{"name": "Vitamin D", "scheduled_at": "08:00"})
	w := doJSON(t, r, http.MethodDelete, "/api/v1/pills/"+tracker.lastID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/api/v1/pills/"+tracker.lastID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
