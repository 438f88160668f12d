package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/pilltrack-api/pkg/auth"
)

func setupAuthRouter(tokens auth.DeviceTokenService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	m := NewAuthMiddleware(tokens)
	r.GET("/protected", m.RequireDevice(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"installation_id": InstallationID(c).String()})
	})
	return r
}

func TestRequireDevice(t *testing.T) {
	tokens := auth.NewJWTService("test-secret", time.Hour)
	r := setupAuthRouter(tokens)

	installationID := uuid.New()
	token, err := tokens.Generate(installationID)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), installationID.String())
}

func TestRequireDeviceRejects(t *testing.T) {
	tokens := auth.NewJWTService("test-secret", time.Hour)
	r := setupAuthRouter(tokens)

	otherToken, err := auth.NewJWTService("other-secret", time.Hour).Generate(uuid.New())
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Token abc"},
		{"garbage token", "Bearer not.a.token"},
		{"wrong secret", "Bearer " + otherToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestInstallationIDMissing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, uuid.Nil, InstallationID(c))
}
