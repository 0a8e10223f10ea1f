package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/cropconsult/backend/internal/auth"
)

func newProtectedRouter(svc *auth.JWTService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(JWT(svc))
	r.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id": c.MustGet(ContextUserID),
			"role":    c.MustGet(ContextUserRole),
		})
	})
	return r
}

func TestJWTMiddleware_SetsClaimsInContext(t *testing.T) {
	req := require.New(t)
	svc := auth.NewJWTService("test-secret", 1)
	r := newProtectedRouter(svc)

	token, err := svc.Generate("user-1", "e@example.com", "expert")
	req.NoError(err)

	w := httptest.NewRecorder()
	httpReq := httptest.NewRequest(http.MethodGet, "/me", nil)
	httpReq.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, httpReq)

	req.Equal(http.StatusOK, w.Code)
	req.Contains(w.Body.String(), `"user_id":"user-1"`)
	req.Contains(w.Body.String(), `"role":"expert"`)
}

func TestJWTMiddleware_RejectsMissingOrMalformedHeader(t *testing.T) {
	req := require.New(t)
	r := newProtectedRouter(auth.NewJWTService("test-secret", 1))

	for _, header := range []string{"", "Bearer", "Basic abc", "Bearer "} {
		w := httptest.NewRecorder()
		httpReq := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			httpReq.Header.Set("Authorization", header)
		}
		r.ServeHTTP(w, httpReq)
		req.Equal(http.StatusUnauthorized, w.Code)
	}
}

func TestJWTMiddleware_RejectsForgedToken(t *testing.T) {
	req := require.New(t)
	r := newProtectedRouter(auth.NewJWTService("test-secret", 1))

	forged, err := auth.NewJWTService("attacker-secret", 1).Generate("user-1", "e@example.com", "admin")
	req.NoError(err)

	w := httptest.NewRecorder()
	httpReq := httptest.NewRequest(http.MethodGet, "/me", nil)
	httpReq.Header.Set("Authorization", "Bearer "+forged)
	r.ServeHTTP(w, httpReq)
	req.Equal(http.StatusUnauthorized, w.Code)
}
