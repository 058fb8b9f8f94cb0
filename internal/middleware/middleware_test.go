package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestRequestIDAndCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS(), RequestID())
	var seen string
	r.GET("/x", func(c *gin.Context) {
		seen = c.GetString(ContextRequestIDKey)
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	r.ServeHTTP(w, req)
	require.Equal(t, "req-1", seen)
	require.Equal(t, "req-1", w.Header().Get(HeaderRequestID))
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	require.NotEmpty(t, w.Header().Get(HeaderRequestID))
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
