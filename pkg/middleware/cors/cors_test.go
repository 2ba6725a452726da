package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func serve(origins []string, method, origin string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(New(origins))
	r.Any("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	req := httptest.NewRequest(method, "/", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCORSAllowList(t *testing.T) {
	w := serve([]string{"https://dojo.app/"}, http.MethodGet, "https://dojo.app")
	assert.Equal(t, "https://dojo.app", w.Header().Get("Access-Control-Allow-Origin"))

	w = serve([]string{"https://dojo.app"}, http.MethodGet, "https://evil.test")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflightAndWildcard(t *testing.T) {
	w := serve([]string{"*"}, http.MethodOptions, "https://any.test")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://any.test", w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(nil, http.MethodGet, "")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
