package obs_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"huddle/internal/infra/obs"
)

func healthRouter(h *obs.Health) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/livez", h.Livez)
	router.GET("/readyz", h.Readyz)
	return router
}

func TestReadyzPassesWithNoChecks(t *testing.T) {
	router := healthRouter(obs.NewHealth())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReportsFailingCheckByName(t *testing.T) {
	h := obs.NewHealth()
	h.AddReadyCheck("store", func() error { return nil })
	h.AddReadyCheck("broker", func() error { return errors.New("no brokers reachable") })
	router := healthRouter(h)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "broker")
	assert.Contains(t, rec.Body.String(), "no brokers reachable")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "liveness stays green while readiness fails")
}
