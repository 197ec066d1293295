package obs

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type readyCheck struct {
	name  string
	check func() error
}

// Health answers the probe endpoints. Liveness is unconditional; readiness
// runs every registered check and reports the first failing one by name.
type Health struct {
	checks []readyCheck
}

func NewHealth() *Health {
	return &Health{}
}

// AddReadyCheck registers a named readiness check. Checks run in
// registration order on every /readyz request.
func (h *Health) AddReadyCheck(name string, check func() error) {
	h.checks = append(h.checks, readyCheck{name: name, check: check})
}

func (h *Health) Livez(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (h *Health) Readyz(c *gin.Context) {
	for _, rc := range h.checks {
		if err := rc.check(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"check":  rc.name,
				"error":  err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
