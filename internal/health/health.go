// Package health keeps the process-wide roster of dependencies that can
// report their own health and folds them into one response for /health.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/models"
	"github.com/knowhubhq/knowledge-exchange/upload-client/pkg/sloger"
)

var logger *slog.Logger

func init() {
	type Empty struct{}
	pkgParts := strings.Split(reflect.TypeOf(Empty{}).PkgPath(), "/")
	// add package name to app logger
	logger = sloger.With("pkg", pkgParts[len(pkgParts)-1])
}

type Checkable interface {
	Health(ctx context.Context) models.ServiceHealthResp
}

type Response struct {
	Status   string                     `json:"status"`
	Services []models.ServiceHealthResp `json:"services"`
}

var (
	mu       sync.Mutex
	services []Checkable
)

// Register adds a dependency to the roster checked by /health.
func Register(c ...Checkable) error {
	mu.Lock()
	defer mu.Unlock()
	for _, checkable := range c {
		if checkable == nil {
			return errors.New("cannot register a nil health check")
		}
		services = append(services, checkable)
	}
	return nil
}

// Reset clears the roster. Tests use it between cases.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	services = nil
}

// Check runs every registered check. Overall status is UP only when all
// services are up, DOWN when all are down, DEGRADED in between.
func Check(ctx context.Context) Response {
	mu.Lock()
	checks := make([]Checkable, len(services))
	copy(checks, services)
	mu.Unlock()

	resp := Response{Status: models.STATUS_UP}
	downCount := 0
	for _, c := range checks {
		serviceResp := c.Health(ctx)
		if serviceResp.Status != models.STATUS_UP {
			downCount++
		}
		resp.Services = append(resp.Services, serviceResp)
	}

	if downCount > 0 {
		resp.Status = models.STATUS_DEGRADED
		if downCount == len(checks) {
			resp.Status = models.STATUS_DOWN
		}
	}
	return resp
}

func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Error("error marshal json for health response", "error", err.Error())
			http.Error(w, "failed to serialize health response", http.StatusInternalServerError)
		}
	})
}
