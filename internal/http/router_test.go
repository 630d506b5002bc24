package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appconfig "github.com/saker-ai/device-gateway/internal/config"
	"github.com/saker-ai/device-gateway/internal/device"
	"github.com/saker-ai/device-gateway/internal/ws"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	registry := device.NewRegistry(device.Options{})
	monitor := device.NewHeartbeatMonitor(0, 0, 0, nil)
	handler := ws.NewHandler(zap.NewNop(), registry, monitor)
	return NewRouter(appconfig.Config{}, handler, registry, nil)
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
}

func TestDevicesEndpointEmpty(t *testing.T) {
	router := newTestRouter()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/devices", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	var body struct {
		Devices []any `json:"devices"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Devices) != 0 {
		t.Fatalf("devices=%v, want empty", body.Devices)
	}
}

func TestCommandEndpointUnknownDevice(t *testing.T) {
	router := newTestRouter()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/devices/dev-404/commands",
		strings.NewReader(`{"command":"reboot"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
}

func TestCommandEndpointRejectsMissingCommand(t *testing.T) {
	router := newTestRouter()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/devices/dev-001/commands",
		strings.NewReader(`{"parameters":{}}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
}
