package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/devicelab/bridge/internal/model"
)

func deviceRouter(t *testing.T) (*chi.Mux, *DeviceHandlers) {
	t.Helper()

	h := NewDeviceHandlers(newTestRegistry(t), zap.NewNop())
	r := chi.NewRouter()
	r.Get("/devices", h.HandleList)
	r.Get("/devices/{device}", h.HandleGet)
	return r, h
}

func TestHandleList(t *testing.T) {
	router, _ := deviceRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/devices", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var body deviceListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if len(body.Devices) != 2 {
		t.Fatalf("devices = %d, want 2", len(body.Devices))
	}
	if body.Devices[0].Name != "Device One" {
		t.Errorf("first device = %+v", body.Devices[0])
	}
}

func TestHandleGet(t *testing.T) {
	router, _ := deviceRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/devices/dev1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var view model.DeviceView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if view.ID != "dev1" || view.LockName != "rig-1" {
		t.Errorf("view = %+v", view)
	}
}

func TestHandleGetUnknownDevice(t *testing.T) {
	router, _ := deviceRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/devices/ghost", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}
