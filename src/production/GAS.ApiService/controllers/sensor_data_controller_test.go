package controllers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	logger "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Logger"
)

type nopIngester struct{}

func (nopIngester) Ingest(context.Context, []byte) error { return nil }

type failingBody struct{}

func (failingBody) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestTestEndpointLogsUnreadableBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	router := gin.New()
	NewSensorDataController(nopIngester{}, logger.New(&buf)).RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodPost, "/api/test", failingBody{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, "connection reset") {
		t.Errorf("log output missing read failure: %s", out)
	}
}

func TestTestEndpointLogsBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	router := gin.New()
	NewSensorDataController(nopIngester{}, logger.New(&buf)).RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodPost, "/api/test", strings.NewReader(`{"ping":1}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if out := buf.String(); strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, `{\"ping\":1}`) {
		t.Errorf("unexpected log output: %s", out)
	}
}
