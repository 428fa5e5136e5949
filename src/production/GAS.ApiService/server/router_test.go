package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	broker "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Broker"
	config "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Config"
	ingestion "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Ingestion"
	logger "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Logger"
	metrics "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Metrics"
	gasmodels "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Models"
	interfaces "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Repository/Interfaces"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memoryRepo struct {
	mu       sync.Mutex
	readings []gasmodels.SensorReading
	err      error
}

func (r *memoryRepo) InsertReading(_ context.Context, reading gasmodels.SensorReading) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", &interfaces.StoreError{Op: "insert", Err: r.err}
	}
	reading.ID = fmt.Sprintf("%d", len(r.readings)+1)
	r.readings = append(r.readings, reading)
	return reading.ID, nil
}

func (r *memoryRepo) ListReadings(_ context.Context, query interfaces.ReadingQuery) ([]gasmodels.SensorReading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, &interfaces.StoreError{Op: "find", Err: r.err}
	}

	out := make([]gasmodels.SensorReading, 0)
	for _, reading := range r.readings {
		if query.DeviceID != "" && reading.DeviceID != query.DeviceID {
			continue
		}
		if query.From != nil && reading.Timestamp.Before(*query.From) {
			continue
		}
		if query.To != nil && reading.Timestamp.After(*query.To) {
			continue
		}
		out = append(out, reading)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(*out[j].Timestamp)
	})
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

func (r *memoryRepo) GetStatistics(context.Context) (gasmodels.Statistics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return gasmodels.Statistics{}, &interfaces.StoreError{Op: "aggregate", Err: r.err}
	}

	var stats gasmodels.Statistics
	for i, reading := range r.readings {
		if i == 0 || reading.AlcoholPPM > stats.MaxPpm {
			stats.MaxPpm = reading.AlcoholPPM
		}
		if i == 0 || reading.AlcoholPPM < stats.MinPpm {
			stats.MinPpm = reading.AlcoholPPM
		}
		stats.AvgPpm += reading.AlcoholPPM
		stats.Count++
	}
	if stats.Count > 0 {
		stats.AvgPpm /= float64(stats.Count)
	}
	return stats, nil
}

func (r *memoryRepo) Ping(context.Context) error  { return r.err }
func (r *memoryRepo) Close(context.Context) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, []byte) broker.PublishResult {
	return broker.PublishResult{}
}

type stubTopicAdmin struct {
	created bool
	err     error
}

func (a stubTopicAdmin) EnsureTopic(context.Context) (bool, error) {
	return a.created, a.err
}

type stubHealth struct {
	ready bool
}

func (h stubHealth) GetHealthStatus(context.Context) (map[string]interface{}, bool) {
	status := "ok"
	if !h.ready {
		status = "unavailable"
	}
	return map[string]interface{}{"status": status}, h.ready
}

type fixture struct {
	router *gin.Engine
	repo   *memoryRepo
}

func newFixture(t *testing.T, mutate func(*Dependencies)) *fixture {
	t.Helper()

	repo := &memoryRepo{}
	log := logger.Nop()
	m := metrics.New()
	recorder := ingestion.NewRecorder(repo, nil, ingestion.NewClock(), m, log)

	deps := Dependencies{
		Config: &config.Config{
			CORS: config.CORSConfig{
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST"},
				AllowedHeaders: []string{"Content-Type"},
			},
		},
		Logger:     log,
		Metrics:    m,
		Ingester:   ingestion.NewGateway(recorder, nopPublisher{}, log),
		Readings:   repo,
		TopicAdmin: stubTopicAdmin{created: true},
		Health:     stubHealth{ready: true},
	}
	if mutate != nil {
		mutate(&deps)
	}
	return &fixture{router: NewRouter(deps), repo: repo}
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("response body %q is not JSON: %v", w.Body.String(), err)
	}
}

func TestSubmitThenQuery(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodPost, "/api/sensor-data", `{"device_id":"dev1","alcohol_ppm":123.4}`)
	if w.Code != http.StatusOK {
		t.Fatalf("POST status = %d, body %s", w.Code, w.Body.String())
	}
	var ack map[string]interface{}
	decode(t, w, &ack)
	if ack["success"] != true {
		t.Errorf("POST body = %v, want success true", ack)
	}

	w = f.do(http.MethodGet, "/api/sensor-data?limit=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET status = %d", w.Code)
	}
	var readings []map[string]interface{}
	decode(t, w, &readings)
	if len(readings) != 1 {
		t.Fatalf("GET returned %d readings, want 1", len(readings))
	}
	if readings[0]["device_id"] != "dev1" || readings[0]["alcohol_ppm"] != 123.4 {
		t.Errorf("reading = %v", readings[0])
	}
	if _, ok := readings[0]["received_at"].(string); !ok {
		t.Errorf("reading has no received_at: %v", readings[0])
	}
}

func TestSubmitRejectsInvalidPayloads(t *testing.T) {
	f := newFixture(t, nil)

	for name, body := range map[string]string{
		"not json":         `device=dev1`,
		"missing ppm":      `{"device_id":"dev1"}`,
		"string ppm":       `{"device_id":"dev1","alcohol_ppm":"high"}`,
		"missing device":   `{"alcohol_ppm":1}`,
		"array not object": `[{"device_id":"dev1","alcohol_ppm":1}]`,
	} {
		t.Run(name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/api/sensor-data", body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			var resp map[string]string
			decode(t, w, &resp)
			if resp["error"] == "" {
				t.Error("400 response must carry an error message")
			}
		})
	}

	if len(f.repo.readings) != 0 {
		t.Errorf("%d invalid readings were stored", len(f.repo.readings))
	}
}

func TestOutOfRangeTimestampDoesNotPoisonListing(t *testing.T) {
	f := newFixture(t, nil)

	f.do(http.MethodPost, "/api/sensor-data", `{"device_id":"dev1","alcohol_ppm":1}`)

	w := f.do(http.MethodPost, "/api/sensor-data", `{"device_id":"dev1","alcohol_ppm":1,"timestamp":253402300800000}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("POST year-10000 timestamp status = %d, want 400", w.Code)
	}

	w = f.do(http.MethodGet, "/api/sensor-data", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET status = %d", w.Code)
	}
	var readings []gasmodels.SensorReading
	decode(t, w, &readings)
	if len(readings) != 1 {
		t.Errorf("GET returned %d readings, want 1", len(readings))
	}
}

func TestStoreFailureIsGeneric500(t *testing.T) {
	f := newFixture(t, nil)
	f.repo.err = errors.New("dial tcp 10.0.0.5:27017: connection refused")

	w := f.do(http.MethodPost, "/api/sensor-data", `{"device_id":"dev1","alcohol_ppm":1}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "10.0.0.5") {
		t.Errorf("500 body leaks store details: %s", w.Body.String())
	}

	w = f.do(http.MethodGet, "/api/sensor-data", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("GET status = %d, want 500", w.Code)
	}
}

func TestQueryFiltersAndOrdering(t *testing.T) {
	f := newFixture(t, nil)

	for i, body := range []string{
		`{"device_id":"dev1","alcohol_ppm":1,"timestamp":"2024-01-01T00:00:00Z"}`,
		`{"device_id":"dev2","alcohol_ppm":2,"timestamp":"2024-01-02T00:00:00Z"}`,
		`{"device_id":"dev1","alcohol_ppm":3,"timestamp":"2024-01-03T00:00:00Z"}`,
	} {
		if w := f.do(http.MethodPost, "/api/sensor-data", body); w.Code != http.StatusOK {
			t.Fatalf("POST %d status = %d, body %s", i, w.Code, w.Body.String())
		}
	}

	tests := []struct {
		name   string
		target string
		want   []float64
	}{
		{"newest first", "/api/sensor-data", []float64{3, 2, 1}},
		{"limit", "/api/sensor-data?limit=2", []float64{3, 2}},
		{"non-integer limit uses default", "/api/sensor-data?limit=abc", []float64{3, 2, 1}},
		{"zero limit is unbounded", "/api/sensor-data?limit=0", []float64{3, 2, 1}},
		{"negative limit counts as its magnitude", "/api/sensor-data?limit=-2", []float64{3, 2}},
		{"most negative limit is unbounded", "/api/sensor-data?limit=-9223372036854775808", []float64{3, 2, 1}},
		{"device filter", "/api/sensor-data?device_id=dev1", []float64{3, 1}},
		{"date window", "/api/sensor-data?from=2024-01-02&to=2024-01-02T12:00:00Z", []float64{2}},
		{"epoch millis", "/api/sensor-data?from=1704153600000", []float64{3, 2}},
		{"unparseable bound ignored", "/api/sensor-data?from=yesterday", []float64{3, 2, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodGet, tt.target, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			var readings []gasmodels.SensorReading
			decode(t, w, &readings)
			got := make([]float64, 0, len(readings))
			for _, r := range readings {
				got = append(got, r.AlcoholPPM)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("ppm = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatistics(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodGet, "/api/statistics", "")
	var empty gasmodels.Statistics
	decode(t, w, &empty)
	if w.Code != http.StatusOK || empty != (gasmodels.Statistics{}) {
		t.Fatalf("empty statistics = %d %+v", w.Code, empty)
	}

	for _, ppm := range []string{"1", "2", "6"} {
		f.do(http.MethodPost, "/api/sensor-data", `{"device_id":"dev1","alcohol_ppm":`+ppm+`}`)
	}

	w = f.do(http.MethodGet, "/api/statistics", "")
	var stats gasmodels.Statistics
	decode(t, w, &stats)
	want := gasmodels.Statistics{AvgPpm: 3, MaxPpm: 6, MinPpm: 1, Count: 3}
	if stats != want {
		t.Errorf("statistics = %+v, want %+v", stats, want)
	}
}

func TestLatestReading(t *testing.T) {
	f := newFixture(t, nil)

	if w := f.do(http.MethodGet, "/api/devices/dev1/latest", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", w.Code)
	}

	f.do(http.MethodPost, "/api/sensor-data", `{"device_id":"dev1","alcohol_ppm":1,"timestamp":"2024-01-01T00:00:00Z"}`)
	f.do(http.MethodPost, "/api/sensor-data", `{"device_id":"dev1","alcohol_ppm":5,"timestamp":"2024-01-05T00:00:00Z"}`)
	f.do(http.MethodPost, "/api/sensor-data", `{"device_id":"dev2","alcohol_ppm":9,"timestamp":"2024-01-09T00:00:00Z"}`)

	w := f.do(http.MethodGet, "/api/devices/dev1/latest", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var reading gasmodels.SensorReading
	decode(t, w, &reading)
	if reading.DeviceID != "dev1" || reading.AlcoholPPM != 5 {
		t.Errorf("latest = %+v, want dev1 at 5 ppm", reading)
	}
}

func TestCreateKafkaTopic(t *testing.T) {
	tests := []struct {
		name       string
		admin      stubTopicAdmin
		wantStatus int
		wantMsg    string
	}{
		{"created", stubTopicAdmin{created: true}, http.StatusOK, "Topic created successfully"},
		{"exists", stubTopicAdmin{}, http.StatusOK, "Topic already exists"},
		{"broker down", stubTopicAdmin{err: errors.New("dial tcp: connection refused")}, http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(d *Dependencies) { d.TopicAdmin = tt.admin })
			w := f.do(http.MethodGet, "/api/create-kafka-topic", "")
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var resp map[string]interface{}
			decode(t, w, &resp)
			if tt.wantMsg != "" && resp["message"] != tt.wantMsg {
				t.Errorf("message = %v, want %q", resp["message"], tt.wantMsg)
			}
			if tt.wantMsg == "" && resp["error"] != "Failed to create Kafka topic" {
				t.Errorf("error = %v", resp["error"])
			}
		})
	}
}

func TestHealthEndpoints(t *testing.T) {
	ready := newFixture(t, nil)
	if w := ready.do(http.MethodGet, "/health/live", ""); w.Code != http.StatusOK {
		t.Errorf("live status = %d", w.Code)
	}
	if w := ready.do(http.MethodGet, "/health/ready", ""); w.Code != http.StatusOK {
		t.Errorf("ready status = %d", w.Code)
	}

	down := newFixture(t, func(d *Dependencies) { d.Health = stubHealth{ready: false} })
	if w := down.do(http.MethodGet, "/health/ready", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("not ready status = %d, want 503", w.Code)
	}
	if w := down.do(http.MethodGet, "/health/live", ""); w.Code != http.StatusOK {
		t.Errorf("live must not depend on readiness, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.do(http.MethodPost, "/api/sensor-data", `{"device_id":"dev1","alcohol_ppm":1}`)

	w := f.do(http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	for _, name := range []string{"gas_readings_ingested_total", "http_requests_total"} {
		if !strings.Contains(w.Body.String(), name) {
			t.Errorf("metrics output is missing %s", name)
		}
	}
}

func TestRequestIDAndCORSHeaders(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("response is missing X-Request-ID")
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestStaticFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>gas</h1>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644); err != nil {
		t.Fatal(err)
	}

	f := newFixture(t, func(d *Dependencies) { d.Config.Server.StaticDir = dir })

	w := f.do(http.MethodGet, "/", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<h1>gas</h1>") {
		t.Errorf("GET / = %d %q, want index.html", w.Code, w.Body.String())
	}

	w = f.do(http.MethodGet, "/app.js", "")
	if w.Code != http.StatusOK || w.Body.String() != "console.log(1)" {
		t.Errorf("GET /app.js = %d %q", w.Code, w.Body.String())
	}

	if w := f.do(http.MethodGet, "/missing.css", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing file status = %d, want 404", w.Code)
	}
	if w := f.do(http.MethodDelete, "/app.js", ""); w.Code != http.StatusNotFound {
		t.Errorf("DELETE status = %d, want 404", w.Code)
	}
}

func TestNoStaticDirReturnsJSON404(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodGet, "/nothing-here", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	var resp map[string]string
	decode(t, w, &resp)
	if resp["error"] == "" {
		t.Error("404 should carry a JSON error")
	}
}
