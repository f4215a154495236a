package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"runproxy/internal/config"
	"runproxy/internal/health"
	"runproxy/internal/job"
	"runproxy/internal/job/jobtest"
	"runproxy/internal/lock"
	"runproxy/internal/observability"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_CORS(t *testing.T) {
	t.Parallel()
	handler := CORSMiddleware()(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/StartContainerInstance", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS origin header")
	}
	if !strings.Contains(w.Header().Get("Access-Control-Allow-Headers"), "X-Functions-Key") {
		t.Error("Expected X-Functions-Key to be an allowed header")
	}
}

func TestMiddleware_Recovery(t *testing.T) {
	t.Parallel()
	handler := RecoveryMiddleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/GetResults/x", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
	if strings.Contains(w.Body.String(), "boom") {
		t.Error("Panic value must not leak to the client")
	}
}

func TestMiddleware_ContentType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		method      string
		contentType string
		want        int
	}{
		{"json", http.MethodPost, "application/json", http.StatusOK},
		{"json with charset", http.MethodPost, "application/json; charset=utf-8", http.StatusOK},
		{"missing", http.MethodPost, "", http.StatusOK},
		{"text", http.MethodPost, "text/plain", http.StatusUnsupportedMediaType},
		{"malformed", http.MethodPost, "application/", http.StatusUnsupportedMediaType},
		{"get ignores type", http.MethodGet, "text/plain", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			handler := ContentTypeMiddleware()(okHandler())

			req := httptest.NewRequest(tt.method, "/StartContainerInstance", strings.NewReader("[]"))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestMiddleware_Logging_CapturesStatus(t *testing.T) {
	t.Parallel()
	handler := LoggingMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/StartContainerInstance", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Errorf("Expected status %d, got %d", http.StatusAccepted, w.Code)
	}
}

func TestPollURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		target string
		proto  string
		want   string
	}{
		{
			name:   "plain",
			target: "http://proxy.local/StartContainerInstance",
			want:   "http://proxy.local/GetResults/job-1",
		},
		{
			name:   "query kept",
			target: "http://proxy.local/api/StartContainerInstance?code=k",
			want:   "http://proxy.local/api/GetResults/job-1?code=k",
		},
		{
			name:   "forwarded proto list",
			target: "http://proxy.local/StartContainerInstance",
			proto:  "https, http",
			want:   "https://proxy.local/GetResults/job-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, tt.target, nil)
			if tt.proto != "" {
				req.Header.Set("X-Forwarded-Proto", tt.proto)
			}
			if got := pollURL(req, "job-1"); got != tt.want {
				t.Errorf("pollURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRoutePattern(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/GetResults/{jobId}", func(http.ResponseWriter, *http.Request) {})
	mux.HandleFunc("/livez", func(http.ResponseWriter, *http.Request) {})

	tests := []struct {
		target string
		want   string
	}{
		{"/api/GetResults/" + uuid.NewString(), "/api/GetResults/{jobId}"},
		{"/livez", "/livez"},
		{"/wp-login.php", ""},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.target, nil)
		mux.ServeHTTP(httptest.NewRecorder(), req)
		if got := routePattern(req); got != tt.want {
			t.Errorf("routePattern(%q) = %q, want %q", tt.target, got, tt.want)
		}
	}
}

func TestMiddleware_Metrics_BoundedPathLabels(t *testing.T) {
	metrics, metricsHandler, err := observability.NewMetrics(context.Background())
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	runner, store := jobtest.NewRunner(), jobtest.NewStore()
	router := NewRouter(RouterConfig{
		Submitter:     job.NewSubmitter(runner, store, config.SandboxConfig{Command: []string{"run"}}, metrics),
		Resolver:      job.NewResolver(runner, store, lock.NewMemory(), metrics),
		Metrics:       metrics,
		HealthChecker: health.NewChecker(),
	})

	jobID := uuid.NewString()
	for _, target := range []string{"/GetResults/" + jobID, "/wp-login.php", "/.env", "/admin/config.php"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}

	w := httptest.NewRecorder()
	metricsHandler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(w.Body)
	scrape := string(body)

	if !strings.Contains(scrape, `path="/GetResults/{jobId}"`) {
		t.Error("Expected the results route to be labelled by its pattern")
	}
	if !strings.Contains(scrape, `path="other"`) {
		t.Error("Expected unmatched paths to share one label")
	}
	for _, leaked := range []string{jobID, "wp-login", "config.php"} {
		if strings.Contains(scrape, leaked) {
			t.Errorf("Expected %q not to appear in path labels", leaked)
		}
	}
}
