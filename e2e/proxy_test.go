//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"runproxy/internal/api"
	"runproxy/internal/config"
	"runproxy/internal/health"
	"runproxy/internal/job"
	"runproxy/internal/lock"
	"runproxy/internal/maintenance"
	"runproxy/internal/sandbox/docker"
	"runproxy/internal/store/fileshare"
	"runproxy/internal/testutil"
)

const batch = `[{"comment_id":"c1","comment_text":"Loved it","question_type":"open"},` +
	`{"comment_id":"c2","comment_text":"Too long","question_type":"open"}]`

// labelScript stands in for the analysis image: it rewrites the staged batch
// into data_out and consumes the input. The input file name arrives as $0.
const labelScript = `mkdir -p data_out && sed 's/question_type/label/g' "data_in/$0" > "data_out/$0" && rm "data_in/$0"`

type stack struct {
	url     string
	runner  *docker.Runner
	share   *fileshare.Share
	sweeper *maintenance.Sweeper
}

// newStack returns a running proxy. If E2E_API_URL is set, tests run against
// that instance and the in-process collaborators are nil.
func newStack(t *testing.T, command ...string) *stack {
	t.Helper()
	if url := os.Getenv("E2E_API_URL"); url != "" {
		t.Logf("Using external API: %s", url)
		return &stack{url: url}
	}

	runner, err := docker.NewRunner(fmt.Sprintf("e2e-%d", time.Now().UnixNano()))
	if err != nil {
		t.Fatalf("Failed to create Docker runner: %v", err)
	}
	if err := runner.Ready(context.Background()); err != nil {
		t.Skipf("Docker daemon unavailable: %v", err)
	}

	share, err := fileshare.New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open share: %v", err)
	}

	cfg := config.SandboxConfig{
		Image:     "alpine",
		Tag:       "latest",
		CPU:       0.5,
		MemoryGB:  0.125,
		ShareRoot: share.Root(),
		MountPath: "/data",
		Command:   command,
	}

	router := api.NewRouter(api.RouterConfig{
		Submitter: job.NewSubmitter(runner, share, cfg, nil),
		Resolver:  job.NewResolver(runner, share, lock.NewMemory(), nil),
		HealthChecker: health.NewChecker(
			health.Dependency{Name: "sandbox", Checker: runner},
			health.Dependency{Name: "store", Checker: share},
		),
	})
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		server.Close()
		runner.Close()
	})

	return &stack{
		url:     server.URL,
		runner:  runner,
		share:   share,
		sweeper: maintenance.NewSweeper(runner, share, nil),
	}
}

func submit(t *testing.T, baseURL string) string {
	t.Helper()
	resp, err := http.Post(baseURL+"/StartContainerInstance", "application/json", strings.NewReader(batch))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", resp.StatusCode, body)
	}
	return string(body)
}

// pollUntilSettled polls until the answer is no longer 202.
func pollUntilSettled(t *testing.T, pollURL string) (int, string) {
	t.Helper()
	var (
		code int
		body string
	)
	testutil.MustWaitFor(t, func() bool {
		resp, err := http.Get(pollURL)
		if err != nil {
			return false
		}
		defer resp.Body.Close()

		data, _ := io.ReadAll(resp.Body)
		code, body = resp.StatusCode, string(data)
		return code != http.StatusAccepted
	}, testutil.WithTimeout(2*time.Minute), testutil.WithInterval(time.Second))
	return code, body
}

func TestProxy_Readyz(t *testing.T) {
	s := newStack(t, "sh", "-c", labelScript)

	resp, err := http.Get(s.url + "/readyz")
	if err != nil {
		t.Fatalf("Readiness check failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var result health.Response
	json.NewDecoder(resp.Body).Decode(&result)
	if result.Status != health.StatusHealthy {
		t.Errorf("Expected healthy status, got %s", result.Status)
	}
}

func TestProxy_SubmitAndCollect(t *testing.T) {
	s := newStack(t, "sh", "-c", labelScript)

	pollURL := submit(t, s.url)
	if !strings.Contains(pollURL, "/GetResults/") {
		t.Fatalf("Unexpected poll URL %q", pollURL)
	}

	code, body := pollUntilSettled(t, pollURL)
	if code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", code, body)
	}

	var records []map[string]string
	if err := json.Unmarshal([]byte(body), &records); err != nil {
		t.Fatalf("Result is not JSON: %v", err)
	}
	if len(records) != 2 || records[0]["label"] != "open" {
		t.Errorf("Unexpected result %s", body)
	}

	resp, err := http.Get(pollURL)
	if err != nil {
		t.Fatalf("Second poll failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404 after collection, got %d", resp.StatusCode)
	}
}

func TestProxy_FailedSandbox(t *testing.T) {
	if os.Getenv("E2E_API_URL") != "" {
		t.Skip("needs an in-process stack with a failing command")
	}
	s := newStack(t, "sh", "-c", "exit 3")

	pollURL := submit(t, s.url)
	code, body := pollUntilSettled(t, pollURL)
	if code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d: %s", code, body)
	}

	// Failed sandboxes stay put for inspection
	code, _ = pollUntilSettled(t, pollURL)
	if code != http.StatusInternalServerError {
		t.Errorf("Expected failure to be stable, got %d", code)
	}
}

func TestProxy_SweepKeepsUncollectedResults(t *testing.T) {
	if os.Getenv("E2E_API_URL") != "" {
		t.Skip("needs an in-process stack")
	}
	s := newStack(t, "sh", "-c", labelScript)
	ctx := context.Background()

	pollURL := submit(t, s.url)
	jobID := pollURL[strings.LastIndex(pollURL, "/")+1:]

	testutil.MustWaitFor(t, func() bool {
		staged, err := job.OutputStaged(ctx, s.share, jobID)
		return err == nil && staged
	}, testutil.WithTimeout(2*time.Minute), testutil.WithInterval(time.Second))

	if _, err := s.sweeper.Sweep(ctx); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	code, _ := pollUntilSettled(t, pollURL)
	if code != http.StatusOK {
		t.Errorf("Expected uncollected result to survive the sweep, got %d", code)
	}
}
