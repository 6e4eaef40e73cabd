package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestCheckReadiness(t *testing.T) {
	failing := func(context.Context) error { return errors.New("down") }
	passing := func(context.Context) error { return nil }

	tests := []struct {
		name     string
		setup    func(c *Checker)
		expected string
	}{
		{"no checks", func(*Checker) {}, StatusReady},
		{"all passing", func(c *Checker) {
			c.RegisterCheck("policies", passing)
			c.RegisterOptionalCheck("store", passing)
		}, StatusReady},
		{"optional failing", func(c *Checker) {
			c.RegisterCheck("policies", passing)
			c.RegisterOptionalCheck("store", failing)
		}, StatusDegraded},
		{"critical failing", func(c *Checker) {
			c.RegisterCheck("policies", failing)
			c.RegisterOptionalCheck("store", failing)
		}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(time.Second)
			tt.setup(c)
			status := c.CheckReadiness(context.Background())
			if status.Status != tt.expected {
				t.Errorf("Expected %s, got %s (%+v)", tt.expected, status.Status, status.Checks)
			}
			if len(status.Checks) != c.CheckCount() {
				t.Errorf("Expected %d results, got %d", c.CheckCount(), len(status.Checks))
			}
		})
	}
}

func TestCheckReadiness_Timeout(t *testing.T) {
	c := New(20 * time.Millisecond)
	c.RegisterCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return nil
	})

	status := c.CheckReadiness(context.Background())
	result := status.Checks["slow"]
	if result.Status != StatusUnhealthy || result.Message != ErrCheckTimeout.Error() {
		t.Errorf("Expected timeout, got %+v", result)
	}
}

func TestUnregisterCheck(t *testing.T) {
	c := New(0)
	c.RegisterCheck("a", func(context.Context) error { return errors.New("x") })
	c.UnregisterCheck("a")
	if c.CheckCount() != 0 || c.CheckReadiness(context.Background()).Status != StatusReady {
		t.Error("Expected check removed")
	}
}

func TestReadinessHandler(t *testing.T) {
	c := New(time.Second)
	c.RegisterOptionalCheck("store", func(context.Context) error { return errors.New("redis down") })

	w := httptest.NewRecorder()
	c.ReadinessHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 when degraded, got %d", w.Code)
	}
	var status HealthStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Status != StatusDegraded || status.Checks["store"].Message != "redis down" {
		t.Errorf("Unexpected body %+v", status)
	}

	c.RegisterCheck("policies", func(context.Context) error { return ErrNoPolicies })
	w = httptest.NewRecorder()
	c.ReadinessHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 when a critical check fails, got %d", w.Code)
	}
}

func TestLivenessHandler(t *testing.T) {
	c := New(time.Second)
	c.RegisterCheck("policies", func(context.Context) error { return errors.New("down") })

	w := httptest.NewRecorder()
	c.LivenessHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"healthy"`) {
		t.Errorf("Liveness must not run checks, got %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	c.LivenessHandler()(w, httptest.NewRequest(http.MethodHead, "/health", nil))
	if w.Code != http.StatusOK || w.Body.Len() != 0 {
		t.Errorf("Expected empty HEAD response, got %d %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	c.LivenessHandler()(w, httptest.NewRequest(http.MethodPost, "/health", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", w.Code)
	}
}

func TestVersionHandler(t *testing.T) {
	w := httptest.NewRecorder()
	VersionHandler("1.2.3", "abc", "today")(w, httptest.NewRequest(http.MethodGet, "/version", nil))
	var info VersionInfo
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	if info.Version != "1.2.3" || info.GoVersion == "" {
		t.Errorf("Unexpected version info %+v", info)
	}
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestPingCheck(t *testing.T) {
	if err := PingCheck(fakePinger{})(context.Background()); err != nil {
		t.Error(err)
	}
	if err := PingCheck(fakePinger{err: errors.New("x")})(context.Background()); err == nil {
		t.Error("Expected ping error")
	}
}

func TestPolicyCheck(t *testing.T) {
	loadErr := errors.New("bad yaml")
	tests := []struct {
		name    string
		count   int
		lastErr error
		want    error
	}{
		{"loaded", 2, nil, nil},
		{"loaded despite later error", 2, loadErr, nil},
		{"nothing loaded", 0, nil, ErrNoPolicies},
		{"load failed", 0, loadErr, loadErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := PolicyCheck(func() int { return tt.count }, func() error { return tt.lastErr })
			if err := check(context.Background()); !errors.Is(err, tt.want) && err != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}
