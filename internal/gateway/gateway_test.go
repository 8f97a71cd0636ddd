// ABOUTME: Tests for Gateway construction, lifecycle and health and metrics endpoints
// ABOUTME: Runs the real server on a free port and shared helpers for handler tests

package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/2389/chatdesk/internal/config"
	"github.com/2389/chatdesk/internal/conversation"
)

const testSecret = "gateway-test-secret-0123456789abcdef"

// testConfig creates a minimal config for testing with an available port
// and short chat timings.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	httpListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available HTTP port: %v", err)
	}
	httpAddr := httpListener.Addr().String()
	httpListener.Close()

	cfg := &config.Config{
		Server:   config.ServerConfig{HTTPAddr: httpAddr},
		Database: config.DatabaseConfig{Path: ":memory:"},
		Auth:     config.AuthConfig{JWTSecret: testSecret},
		Chat: config.ChatConfig{
			TypingDebounce:   50 * time.Millisecond,
			TypingExpiry:     300 * time.Millisecond,
			ReadReceiptDelay: 20 * time.Millisecond,
		},
		Metrics: config.MetricsConfig{Enabled: true},
	}
	cfg.ApplyDefaults()
	return cfg
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestGateway creates a gateway served by an httptest server. Shutdown
// runs before the server closes so open streams end first.
func newTestGateway(t *testing.T) (*Gateway, *httptest.Server) {
	t.Helper()

	gw, err := New(testConfig(t), testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw, srv
}

// tokenFor issues a token for p signed with the gateway's secret.
func tokenFor(t *testing.T, gw *Gateway, p conversation.Participant) string {
	t.Helper()
	token, err := gw.verifier.Generate(p, time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	return token
}

func TestGatewayNew(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	if gw.config != cfg {
		t.Error("gateway config mismatch")
	}
	if gw.store == nil {
		t.Error("store should not be nil")
	}
	if gw.hub == nil {
		t.Error("hub should not be nil")
	}
	if gw.sessions == nil {
		t.Error("sessions should not be nil")
	}
}

func TestGatewayNew_WeakSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = "short"

	if _, err := New(cfg, testLogger()); err == nil {
		t.Fatal("New() should fail with a short secret")
	}
}

func TestGatewayRunAndShutdown(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Run gateway in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Run(ctx)
	}()

	// Give it time to start
	time.Sleep(100 * time.Millisecond)

	// Shutdown via context cancel
	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("gateway did not shutdown in time")
	}

	// A second shutdown is a no-op.
	if err := gw.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestGatewayRun_AddressInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	cfg := testConfig(t)
	cfg.Server.HTTPAddr = ln.Addr().String()

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	if err := gw.Run(t.Context()); err == nil {
		t.Error("Run() should fail when the address is taken")
	}
}

func TestHealthEndpoint(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx := t.Context()

	// Run gateway
	go func() {
		_ = gw.Run(ctx)
	}()

	// Wait for server to start
	time.Sleep(100 * time.Millisecond)

	// Check health endpoint
	resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/healthz")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, srv := newTestGateway(t)

	// An unauthenticated request is still instrumented.
	resp, err := http.Post(srv.URL+"/api/enquiries", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `chatdesk_http_requests_total{code="401",route="create_enquiry"} 1`) {
		t.Errorf("metrics output missing request counter:\n%s", body)
	}
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = false

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
