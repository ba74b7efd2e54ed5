package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oremus-labs/ol-model-registry/internal/registry"
)

func probeEndpoint(url string) registry.Endpoint {
	return registry.Endpoint{
		ID:             "ep-1",
		ModelID:        "m-1",
		HealthCheckURL: url,
		HealthStatus:   registry.HealthUnknown,
	}
}

func TestCheckServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	res := New(Options{}).Check(context.Background(), probeEndpoint(srv.URL))
	if res.Status != registry.HealthUnhealthy {
		t.Fatalf("expected unhealthy got %s", res.Status)
	}
	if res.HTTPStatus != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", res.HTTPStatus)
	}
	if res.Err != nil {
		t.Fatalf("HTTP classification should not set Err, got %v", res.Err)
	}
}

func TestCheckClientError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	res := New(Options{}).Check(context.Background(), probeEndpoint(srv.URL))
	if res.Status != registry.HealthDegraded {
		t.Fatalf("expected degraded got %s", res.Status)
	}
}

func TestCheckSlowResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(60 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	m := New(Options{SlowThreshold: 20 * time.Millisecond})
	res := m.Check(context.Background(), probeEndpoint(srv.URL))
	if res.Status != registry.HealthDegraded {
		t.Fatalf("expected degraded for slow 200 got %s", res.Status)
	}
}

func TestCheckHealthyFastResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	res := New(Options{}).Check(context.Background(), probeEndpoint(srv.URL))
	if res.Status != registry.HealthHealthy {
		t.Fatalf("expected healthy got %s", res.Status)
	}
	if res.Latency <= 0 {
		t.Fatal("expected measured latency")
	}
}

func TestCheckBodyHints(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want registry.HealthStatus
	}{
		{"status degraded", `{"status":"degraded"}`, registry.HealthDegraded},
		{"status down", `{"status":"down"}`, registry.HealthUnhealthy},
		{"healthy false", `{"healthy":false}`, registry.HealthUnhealthy},
		{"healthy true", `{"healthy":true,"status":"ok"}`, registry.HealthHealthy},
		{"unparseable body", `<html>ok</html>`, registry.HealthHealthy},
		{"empty body", ``, registry.HealthHealthy},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.body))
			}))
			t.Cleanup(srv.Close)

			res := New(Options{}).Check(context.Background(), probeEndpoint(srv.URL))
			if res.Status != tc.want {
				t.Fatalf("expected %s got %s", tc.want, res.Status)
			}
		})
	}
}

func TestCheckConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	res := New(Options{}).Check(context.Background(), probeEndpoint(url))
	if res.Status != registry.HealthUnhealthy {
		t.Fatalf("expected unhealthy got %s", res.Status)
	}
	if res.Err == nil {
		t.Fatal("expected transport error")
	}
}

func TestCheckTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	m := New(Options{Timeout: 50 * time.Millisecond})
	res := m.Check(context.Background(), probeEndpoint(srv.URL))
	if res.Status != registry.HealthDegraded {
		t.Fatalf("expected degraded for timeout got %s", res.Status)
	}
	if res.Err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestCheckWithoutHealthURL(t *testing.T) {
	t.Parallel()

	ep := registry.Endpoint{ID: "ep-1", HealthStatus: registry.HealthDegraded}
	res := New(Options{}).Check(context.Background(), ep)
	if res.Status != registry.HealthDegraded {
		t.Fatalf("expected last known status, got %s", res.Status)
	}
	if res.Err != nil || res.HTTPStatus != 0 {
		t.Fatalf("no probe should have happened: %+v", res)
	}
}
