package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ILYESS24/AiEditor/internal/testutil"
)

func ok(context.Context) error   { return nil }
func fail(context.Context) error { return errors.New("connection refused") }

func TestCheckOverallStatus(t *testing.T) {
	cases := []struct {
		name   string
		probes []Probe
		want   Status
	}{
		{"no probes", nil, StatusHealthy},
		{"all ok", []Probe{{Name: "ledger", Critical: true, Check: ok}, {Name: "openai", Check: ok}}, StatusHealthy},
		{"provider down", []Probe{{Name: "ledger", Critical: true, Check: ok}, {Name: "openai", Check: fail}}, StatusDegraded},
		{"ledger down", []Probe{{Name: "ledger", Critical: true, Check: fail}, {Name: "openai", Check: ok}}, StatusUnhealthy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := New(Config{})
			for _, p := range tc.probes {
				c.Add(p)
			}
			st := c.Check(context.Background())
			if st.Status != tc.want {
				t.Fatalf("status = %s, want %s", st.Status, tc.want)
			}
			if len(st.Components) != len(tc.probes) {
				t.Fatalf("components = %d", len(st.Components))
			}
			for i, comp := range st.Components {
				if comp.Name != tc.probes[i].Name {
					t.Fatalf("component %d = %s, order not kept", i, comp.Name)
				}
			}
			if got := c.LastStatus().Status; got != tc.want {
				t.Fatalf("last status = %s", got)
			}
		})
	}
}

func TestCheckSlowProbeDegradesAndTimesOut(t *testing.T) {
	c := New(Config{Timeout: 50 * time.Millisecond, MaxLatency: 10 * time.Millisecond})
	c.Add(Probe{Name: "slow", Check: func(ctx context.Context) error {
		select {
		case <-time.After(20 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}})
	c.Add(Probe{Name: "hung", Critical: true, Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	c.Add(Probe{Name: "ignored"})

	st := c.Check(context.Background())
	if len(st.Components) != 2 {
		t.Fatalf("nil check should be ignored, got %d components", len(st.Components))
	}
	if st.Components[0].Status != StatusDegraded {
		t.Fatalf("slow = %s", st.Components[0].Status)
	}
	if st.Components[1].Status != StatusUnhealthy || st.Status != StatusUnhealthy {
		t.Fatalf("hung = %s overall = %s", st.Components[1].Status, st.Status)
	}
}

func TestHandler(t *testing.T) {
	c := New(Config{})
	c.Add(Probe{Name: "ledger", Type: TypeLedger, Critical: true, Check: fail})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d", rec.Code)
	}
	var st HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Status != StatusUnhealthy || st.Components[0].Error != "connection refused" {
		t.Fatalf("unexpected body %+v", st)
	}
}

func TestHTTPCheckAcceptsAnyStatus(t *testing.T) {
	srv := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer srv.Close()

	if err := HTTPCheck(srv.Client(), srv.URL+"/v1/chat/completions")(context.Background()); err != nil {
		t.Fatalf("reachable endpoint failed: %v", err)
	}
	if err := HTTPCheck(nil, "http://127.0.0.1:1/")(context.Background()); err == nil {
		t.Fatalf("expected error for closed port")
	}
}
