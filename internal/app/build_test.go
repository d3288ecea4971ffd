package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ent0n29/codestudio/internal/config"
)

func TestBuildWiresInMemoryStack(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.StoreBackend = "memory"
	cfg.JWTSecret = ""
	cfg.MetricsNamespace = "codestudio_app_test"

	res, err := Build(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := res.Sessions.BackendMode(); got != "memory" {
		t.Fatalf("backend mode = %q, want memory", got)
	}

	srv := httptest.NewServer(res.API.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/sessions", "application/json", strings.NewReader(`{"creatorId":"1"}`))
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}

	// A random secret is still a working secret.
	token, _, err := res.Tokens.Issue("1", "ada")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := res.Tokens.Verify(token); err != nil {
		t.Fatalf("verify: %v", err)
	}

	if err := res.Cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
}

func TestBuildRejectsUnknownBackend(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.StoreBackend = "cassandra"
	cfg.MetricsNamespace = "codestudio_app_test_bad"
	if _, err := Build(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
