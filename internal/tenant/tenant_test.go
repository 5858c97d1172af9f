package tenant

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	valid := []string{"1", "42", "900100", "acme", "team_7", "us-east-prod", "Abc"}
	for _, id := range valid {
		if err := Validate(id); err != nil {
			t.Fatalf("Validate(%q): %v", id, err)
		}
	}
	invalid := []string{"", "0", "ab", "has space", "semi;colon",
		strings.Repeat("x", 51)}
	for _, id := range invalid {
		if err := Validate(id); !errors.Is(err, ErrInvalidTenant) {
			t.Fatalf("Validate(%q): expected ErrInvalidTenant, got %v", id, err)
		}
	}
}

func TestValidateInvalidShort(t *testing.T) {
	// Two characters is below the slug minimum and not numeric.
	if err := Validate("ab"); err == nil {
		t.Fatal("expected error for two-character slug")
	}
	// But "7" passes as a numeric identifier despite being one character.
	if err := Validate("7"); err != nil {
		t.Fatalf("Validate(\"7\"): %v", err)
	}
}

func TestResolvePriority(t *testing.T) {
	r := &Resolver{
		Default:   "public",
		TokenHint: func(string) string { return "from-token" },
	}

	// Header wins over everything.
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(Header, "acme")
	req.Header.Set("Authorization", "Bearer sometoken")
	got, err := r.Resolve(req)
	if err != nil || got != "acme" {
		t.Fatalf("header priority: got %q, %v", got, err)
	}

	// Token hint when no header.
	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer sometoken")
	got, err = r.Resolve(req)
	if err != nil || got != "from-token" {
		t.Fatalf("token hint: got %q, %v", got, err)
	}

	// Default when neither.
	req = httptest.NewRequest("GET", "/", nil)
	got, err = r.Resolve(req)
	if err != nil || got != "public" {
		t.Fatalf("default: got %q, %v", got, err)
	}
}

func TestResolveInvalidHeaderFailsOutright(t *testing.T) {
	r := &Resolver{Default: "public", TokenHint: func(string) string { return "acme" }}
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(Header, "bad tenant!")
	req.Header.Set("Authorization", "Bearer sometoken")
	if _, err := r.Resolve(req); !errors.Is(err, ErrInvalidTenant) {
		t.Fatalf("expected ErrInvalidTenant, got %v", err)
	}
}

func TestResolveIgnoresInvalidHint(t *testing.T) {
	r := &Resolver{Default: "public", TokenHint: func(string) string { return "!!" }}
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer sometoken")
	got, err := r.Resolve(req)
	if err != nil || got != "public" {
		t.Fatalf("expected default on invalid hint, got %q, %v", got, err)
	}
}

func TestRunScopedRestoresOuter(t *testing.T) {
	ctx := WithTenant(context.Background(), "outer")

	err := RunScoped(ctx, "inner", func(inner context.Context) error {
		if id, _ := FromContext(inner); id != "inner" {
			t.Fatalf("inside scope: got %q", id)
		}
		return RunScoped(inner, "nested", func(deep context.Context) error {
			if id, _ := FromContext(deep); id != "nested" {
				t.Fatalf("nested scope: got %q", id)
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("RunScoped: %v", err)
	}
	if id, _ := FromContext(ctx); id != "outer" {
		t.Fatalf("outer context mutated: got %q", id)
	}
}

func TestRunScopedRejectsInvalidTenant(t *testing.T) {
	called := false
	err := RunScoped(context.Background(), "", func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrInvalidTenant) {
		t.Fatalf("expected ErrInvalidTenant, got %v", err)
	}
	if called {
		t.Fatal("fn must not run with an invalid tenant")
	}
}

func TestFromContextMissing(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("expected no tenant on empty context")
	}
}

func TestCurrentFallsBackToDefault(t *testing.T) {
	r := &Resolver{Default: "public"}
	if got := r.Current(context.Background()); got != "public" {
		t.Fatalf("expected default, got %q", got)
	}
	if got := r.Current(WithTenant(context.Background(), "acme")); got != "acme" {
		t.Fatalf("expected resolved tenant, got %q", got)
	}
}
