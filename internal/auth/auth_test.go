package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/vnmchuo/usage-tracker/internal/org"
)

type mockDirectory struct {
	org.Directory
	LookupFunc func(ctx context.Context, token string) (*org.Organization, error)
	lookups    []string
}

func (m *mockDirectory) LookupByToken(ctx context.Context, token string) (*org.Organization, error) {
	m.lookups = append(m.lookups, token)
	return m.LookupFunc(ctx, token)
}

func setupTest() (*Authorizer, *mockDirectory) {
	dir := &mockDirectory{
		LookupFunc: func(ctx context.Context, token string) (*org.Organization, error) {
			switch token {
			case "tok-active":
				return &org.Organization{ID: "org_1", Status: org.StatusActive}, nil
			case "tok-suspended":
				return &org.Organization{ID: "org_1", Status: "suspended"}, nil
			case "tok-dup":
				return nil, org.ErrAmbiguousToken
			case "tok-broken":
				return nil, errors.New("table unavailable")
			}
			return nil, org.ErrNotFound
		},
	}
	return NewAuthorizer(dir, zap.NewNop()), dir
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name       string
		credential string
		org        string
		want       bool
	}{
		{"bearer token", "Bearer tok-active", "org_1", true},
		{"lowercase scheme", "bearer tok-active", "org_1", true},
		{"bare token", "tok-active", "org_1", true},
		{"quoted", `"Bearer tok-active"`, "org_1", true},
		{"padded", "  Bearer   tok-active  ", "org_1", true},
		{"other organization", "Bearer tok-active", "org_2", false},
		{"inactive", "Bearer tok-suspended", "org_1", false},
		{"unknown", "Bearer nope", "org_1", false},
		{"duplicate token", "Bearer tok-dup", "org_1", false},
		{"lookup error", "Bearer tok-broken", "org_1", false},
		{"empty", "", "org_1", false},
		{"scheme only", "Bearer ", "org_1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := setupTest()
			if got := a.Authorize(context.Background(), tt.credential, tt.org); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestAuthorize_EmptyCredentialSkipsLookup(t *testing.T) {
	a, dir := setupTest()
	a.Authorize(context.Background(), `""`, "org_1")
	if len(dir.lookups) != 0 {
		t.Errorf("Expected no lookups, got %v", dir.lookups)
	}
}

func TestParseBearer(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":       "abc",
		"BEARER abc":       "abc",
		`"abc"`:            "abc",
		" abc ":            "abc",
		"Bearer  \"abc\" ": "abc",
		"Bearerabc":        "Bearerabc",
		"":                 "",
	}
	for in, want := range tests {
		if got := ParseBearer(in); got != want {
			t.Errorf("ParseBearer(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestCredentialFromHeader(t *testing.T) {
	h := http.Header{}
	h.Set("authorization", "Bearer a")
	if got := CredentialFromHeader(h); got != "Bearer a" {
		t.Errorf("Expected canonical header, got %q", got)
	}

	h = http.Header{`"Authorization"`: {"Bearer b"}}
	if got := CredentialFromHeader(h); got != "Bearer b" {
		t.Errorf("Expected quoted header name, got %q", got)
	}

	if got := CredentialFromHeader(http.Header{}); got != "" {
		t.Errorf("Expected empty credential, got %q", got)
	}
}

func TestMiddleware(t *testing.T) {
	var seen string
	handler := NewMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCredential(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer xyz")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "Bearer xyz" {
		t.Errorf("Expected credential in context, got %q", seen)
	}
}
