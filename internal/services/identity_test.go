package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/ytakahashi/firetodo/internal/auth"
	"google.golang.org/api/option"
)

// fakeToolkit is a minimal stand-in for the relying-party endpoints.
type fakeToolkit struct {
	mu       sync.Mutex
	accounts map[string]fakeAccount // email -> account
	nextID   int
	calls    []string
	lastBody map[string]any
}

type fakeAccount struct {
	localID     string
	password    string
	displayName string
}

func newFakeToolkit() *fakeToolkit {
	return &fakeToolkit{accounts: make(map[string]fakeAccount)}
}

func (f *fakeToolkit) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeToolkitError(w, "INVALID_ARGUMENT")
		return
	}
	f.lastBody = body
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	f.calls = append(f.calls, method)

	str := func(k string) string { s, _ := body[k].(string); return s }

	switch method {
	case "signupNewUser":
		email := str("email")
		if !strings.Contains(email, "@") {
			writeToolkitError(w, "INVALID_EMAIL")
			return
		}
		if len(str("password")) < 6 {
			writeToolkitError(w, "WEAK_PASSWORD : Password should be at least 6 characters")
			return
		}
		if _, ok := f.accounts[email]; ok {
			writeToolkitError(w, "EMAIL_EXISTS")
			return
		}
		f.nextID++
		acct := fakeAccount{localID: fmt.Sprintf("uid-%d", f.nextID), password: str("password")}
		f.accounts[email] = acct
		writeJSON(w, map[string]any{"localId": acct.localID, "email": email, "idToken": "token-" + acct.localID})
	case "setAccountInfo":
		for email, acct := range f.accounts {
			if "token-"+acct.localID == str("idToken") {
				acct.displayName = str("displayName")
				f.accounts[email] = acct
				writeJSON(w, map[string]any{"localId": acct.localID, "displayName": acct.displayName})
				return
			}
		}
		writeToolkitError(w, "INVALID_ID_TOKEN")
	case "verifyPassword":
		acct, ok := f.accounts[str("email")]
		if !ok {
			writeToolkitError(w, "EMAIL_NOT_FOUND")
			return
		}
		if acct.password != str("password") {
			writeToolkitError(w, "INVALID_PASSWORD")
			return
		}
		writeJSON(w, map[string]any{"localId": acct.localID, "email": str("email"), "displayName": acct.displayName, "registered": true})
	case "verifyAssertion":
		form, _ := url.ParseQuery(str("postBody"))
		if form.Get("providerId") != "google.com" || form.Get("id_token") != "google-token" {
			writeToolkitError(w, "INVALID_IDP_RESPONSE")
			return
		}
		writeJSON(w, map[string]any{"localId": "uid-google", "email": "g@example.com", "displayName": "Gee"})
	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeToolkitError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    400,
			"message": msg,
			"errors":  []map[string]any{{"message": msg, "domain": "global", "reason": "invalid"}},
		},
	})
}

func setupIdentity(t *testing.T) (*IdentityService, *fakeToolkit) {
	t.Helper()
	fake := newFakeToolkit()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := NewIdentityService(context.Background(), "test-key",
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("failed to create identity service: %v", err)
	}
	return svc, fake
}

func TestRegisterAndLogin(t *testing.T) {
	svc, fake := setupIdentity(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "ann@example.com", "secret1", " Ann ")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if user.UID != "uid-1" || user.Email != "ann@example.com" || user.DisplayName != "Ann" {
		t.Errorf("unexpected user %+v", user)
	}
	if got := strings.Join(fake.calls, ","); got != "signupNewUser,setAccountInfo" {
		t.Errorf("unexpected call sequence %q", got)
	}

	user, err = svc.Login(ctx, "ann@example.com", "secret1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if user.UID != "uid-1" || user.DisplayName != "Ann" {
		t.Errorf("unexpected user %+v", user)
	}
	if fake.lastBody["returnSecureToken"] != true {
		t.Error("expected returnSecureToken on login")
	}
}

func TestRegisterWithoutDisplayNameSkipsProfileUpdate(t *testing.T) {
	svc, fake := setupIdentity(t)

	if _, err := svc.Register(context.Background(), "bob@example.com", "secret1", ""); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if len(fake.calls) != 1 {
		t.Errorf("expected a single call, got %v", fake.calls)
	}
}

func TestIdentityErrorCodes(t *testing.T) {
	svc, _ := setupIdentity(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "ann@example.com", "secret1", ""); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	tests := []struct {
		name string
		call func() error
		code string
	}{
		{"duplicate email", func() error { _, err := svc.Register(ctx, "ann@example.com", "secret1", ""); return err }, auth.CodeEmailAlreadyInUse},
		{"invalid email", func() error { _, err := svc.Register(ctx, "nope", "secret1", ""); return err }, auth.CodeInvalidEmail},
		{"weak password", func() error { _, err := svc.Register(ctx, "c@example.com", "123", ""); return err }, auth.CodeWeakPassword},
		{"unknown user", func() error { _, err := svc.Login(ctx, "who@example.com", "secret1"); return err }, auth.CodeUserNotFound},
		{"wrong password", func() error { _, err := svc.Login(ctx, "ann@example.com", "bad"); return err }, auth.CodeWrongPassword},
		{"bad google token", func() error { _, err := svc.SignInWithGoogle(ctx, "forged", "http://localhost"); return err }, auth.CodeInvalidCredential},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if got := auth.CodeOf(err); got != tt.code {
				t.Errorf("expected code %s, got %s (%v)", tt.code, got, err)
			}
		})
	}
}

func TestSignInWithGoogle(t *testing.T) {
	svc, _ := setupIdentity(t)

	user, err := svc.SignInWithGoogle(context.Background(), "google-token", "http://localhost:8080/auth/google/callback")
	if err != nil {
		t.Fatalf("sign in failed: %v", err)
	}
	if user.UID != "uid-google" || user.DisplayName != "Gee" {
		t.Errorf("unexpected user %+v", user)
	}
}
