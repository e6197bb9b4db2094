// internal/crm/odoo/session_test.go
//
// Unit-tests for the Odoo JSON-RPC session using httptest.
//
// Context
// -------
// A stub /jsonrpc endpoint plays the Odoo side: it authenticates a known
// login, creates records with fixed ids, and acknowledges writes.  The
// tests pin the lazy uid caching, the string formatting of external ids,
// and the *crm.Error wrapping the sync worker depends on.
//
// Run: go test ./internal/crm/odoo -v

package odoo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/perkloop/loyalty/internal/crm"
	"github.com/perkloop/loyalty/internal/loyalty"
)

// stubOdoo answers the three calls a Session makes.
func stubOdoo(t *testing.T, authCalls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/jsonrpc" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Params struct {
				Service string `json:"service"`
				Method  string `json:"method"`
				Args    []any  `json:"args"`
			} `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}

		write := func(result any) {
			_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "result": result})
		}
		fail := func(code int, msg string) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0",
				"error":   map[string]any{"code": code, "message": msg},
			})
		}

		switch req.Params.Service + "." + req.Params.Method {
		case "common.version":
			write(map[string]any{"server_version": "17.0"})
		case "common.authenticate":
			atomic.AddInt32(authCalls, 1)
			if req.Params.Args[1] == "sync@acme.example" {
				write(7)
				return
			}
			write(false) // Odoo returns false for bad credentials
		case "object.execute_kw":
			method := req.Params.Args[4]
			switch method {
			case "create":
				write(1042)
			case "write":
				write(true)
			default:
				fail(400, "unknown method")
			}
		default:
			fail(400, "unknown service")
		}
	}))
}

func newSession(url string) *Session {
	return New(Config{
		URL:      url,
		Database: "acme",
		Login:    "sync@acme.example",
		APIKey:   "k3y",
	})
}

func TestSession_CreateAndUpdate(t *testing.T) {
	var authCalls int32
	srv := stubOdoo(t, &authCalls)
	defer srv.Close()

	s := newSession(srv.URL)
	defer s.Close()
	ctx := context.Background()

	id, err := s.Create(ctx, loyalty.EntityMember, crm.Fields{"name": "Member 42"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if id != "1042" {
		t.Fatalf("expected external id \"1042\", got %q", id)
	}

	if err := s.Update(ctx, loyalty.EntityMember, id, crm.Fields{"comment": "updated"}); err != nil {
		t.Fatalf("Update error: %v", err)
	}

	// The uid is cached: two data calls, one authenticate.
	if n := atomic.LoadInt32(&authCalls); n != 1 {
		t.Fatalf("expected 1 authenticate call, got %d", n)
	}
}

func TestSession_TestConnection(t *testing.T) {
	var authCalls int32
	srv := stubOdoo(t, &authCalls)
	defer srv.Close()

	s := newSession(srv.URL)
	defer s.Close()

	if err := s.TestConnection(context.Background()); err != nil {
		t.Fatalf("TestConnection error: %v", err)
	}
	if n := atomic.LoadInt32(&authCalls); n != 0 {
		t.Fatalf("version check must not authenticate, got %d calls", n)
	}
}

func TestSession_BadCredentials(t *testing.T) {
	var authCalls int32
	srv := stubOdoo(t, &authCalls)
	defer srv.Close()

	s := New(Config{URL: srv.URL, Database: "acme", Login: "wrong@acme.example", APIKey: "bad"})
	defer s.Close()

	_, err := s.Create(context.Background(), loyalty.EntityMember, crm.Fields{"name": "x"})
	if err == nil {
		t.Fatal("expected an authentication error")
	}
	if !crm.IsRemote(err) {
		t.Fatalf("expected a *crm.Error, got %T: %v", err, err)
	}
}

func TestSession_TransportErrorIsRemote(t *testing.T) {
	s := New(Config{URL: "http://127.0.0.1:1", Database: "acme", Login: "x", APIKey: "y"})
	defer s.Close()

	if err := s.TestConnection(context.Background()); !crm.IsRemote(err) {
		t.Fatalf("expected a *crm.Error for transport failure, got %v", err)
	}
}

func TestSession_BadExternalID(t *testing.T) {
	s := newSession("http://unused.example")
	defer s.Close()

	err := s.Update(context.Background(), loyalty.EntitySticker, "not-a-number", crm.Fields{})
	if !crm.IsRemote(err) {
		t.Fatalf("expected a *crm.Error, got %v", err)
	}
}
