// internal/crm/odoo/session.go
//
// Odoo JSON-RPC session: the concrete crm.Client.
//
// Context
// -------
// Odoo exposes one POST endpoint, /jsonrpc, speaking JSON-RPC 2.0.  Every
// data call goes through service "object", method "execute_kw", and needs
// a numeric uid obtained once from service "common", method
// "authenticate".  A Session is the per-tenant connection object: it is
// created at tenant cold-load, authenticates lazily on first use, caches
// the uid for its lifetime, and is closed when the tenant is evicted.
// Sessions are reused sequentially within one sync run and are never
// shared across concurrent tenant runs.
//
// Every failure is wrapped as *crm.Error so the sync worker can tell the
// retryable remote class apart from local, deterministic errors.  The
// session itself never retries; retry bookkeeping belongs to the sync
// state machine.
//
// Notes
// -----
//   - Odoo record ids are integers; they are formatted as decimal strings
//     at this boundary to keep crm.Client CRM-agnostic.
//   - The caller controls deadlines through ctx; Timeout is only the
//     transport ceiling for a single call.
//   - Oxford commas, two spaces after periods.
package odoo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/perkloop/loyalty/internal/crm"
	"github.com/perkloop/loyalty/internal/loyalty"
)

// Config carries the per-tenant coordinates of one Odoo instance.
type Config struct {
	URL      string // base URL, e.g. https://crm.example.com
	Database string
	Login    string
	APIKey   string
	Timeout  time.Duration // per-call transport ceiling
}

// Session implements crm.Client against one Odoo database.
type Session struct {
	cfg  Config
	http *http.Client

	mu  sync.Mutex
	uid int // 0 until the first successful authenticate
}

// New constructs a Session.  No network traffic happens here; the first
// call authenticates.
func New(cfg Config) *Session {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Session{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// modelFor maps a local entity class to its Odoo model.
func modelFor(entity loyalty.EntityType) (string, error) {
	switch entity {
	case loyalty.EntityMember:
		return "res.partner", nil
	case loyalty.EntitySticker:
		return "loyalty.card", nil
	}
	return "", fmt.Errorf("no odoo model for entity %q", entity)
}

// Create inserts one record and returns its id as a string.
func (s *Session) Create(ctx context.Context, entity loyalty.EntityType, fields crm.Fields) (string, error) {
	model, err := modelFor(entity)
	if err != nil {
		return "", &crm.Error{Op: "create", Err: err}
	}
	uid, err := s.authenticate(ctx)
	if err != nil {
		return "", err
	}

	var id int
	if err := s.call(ctx, "object", "execute_kw", []any{
		s.cfg.Database, uid, s.cfg.APIKey, model, "create", []any{fields},
	}, &id); err != nil {
		return "", &crm.Error{Op: "create", Err: err}
	}
	return strconv.Itoa(id), nil
}

// Update overwrites fields on one existing record.  Odoo's write is
// naturally idempotent: repeating the same payload is a no-op.
func (s *Session) Update(ctx context.Context, entity loyalty.EntityType, externalID string, fields crm.Fields) error {
	model, err := modelFor(entity)
	if err != nil {
		return &crm.Error{Op: "update", Err: err}
	}
	id, err := strconv.Atoi(externalID)
	if err != nil {
		return &crm.Error{Op: "update", Err: fmt.Errorf("bad external id %q: %w", externalID, err)}
	}
	uid, err := s.authenticate(ctx)
	if err != nil {
		return err
	}

	var ok bool
	if err := s.call(ctx, "object", "execute_kw", []any{
		s.cfg.Database, uid, s.cfg.APIKey, model, "write", []any{[]int{id}, fields},
	}, &ok); err != nil {
		return &crm.Error{Op: "update", Err: err}
	}
	if !ok {
		return &crm.Error{Op: "update", Err: fmt.Errorf("write on %s/%d returned false", model, id)}
	}
	return nil
}

// TestConnection asks the server for its version.  Cheap, unauthenticated,
// and good enough as a session health check at tenant load.
func (s *Session) TestConnection(ctx context.Context) error {
	var version map[string]any
	if err := s.call(ctx, "common", "version", []any{}, &version); err != nil {
		return &crm.Error{Op: "version", Err: err}
	}
	return nil
}

// Close drops the cached uid and the transport's idle connections.
func (s *Session) Close() error {
	s.mu.Lock()
	s.uid = 0
	s.mu.Unlock()
	s.http.CloseIdleConnections()
	return nil
}

// authenticate resolves and caches the numeric uid.
func (s *Session) authenticate(ctx context.Context) (int, error) {
	s.mu.Lock()
	uid := s.uid
	s.mu.Unlock()
	if uid != 0 {
		return uid, nil
	}

	if err := s.call(ctx, "common", "authenticate", []any{
		s.cfg.Database, s.cfg.Login, s.cfg.APIKey, map[string]any{},
	}, &uid); err != nil {
		return 0, &crm.Error{Op: "authenticate", Err: err}
	}
	if uid == 0 {
		return 0, &crm.Error{Op: "authenticate", Err: fmt.Errorf("credentials rejected for %q", s.cfg.Login)}
	}

	s.mu.Lock()
	s.uid = uid
	s.mu.Unlock()
	return uid, nil
}

//
// JSON-RPC 2.0 plumbing
//

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int64     `json:"id"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call performs one JSON-RPC round trip and decodes the result into out.
func (s *Session) call(ctx context.Context, service, method string, args []any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  rpcParams{Service: service, Method: method, Args: args},
		ID:      time.Now().UnixNano(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL+"/jsonrpc", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rr.Error != nil {
		return rr.Error
	}
	if out != nil && len(rr.Result) > 0 {
		if err := json.Unmarshal(rr.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}
