// Package e2e runs the Gherkin acceptance features against an in-process
// casework server backed by the in-memory store.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"casework/internal/assignment/engine"
	"casework/internal/assignment/handler"
	"casework/internal/assignment/models"
	"casework/internal/assignment/store"
	jwttoken "casework/internal/jwt_token"
	id "casework/pkg/domain"
)

const signingKey = "e2e-signing-key"

// TestContext holds the state of one scenario.
type TestContext struct {
	server *httptest.Server
	store  *store.InMemoryStore
	jwt    *jwttoken.JWTService

	token       string
	lastStatus  int
	lastBody    []byte
	units       map[string]*models.Unit
	staff       map[string]*models.StaffProfile
	workItems   map[string]id.WorkItemID
	remembered  map[string]string
	workItemSeq int
}

// NewTestContext starts a fresh server for a scenario.
func NewTestContext() (*TestContext, error) {
	st := store.NewInMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng, err := engine.New(engine.Deps{Store: st, Logger: logger})
	if err != nil {
		return nil, err
	}
	jwt := jwttoken.NewJWTService(signingKey, "casework", "casework-api")

	r := chi.NewRouter()
	handler.New(eng.Services(), jwttoken.NewJWTServiceAdapter(jwt), logger).Register(r)

	return &TestContext{
		server:     httptest.NewServer(r),
		store:      st,
		jwt:        jwt,
		units:      map[string]*models.Unit{},
		staff:      map[string]*models.StaffProfile{},
		workItems:  map[string]id.WorkItemID{},
		remembered: map[string]string{},
	}, nil
}

func (tc *TestContext) Close() {
	tc.server.Close()
}

func (tc *TestContext) Store() *store.InMemoryStore { return tc.store }

func (tc *TestContext) Now() time.Time { return time.Now().UTC() }

func (tc *TestContext) Unit(name string) (*models.Unit, error) {
	u, ok := tc.units[name]
	if !ok {
		return nil, fmt.Errorf("unknown unit %q", name)
	}
	return u, nil
}

func (tc *TestContext) SetUnit(name string, u *models.Unit) { tc.units[name] = u }

func (tc *TestContext) Staff(name string) (*models.StaffProfile, error) {
	s, ok := tc.staff[name]
	if !ok {
		return nil, fmt.Errorf("unknown staff %q", name)
	}
	return s, nil
}

func (tc *TestContext) SetStaff(name string, s *models.StaffProfile) { tc.staff[name] = s }

// StaffName reverses a user id to the scenario's name for it.
func (tc *TestContext) StaffName(userID id.UserID) string {
	for name, s := range tc.staff {
		if s.UserID == userID {
			return name
		}
	}
	return userID.String()
}

// WorkItemID returns a stable id for a scenario work item name.
func (tc *TestContext) WorkItemID(name string) id.WorkItemID {
	if wid, ok := tc.workItems[name]; ok {
		return wid
	}
	tc.workItemSeq++
	wid := id.WorkItemID(uuid.New())
	tc.workItems[name] = wid
	return wid
}

// NextCreatedAt spaces queue entries one second apart so FIFO order is stable.
func (tc *TestContext) NextCreatedAt() time.Time {
	return tc.Now().Add(-time.Hour).Add(time.Duration(tc.workItemSeq) * time.Second)
}

func (tc *TestContext) Remember(key, value string) { tc.remembered[key] = value }

func (tc *TestContext) Recall(key string) (string, error) {
	v, ok := tc.remembered[key]
	if !ok {
		return "", fmt.Errorf("nothing remembered as %q", key)
	}
	return v, nil
}

// AuthenticateAs mints a token for a named staff member.
func (tc *TestContext) AuthenticateAs(name string) error {
	s, err := tc.Staff(name)
	if err != nil {
		return err
	}
	token, err := tc.jwt.GenerateAccessToken(s.UserID, s.Role, time.Hour)
	if err != nil {
		return err
	}
	tc.token = token
	return nil
}

func (tc *TestContext) POST(path string, body any) error {
	return tc.do(http.MethodPost, path, body)
}

func (tc *TestContext) GET(path string) error {
	return tc.do(http.MethodGet, path, nil)
}

func (tc *TestContext) do(method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, tc.server.URL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tc.token != "" {
		req.Header.Set("Authorization", "Bearer "+tc.token)
	}
	resp, err := tc.server.Client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	tc.lastStatus = resp.StatusCode
	tc.lastBody, err = io.ReadAll(resp.Body)
	return err
}

func (tc *TestContext) StatusCode() int { return tc.lastStatus }

func (tc *TestContext) ResponseBody() []byte { return tc.lastBody }

// ResponseField returns a top-level field of the last JSON response.
func (tc *TestContext) ResponseField(field string) (any, error) {
	var body map[string]any
	if err := json.Unmarshal(tc.lastBody, &body); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %s", tc.lastBody)
	}
	v, ok := body[field]
	if !ok {
		return nil, fmt.Errorf("response has no field %q: %s", field, tc.lastBody)
	}
	return v, nil
}
