package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"filecrate/internal/auth"
	"filecrate/internal/queue"
	"filecrate/internal/storage"
)

type fakeQueue struct {
	enqueued []queue.Job
	err      error
}

func (q *fakeQueue) Enqueue(ctx context.Context, queueName string, payload map[string]string) error {
	if q.err != nil {
		return q.err
	}
	q.enqueued = append(q.enqueued, queue.Job{Queue: queueName, Payload: payload})
	return nil
}

func (q *fakeQueue) Process(queueName string, handler queue.Handler) error {
	return nil
}

func (q *fakeQueue) Shutdown(ctx context.Context) error {
	return nil
}

func newTestHandler(t *testing.T) (*Handler, *storage.MemoryRepository, *fakeQueue) {
	t.Helper()
	repo := storage.NewMemoryRepository()
	q := &fakeQueue{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewHandler(
		repo,
		auth.NewCredentialVerifier(repo),
		auth.NewSessionIssuer(auth.NewMemoryTokenStore()),
		q,
		logger,
	)
	return handler, repo, q
}

func registerUser(t *testing.T, handler *Handler, email, password string) string {
	t.Helper()
	payload, _ := json.Marshal(registerRequest{Email: email, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/users", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	handler.Register(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp registerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID == "" || resp.Email != email {
		t.Fatalf("unexpected register response: %+v", resp)
	}
	return resp.ID
}

func basicHeader(email, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(email+":"+password))
}

func TestRegisterEnqueuesWelcomeEmail(t *testing.T) {
	handler, _, q := newTestHandler(t)
	userID := registerUser(t, handler, "alice@x.com", "secretpass")

	if len(q.enqueued) != 1 {
		t.Fatalf("expected 1 enqueued job, got %d", len(q.enqueued))
	}
	job := q.enqueued[0]
	if job.Queue != queue.QueueEmail {
		t.Fatalf("expected queue %s, got %s", queue.QueueEmail, job.Queue)
	}
	if job.Payload["userId"] != userID {
		t.Fatalf("expected payload userId %s, got %q", userID, job.Payload["userId"])
	}
}

func TestRegisterValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{name: "empty body", body: `{}`},
		{name: "missing password", body: `{"email":"a@x.com"}`},
		{name: "missing email", body: `{"password":"secretpass"}`},
		{name: "unknown field", body: `{"email":"a@x.com","password":"secretpass","admin":true}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler, _, _ := newTestHandler(t)
			req := httptest.NewRequest(http.MethodPost, "/api/users", bytes.NewReader([]byte(tc.body)))
			rec := httptest.NewRecorder()
			handler.Register(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rec.Code)
			}
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	registerUser(t, handler, "alice@x.com", "secretpass")

	payload := []byte(`{"email":"alice@x.com","password":"otherpass1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/users", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	handler.Register(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for duplicate email, got %d", rec.Code)
	}
}

func TestRequireBasic(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	registerUser(t, handler, "alice@x.com", "secretpass")

	validAuth := basicHeader("alice@x.com", "secretpass")
	// Flip one character of the base64 payload.
	mutated := []byte(validAuth)
	last := len(mutated) - 1
	if mutated[last] == 'A' {
		mutated[last] = 'B'
	} else {
		mutated[last] = 'A'
	}

	cases := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "valid credentials", header: validAuth, wantStatus: http.StatusOK},
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Bearer abcdef", wantStatus: http.StatusUnauthorized},
		{name: "malformed base64", header: "Basic not-base64!!!", wantStatus: http.StatusUnauthorized},
		{name: "no separator", header: "Basic " + base64.StdEncoding.EncodeToString([]byte("alicex.com")), wantStatus: http.StatusUnauthorized},
		{name: "mutated payload", header: string(mutated), wantStatus: http.StatusUnauthorized},
		{name: "wrong password", header: basicHeader("alice@x.com", "wrongpass"), wantStatus: http.StatusUnauthorized},
		{name: "unknown email", header: basicHeader("bob@x.com", "secretpass"), wantStatus: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var gotUser string
			next := func(w http.ResponseWriter, r *http.Request) {
				user, ok := UserFromContext(r.Context())
				if !ok {
					t.Fatal("expected user in context")
				}
				gotUser = user.Email
				w.WriteHeader(http.StatusOK)
			}
			req := httptest.NewRequest(http.MethodPost, "/api/connect", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.RequireBasic(next)(rec, req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rec.Code)
			}
			if tc.wantStatus == http.StatusOK && gotUser != "alice@x.com" {
				t.Fatalf("expected context user alice@x.com, got %q", gotUser)
			}
		})
	}
}

func TestRequireBasicUniformErrorMessage(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	registerUser(t, handler, "alice@x.com", "secretpass")

	headers := []string{
		"",
		"Basic invalid",
		basicHeader("bob@x.com", "secretpass"),
		basicHeader("alice@x.com", "wrongpass"),
	}
	var messages []string
	for _, header := range headers {
		req := httptest.NewRequest(http.MethodPost, "/api/connect", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.RequireBasic(func(w http.ResponseWriter, r *http.Request) {})(rec, req)
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode error body: %v", err)
		}
		messages = append(messages, body["error"])
	}
	for _, message := range messages[1:] {
		if message != messages[0] {
			t.Fatalf("failure causes must be indistinguishable: %v", messages)
		}
	}
}

func TestRequireToken(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	userID := registerUser(t, handler, "alice@x.com", "secretpass")

	token, err := handler.Sessions.Issue(context.Background(), userID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	cases := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{name: "valid token", token: token, wantStatus: http.StatusOK},
		{name: "missing header", token: "", wantStatus: http.StatusUnauthorized},
		{name: "unknown token", token: "deadbeef", wantStatus: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
			if tc.token != "" {
				req.Header.Set(TokenHeader, tc.token)
			}
			rec := httptest.NewRecorder()
			handler.RequireToken(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})(rec, req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rec.Code)
			}
		})
	}
}

func TestRequireTokenRejectsDeletedUser(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	// Token resolves to a user the store no longer knows.
	token, err := handler.Sessions.Issue(context.Background(), "vanished-user")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set(TokenHeader, token)
	rec := httptest.NewRecorder()
	handler.RequireToken(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not run")
	})(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestStats(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	registerUser(t, handler, "alice@x.com", "secretpass")
	registerUser(t, handler, "bob@x.com", "secretpass")

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	handler.Stats(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var body map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if body["users"] != 2 {
		t.Fatalf("expected 2 users, got %d", body["users"])
	}
}

func TestStatusRequiresGet(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/status", nil)
	rec := httptest.NewRecorder()
	handler.Status(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rec.Code)
	}
}
