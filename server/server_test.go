package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/KamdynS/sfnresume/history"
	"github.com/KamdynS/sfnresume/persister"
	"github.com/KamdynS/sfnresume/queue"
	"github.com/KamdynS/sfnresume/state"
)

const testARN = "arn:aws:states:us-west-2:123456789012:execution:Orders:run-1"

type stubSource map[string]*history.History

func (s stubSource) GetExecutionHistory(_ context.Context, arn string) (*history.History, error) {
	h, ok := s[arn]
	if !ok {
		return nil, errors.New("ExecutionDoesNotExist")
	}
	return h, nil
}

func smARN(arn string) (string, error) {
	if len(arn) < 4 || arn[:4] != "arn:" {
		return "", errors.New("not an ARN")
	}
	return "arn:aws:states:us-west-2:123456789012:stateMachine:Orders", nil
}

func setupTestServer(t *testing.T) (*Server, state.Store) {
	t.Helper()
	store := state.NewInMemoryStore()
	q := queue.NewInMemoryQueue()
	t.Cleanup(func() { q.Close() })

	src := stubSource{
		testARN: {Events: []history.Event{
			{ID: 1, Type: history.EventMapStateEntered,
				StateEntered: &history.StateEnteredDetails{Name: "FanOut", Input: `{"n":1}`}},
			{ID: 2, PreviousEventID: 1, Type: history.EventMapStateFailed},
		}},
		"run-2": {Events: []history.Event{
			{ID: 1, Type: history.EventMapStateEntered,
				StateEntered: &history.StateEnteredDetails{Name: "FanOut", Input: `{}`}},
			{ID: 2, PreviousEventID: 1, Type: history.EventMapStateFailed},
		}},
		testARN + "-unmapped": {Events: []history.Event{
			{ID: 1, Type: history.EventExecutionStarted},
			{ID: 2, PreviousEventID: 1, Type: history.EventTaskStateEntered,
				StateEntered: &history.StateEnteredDetails{Name: "Charge", Input: `{}`}},
			{ID: 3, PreviousEventID: 2, Type: history.EventTaskFailed},
			{ID: 4, PreviousEventID: 3, Type: history.EventExecutionFailed},
		}},
		testARN + "-closed": {Events: []history.Event{
			{ID: 1, Type: history.EventExecutionStarted},
			{ID: 2, PreviousEventID: 1, Type: history.EventMapStateEntered,
				StateEntered: &history.StateEnteredDetails{Name: "FanOut", Input: `{"n":2}`}},
			{ID: 3, PreviousEventID: 2, Type: history.EventMapStateFailed},
			{ID: 4, PreviousEventID: 3, Type: history.EventExecutionFailed,
				ExecutionFailed: &history.FailureDetails{Error: "States.ALL", Cause: "map failed"}},
		}},
	}
	p, err := persister.New(persister.Config{
		Source:          src,
		Queue:           q,
		Store:           store,
		StateMachineARN: smARN,
	})
	if err != nil {
		t.Fatalf("failed to create persister: %v", err)
	}

	server, err := New(Config{
		Persister:         p,
		Store:             store,
		PollInterval:      20 * time.Millisecond,
		HeartbeatInterval: time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return server, store
}

func postFailed(t *testing.T, server *Server, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/executions/failed", bytes.NewReader(b))
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_New(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error without persister")
	}
}

func TestServer_PersistFailedExecution(t *testing.T) {
	server, store := setupTestServer(t)

	w := postFailed(t, server, FailedExecutionRequest{ExecutionARN: testARN})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	var resp PersistResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Created || resp.Record.ResumeState != "FanOut" {
		t.Errorf("unexpected response %+v", resp)
	}
	if _, err := store.GetResume(context.Background(), testARN); err != nil {
		t.Errorf("record not stored: %v", err)
	}

	// Reporting the same failure again returns the existing record.
	w = postFailed(t, server, FailedExecutionRequest{ExecutionARN: testARN})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200 on repeat, got %d", w.Code)
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Created {
		t.Error("expected created=false on repeat")
	}
}

func TestServer_EventBridgeEnvelope(t *testing.T) {
	server, _ := setupTestServer(t)

	w := postFailed(t, server, map[string]any{
		"detail-type": "Step Functions Execution Status Change",
		"detail":      map[string]any{"executionArn": testARN, "status": "SUCCEEDED"},
	})
	if w.Code != http.StatusNoContent {
		t.Errorf("expected succeeded executions to be ignored, got %d", w.Code)
	}

	w = postFailed(t, server, map[string]any{
		"detail": map[string]any{"executionArn": testARN, "status": "FAILED"},
	})
	if w.Code != http.StatusAccepted {
		t.Errorf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}
}

func TestServer_EventBridgeFailedExecution(t *testing.T) {
	server, store := setupTestServer(t)

	w := postFailed(t, server, map[string]any{
		"detail-type": "Step Functions Execution Status Change",
		"detail":      map[string]any{"executionArn": testARN + "-closed", "status": "FAILED"},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	rec, err := store.GetResume(context.Background(), testARN+"-closed")
	if err != nil {
		t.Fatalf("record not stored: %v", err)
	}
	if rec.ResumeState != "FanOut" || rec.FailureType != "MapStateFailed" {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.Error != "States.ALL" {
		t.Errorf("expected execution error to be kept, got %q", rec.Error)
	}
}

func TestServer_PersistErrors(t *testing.T) {
	server, _ := setupTestServer(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing arn", map[string]any{}, http.StatusBadRequest},
		{"unknown execution", FailedExecutionRequest{ExecutionARN: "arn:missing"}, http.StatusBadGateway},
		{"not an arn", FailedExecutionRequest{ExecutionARN: "run-2"}, http.StatusBadRequest},
		{"unmapped failure", FailedExecutionRequest{ExecutionARN: testARN + "-unmapped"}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postFailed(t, server, tt.body)
			if w.Code != tt.want {
				t.Errorf("expected status %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/executions/failed", bytes.NewReader([]byte("{")))
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for invalid body, got %d", w.Code)
	}
}

func TestPersistErrorStatus(t *testing.T) {
	if got := persistErrorStatus(persister.ErrInvalidExecutionARN); got != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", got)
	}
	if got := persistErrorStatus(&history.MalformedInputError{Err: errors.New("x")}); got != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", got)
	}
}

func TestServer_GetAndListResumes(t *testing.T) {
	server, _ := setupTestServer(t)
	postFailed(t, server, FailedExecutionRequest{ExecutionARN: testARN})

	req := httptest.NewRequest(http.MethodGet, "/resumes/"+url.PathEscape(testARN), nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var rec state.ResumeRecord
	if err := json.NewDecoder(w.Body).Decode(&rec); err != nil {
		t.Fatalf("failed to decode record: %v", err)
	}
	if rec.ExecutionARN != testARN || rec.Status != state.StatusPending {
		t.Errorf("unexpected record %+v", rec)
	}

	req = httptest.NewRequest(http.MethodGet, "/resumes/missing", nil)
	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}

	for status, want := range map[string]int{"": 1, "pending": 1, "started": 0} {
		req = httptest.NewRequest(http.MethodGet, "/resumes?status="+status, nil)
		w = httptest.NewRecorder()
		server.Handler().ServeHTTP(w, req)
		var recs []state.ResumeRecord
		if err := json.NewDecoder(w.Body).Decode(&recs); err != nil {
			t.Fatalf("status %q: decode: %v", status, err)
		}
		if len(recs) != want {
			t.Errorf("status %q: expected %d records, got %d", status, want, len(recs))
		}
	}

	req = httptest.NewRequest(http.MethodGet, "/resumes?status=bogus", nil)
	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for unknown status, got %d", w.Code)
	}
}

func TestServer_Health(t *testing.T) {
	server, _ := setupTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}
