package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"educards-match/internal/domain"
)

func TestAPIMatchLifecycle(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	resp, err := http.Post(server.URL+"/matches", "application/json",
		bytes.NewReader([]byte(`{"moderator":{"id":"prof"},"questions":[]}`)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty question set, got %d", resp.StatusCode)
	}

	snap := createMatch(t, server, createMatchRequest{
		Moderator: domain.Identity{ID: "prof"},
		Questions: sampleQuiz()["quiz-1"].Questions,
	})
	if snap.State != domain.StateLobby || snap.Questions != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	if code := statusOf(t, http.MethodGet, server.URL+"/matches/"+snap.MatchID); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := statusOf(t, http.MethodGet, server.URL+"/matches/"+snap.MatchID+"/result"); code != http.StatusConflict {
		t.Fatalf("expected 409 before completion, got %d", code)
	}
	if code := statusOf(t, http.MethodDelete, server.URL+"/matches/"+snap.MatchID+"?userId=student"); code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-moderator, got %d", code)
	}
	if code := statusOf(t, http.MethodDelete, server.URL+"/matches/"+snap.MatchID+"?userId=prof"); code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", code)
	}
	if code := statusOf(t, http.MethodGet, server.URL+"/matches/"+snap.MatchID); code != http.StatusNotFound {
		t.Fatalf("expected 404 after dispose, got %d", code)
	}
}

func TestAPIUnknownQuiz(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	body, _ := json.Marshal(createMatchRequest{Moderator: domain.Identity{ID: "prof"}, QuizID: "missing"})
	resp, err := http.Post(server.URL+"/matches", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func statusOf(t *testing.T, method, url string) int {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	resp.Body.Close()
	return resp.StatusCode
}
