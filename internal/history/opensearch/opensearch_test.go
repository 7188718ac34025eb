package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loykin/corelauncher/internal/history"
)

func TestOpenSearchSink_Send(t *testing.T) {
	var (
		receivedBody   []byte
		receivedURL    string
		receivedMethod string
		receivedType   string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedURL = r.URL.Path
		receivedType = r.Header.Get("Content-Type")
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"_id":"1","_index":"role-history","result":"created"}`))
	}))
	defer server.Close()

	sink := New(server.URL+"/", "")
	e := history.Event{
		OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Role:       "world",
		Status:     "Running",
		PID:        9001,
	}
	if err := sink.Send(context.Background(), e); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if receivedMethod != http.MethodPost {
		t.Errorf("expected POST, got %s", receivedMethod)
	}
	if receivedURL != "/role-history/_doc" {
		t.Errorf("unexpected path %s", receivedURL)
	}
	if receivedType != "application/json" {
		t.Errorf("unexpected content type %q", receivedType)
	}
	var got history.Event
	if err := json.Unmarshal(receivedBody, &got); err != nil {
		t.Fatalf("body is not json: %v", err)
	}
	if got.Role != "world" || got.Status != "Running" || got.PID != 9001 || !got.OccurredAt.Equal(e.OccurredAt) {
		t.Errorf("unexpected document: %+v", got)
	}
}

func TestOpenSearchSink_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	sink := New(server.URL, "idx")
	if err := sink.Send(context.Background(), history.Event{Role: "db"}); err == nil {
		t.Fatal("expected error for 400 response")
	}
}

func TestOpenSearchSink_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	sink := New(url, "idx")
	if err := sink.Send(context.Background(), history.Event{Role: "db"}); err == nil {
		t.Fatal("expected error for closed server")
	}
}
