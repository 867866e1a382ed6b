package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avandelay/parley/internal/chat"
	"github.com/avandelay/parley/internal/config"
	"github.com/avandelay/parley/internal/memory"
	"github.com/avandelay/parley/internal/observability"
	"github.com/avandelay/parley/internal/retrieval"
)

type echoOrchestrator struct {
	reply string
}

func (o *echoOrchestrator) HandleMessage(ctx context.Context, msg chat.InboundMessage, replier chat.Replier) error {
	return replier.Reply(ctx, msg, o.reply)
}

func newTestServer(t *testing.T, orchestrator Orchestrator, store memory.Store, indexer retrieval.Indexer) *Server {
	t.Helper()
	metrics := observability.NewMetrics(fmt.Sprintf("httpapi_test_%d", time.Now().UnixNano()))
	return New(config.Config{}, orchestrator, store, indexer, metrics)
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, &echoOrchestrator{}, memory.NewInMemoryStore(), nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", path, res.StatusCode, http.StatusOK)
		}
	}
}

func TestChannelHistory(t *testing.T) {
	store := memory.NewInMemoryStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		turn := memory.Turn{
			ChannelID: "chan-1",
			Role:      memory.RoleUser,
			Content:   fmt.Sprintf("message %d", i),
			AuthorID:  "user-1",
		}
		if err := store.AppendTurn(ctx, turn); err != nil {
			t.Fatalf("AppendTurn() error = %v", err)
		}
	}

	srv := newTestServer(t, &echoOrchestrator{}, store, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/v1/channels/chan-1/history?limit=2")
	if err != nil {
		t.Fatalf("history request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var payload struct {
		ChannelID string        `json:"channel_id"`
		Turns     []memory.Turn `json:"turns"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.ChannelID != "chan-1" {
		t.Fatalf("channel_id = %q, want %q", payload.ChannelID, "chan-1")
	}
	if len(payload.Turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(payload.Turns))
	}
	if payload.Turns[0].Content != "message 1" || payload.Turns[1].Content != "message 2" {
		t.Fatalf("unexpected turns: %+v", payload.Turns)
	}
}

func TestChannelHistoryRejectsBadLimit(t *testing.T) {
	srv := newTestServer(t, &echoOrchestrator{}, memory.NewInMemoryStore(), nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/v1/channels/chan-1/history?limit=nope")
	if err != nil {
		t.Fatalf("history request error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestAddDocuments(t *testing.T) {
	index := retrieval.NewBM25Index()
	srv := newTestServer(t, &echoOrchestrator{}, memory.NewInMemoryStore(), index)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body, _ := json.Marshal(map[string]any{
		"documents": []retrieval.Document{
			{ID: "d1", Content: "the Eiffel Tower is in Paris"},
		},
	})
	res, err := http.Post(ts.URL+"/v1/documents", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("documents request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("documents status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	docs, err := index.Retrieve(context.Background(), "Eiffel Tower", 3)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "d1" {
		t.Fatalf("unexpected retrieval result: %+v", docs)
	}
}

func TestAddDocumentsValidation(t *testing.T) {
	index := retrieval.NewBM25Index()
	srv := newTestServer(t, &echoOrchestrator{}, memory.NewInMemoryStore(), index)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	cases := []struct {
		name string
		body string
		want int
	}{
		{name: "empty body", body: "", want: http.StatusBadRequest},
		{name: "no documents", body: `{"documents":[]}`, want: http.StatusBadRequest},
		{name: "blank content", body: `{"documents":[{"id":"d1","content":"  "}]}`, want: http.StatusBadRequest},
	}
	for _, tc := range cases {
		res, err := http.Post(ts.URL+"/v1/documents", "application/json", strings.NewReader(tc.body))
		if err != nil {
			t.Fatalf("%s: request error = %v", tc.name, err)
		}
		res.Body.Close()
		if res.StatusCode != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.name, res.StatusCode, tc.want)
		}
	}
}

type capturingIndexer struct {
	docs []retrieval.Document
}

func (c *capturingIndexer) Index(_ context.Context, docs []retrieval.Document) error {
	c.docs = append(c.docs, docs...)
	return nil
}

func TestAddDocumentsAssignsMissingIDs(t *testing.T) {
	index := &capturingIndexer{}
	srv := newTestServer(t, &echoOrchestrator{}, memory.NewInMemoryStore(), index)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{"documents":[{"content":"no id here"},{"id":"d2","content":"keeps its id"}]}`
	res, err := http.Post(ts.URL+"/v1/documents", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("documents request error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("documents status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	if len(index.docs) != 2 {
		t.Fatalf("indexer received %d documents, want 2", len(index.docs))
	}
	if index.docs[0].ID == "" {
		t.Fatalf("document without an ID reached the indexer unassigned")
	}
	if index.docs[1].ID != "d2" {
		t.Fatalf("document ID = %q, want %q preserved", index.docs[1].ID, "d2")
	}
}

func TestAddDocumentsWithoutIndexer(t *testing.T) {
	srv := newTestServer(t, &echoOrchestrator{}, memory.NewInMemoryStore(), nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Post(ts.URL+"/v1/documents", "application/json", strings.NewReader(`{"documents":[{"content":"x"}]}`))
	if err != nil {
		t.Fatalf("documents request error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotImplemented {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotImplemented)
	}
}

func TestGatewayWebSocketRoundTrip(t *testing.T) {
	srv := newTestServer(t, &echoOrchestrator{reply: "hello back"}, memory.NewInMemoryStore(), nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()

	out := map[string]any{
		"type":       "client_message",
		"message_id": "m1",
		"channel_id": "chan-1",
		"author_id":  "user-1",
		"text":       "hello",
	}
	if err := conn.WriteJSON(out); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var reply map[string]any
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if reply["type"] != "assistant_reply" {
		t.Fatalf("type = %v, want assistant_reply", reply["type"])
	}
	if reply["channel_id"] != "chan-1" || reply["message_id"] != "m1" {
		t.Fatalf("unexpected reply routing: %+v", reply)
	}
	if reply["text"] != "hello back" {
		t.Fatalf("text = %v, want %q", reply["text"], "hello back")
	}
}

func TestGatewayWebSocketRejectsInvalidFrames(t *testing.T) {
	srv := newTestServer(t, &echoOrchestrator{reply: "unused"}, memory.NewInMemoryStore(), nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()

	// Missing channel_id and author_id.
	if err := conn.WriteJSON(map[string]any{"type": "client_message", "text": "hi"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var event map[string]any
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if event["type"] != "error_event" {
		t.Fatalf("type = %v, want error_event", event["type"])
	}
	if event["code"] != "invalid_message" {
		t.Fatalf("code = %v, want invalid_message", event["code"])
	}
}
