package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/avandelay/parley/internal/chat"
	"github.com/avandelay/parley/internal/config"
	"github.com/avandelay/parley/internal/memory"
	"github.com/avandelay/parley/internal/observability"
	"github.com/avandelay/parley/internal/protocol"
	"github.com/avandelay/parley/internal/retrieval"
)

// Orchestrator runs one conversational turn for an inbound message.
type Orchestrator interface {
	HandleMessage(ctx context.Context, msg chat.InboundMessage, replier chat.Replier) error
}

type Server struct {
	cfg          config.Config
	orchestrator Orchestrator
	store        memory.Store
	indexer      retrieval.Indexer
	metrics      *observability.Metrics
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, orchestrator Orchestrator, store memory.Store, indexer retrieval.Indexer, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		store:        store,
		indexer:      indexer,
		metrics:      metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin. Platform bridges are not browsers and usually
				// omit Origin, so they pass.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/ws", s.handleGatewayWS)
	r.Post("/v1/documents", s.handleAddDocuments)
	r.Get("/v1/channels/{channelID}/history", s.handleChannelHistory)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleGatewayWS is the message-gateway endpoint. The platform bridge
// connects once and relays chat messages both ways.
func (s *Server) handleGatewayWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				s.metrics.WSMessages.WithLabelValues("outbound", outboundType(msg)).Inc()
			}
		}
	}()

	replier := &wsReplier{outbound: outbound}
	var inflight sync.WaitGroup

	conn.SetReadLimit(1 << 20)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.metrics.WSMessages.WithLabelValues("inbound", "invalid").Inc()
			replier.send(ctx, protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_message",
				Detail: err.Error(),
			})
			continue
		}
		s.metrics.WSMessages.WithLabelValues("inbound", string(protocol.TypeClientMessage)).Inc()

		msg := inboundFromWire(parsed)
		// Each message gets its own goroutine; the orchestrator serializes
		// per channel so ordering within a conversation is preserved.
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			_ = s.orchestrator.HandleMessage(ctx, msg, replier)
		}()
	}

	// Let in-flight turns finish before tearing the context down; their
	// persist step must not run against a canceled context.
	inflight.Wait()
	cancel()
	<-writerDone
}

func inboundFromWire(msg protocol.ClientMessage) chat.InboundMessage {
	ts := time.Now().UTC()
	if msg.TSMs > 0 {
		ts = time.UnixMilli(msg.TSMs).UTC()
	}
	return chat.InboundMessage{
		MessageID:  msg.MessageID,
		ChannelID:  msg.ChannelID,
		AuthorID:   msg.AuthorID,
		AuthorName: msg.AuthorName,
		Text:       msg.Text,
		Timestamp:  ts,
	}
}

// wsReplier emits assistant replies onto the connection's outbound channel.
type wsReplier struct {
	outbound chan<- any
}

func (r *wsReplier) Reply(ctx context.Context, original chat.InboundMessage, text string) error {
	reply := protocol.AssistantReply{
		Type:      protocol.TypeAssistantReply,
		MessageID: original.MessageID,
		ChannelID: original.ChannelID,
		Text:      text,
		TSMs:      time.Now().UnixMilli(),
	}
	select {
	case r.outbound <- reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *wsReplier) send(ctx context.Context, msg any) {
	select {
	case r.outbound <- msg:
	case <-ctx.Done():
	}
}

func outboundType(msg any) string {
	switch msg.(type) {
	case protocol.AssistantReply:
		return string(protocol.TypeAssistantReply)
	case protocol.ErrorEvent:
		return string(protocol.TypeErrorEvent)
	case protocol.SystemEvent:
		return string(protocol.TypeSystemEvent)
	default:
		return "unknown"
	}
}

type addDocumentsRequest struct {
	Documents []retrieval.Document `json:"documents"`
}

func (s *Server) handleAddDocuments(w http.ResponseWriter, r *http.Request) {
	if s.indexer == nil {
		respondError(w, http.StatusNotImplemented, "indexing_unavailable", "the configured retriever does not accept documents")
		return
	}

	var req addDocumentsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(req.Documents) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "documents must not be empty")
		return
	}
	for i := range req.Documents {
		if strings.TrimSpace(req.Documents[i].Content) == "" {
			respondError(w, http.StatusBadRequest, "invalid_request", "document content must not be empty")
			return
		}
		// IDs are assigned here so every retriever backend sees the same input.
		if strings.TrimSpace(req.Documents[i].ID) == "" {
			req.Documents[i].ID = uuid.NewString()
		}
	}

	if err := s.indexer.Index(r.Context(), req.Documents); err != nil {
		respondError(w, http.StatusBadGateway, "index_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"indexed": len(req.Documents)})
}

func (s *Server) handleChannelHistory(w http.ResponseWriter, r *http.Request) {
	channelID := strings.TrimSpace(chi.URLParam(r, "channelID"))
	if channelID == "" {
		respondError(w, http.StatusBadRequest, "invalid_channel_id", "missing channel id")
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	turns, err := s.store.Recent(r.Context(), channelID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "history_unavailable", err.Error())
		return
	}
	if turns == nil {
		turns = []memory.Turn{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"channel_id": channelID,
		"turns":      turns,
	})
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return errEmptyBody
	}
	return json.Unmarshal(data, dst)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, detail string) {
	respondJSON(w, status, map[string]string{"code": code, "detail": detail})
}
