// Package chat sequences one conversational turn: rephrase, retrieve,
// assemble, generate, reply, persist.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avandelay/parley/internal/llm"
	"github.com/avandelay/parley/internal/memory"
	"github.com/avandelay/parley/internal/observability"
	"github.com/avandelay/parley/internal/policy"
	"github.com/avandelay/parley/internal/prompt"
	"github.com/avandelay/parley/internal/retrieval"
)

// InboundMessage is one message event from the gateway.
type InboundMessage struct {
	MessageID  string
	ChannelID  string
	AuthorID   string
	AuthorName string
	Text       string
	Timestamp  time.Time
}

// Replier emits the assistant's reply back through the gateway, addressed to
// the original message.
type Replier interface {
	Reply(ctx context.Context, original InboundMessage, text string) error
}

// Rephraser rewrites a question for retrieval using recent memory.
type Rephraser interface {
	Rephrase(ctx context.Context, question string, turns []memory.Turn) (string, error)
}

// DefaultApology is sent when generation fails. The apology is persisted as
// the assistant turn so the log stays two-turns-per-exchange.
const DefaultApology = "Sorry, I'm having trouble answering right now. Please try again in a moment."

const (
	defaultTopK         = 3
	defaultMemoryWindow = 10
	defaultCallTimeout  = 30 * time.Second
)

// Options tunes the orchestrator. Zero values select the policy defaults.
type Options struct {
	TopK         int
	MemoryWindow int
	CallTimeout  time.Duration
	Apology      string
}

// Orchestrator runs the turn state machine. One channel is processed
// strictly sequentially; distinct channels run concurrently.
type Orchestrator struct {
	policy    *policy.ChannelPolicy
	rephraser Rephraser
	retriever retrieval.Retriever
	generator llm.Generator
	store     memory.Store
	prompts   atomic.Pointer[prompt.Builder]
	metrics   *observability.Metrics

	topK         int
	memoryWindow int
	callTimeout  time.Duration
	apology      string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewOrchestrator(
	channelPolicy *policy.ChannelPolicy,
	rephraser Rephraser,
	retriever retrieval.Retriever,
	generator llm.Generator,
	store memory.Store,
	prompts *prompt.Builder,
	metrics *observability.Metrics,
	opts Options,
) *Orchestrator {
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.MemoryWindow <= 0 {
		opts.MemoryWindow = defaultMemoryWindow
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.Apology == "" {
		opts.Apology = DefaultApology
	}

	o := &Orchestrator{
		policy:       channelPolicy,
		rephraser:    rephraser,
		retriever:    retriever,
		generator:    generator,
		store:        store,
		metrics:      metrics,
		topK:         opts.TopK,
		memoryWindow: opts.MemoryWindow,
		callTimeout:  opts.CallTimeout,
		apology:      opts.Apology,
		locks:        make(map[string]*sync.Mutex),
	}
	o.prompts.Store(prompts)
	return o
}

// SetPromptBuilder swaps in freshly parsed templates. Used by hot reload;
// in-flight turns keep the builder they started with.
func (o *Orchestrator) SetPromptBuilder(b *prompt.Builder) {
	if b != nil {
		o.prompts.Store(b)
	}
}

// HandleMessage runs one full turn for an inbound message. Messages from the
// bot itself or from channels outside the allow-list are ignored with no side
// effects. The returned error reports operator-level failures (storage,
// template contract violations); upstream LLM trouble is absorbed into
// fallbacks and never surfaces here.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg InboundMessage, replier Replier) error {
	if !o.policy.ShouldHandle(msg.AuthorID, msg.ChannelID) {
		o.metrics.Turns.WithLabelValues("filtered").Inc()
		return nil
	}

	lock := o.channelLock(msg.ChannelID)
	lock.Lock()
	defer lock.Unlock()

	o.metrics.ActiveConversations.Inc()
	defer o.metrics.ActiveConversations.Dec()

	// Rephrasing. The memory read feeds both the rephraser and the prompt.
	recent, err := o.store.Recent(ctx, msg.ChannelID, o.memoryWindow)
	if err != nil {
		o.metrics.Turns.WithLabelValues("aborted").Inc()
		log.Printf("chat: memory read failed for channel %s: %v", msg.ChannelID, err)
		return fmt.Errorf("read recent memory: %w", err)
	}

	query := o.rephraseQuery(ctx, msg, recent)

	// Retrieving.
	docs := o.retrieveDocuments(ctx, msg.ChannelID, query)

	// Assembling.
	start := time.Now()
	promptMsgs, err := o.prompts.Load().Build(prompt.Context{
		MemoryTurns: recent,
		Documents:   docs,
		Question:    msg.Text,
		UserName:    msg.AuthorName,
		Timestamp:   messageTime(msg),
	})
	o.metrics.ObserveStage("assemble", time.Since(start))
	if err != nil {
		// Template contract violation. Fail loudly; replying with a broken
		// prompt would hide the bug.
		o.metrics.Turns.WithLabelValues("aborted").Inc()
		log.Printf("chat: prompt assembly failed for channel %s: %v", msg.ChannelID, err)
		return fmt.Errorf("assemble prompt: %w", err)
	}

	// Generating.
	replyText, outcome := o.generateReply(ctx, msg.ChannelID, promptMsgs)

	// Replying. Persist only what was actually delivered.
	start = time.Now()
	err = replier.Reply(ctx, msg, replyText)
	o.metrics.ObserveStage("reply", time.Since(start))
	if err != nil {
		o.metrics.Turns.WithLabelValues("reply_failed").Inc()
		log.Printf("chat: reply emit failed for channel %s: %v", msg.ChannelID, err)
		return fmt.Errorf("emit reply: %w", err)
	}

	// Persisting: user question first, then the assistant reply.
	if err := o.persistExchange(ctx, msg, replyText); err != nil {
		o.metrics.Turns.WithLabelValues("persist_failed").Inc()
		log.Printf("chat: persist failed for channel %s: %v", msg.ChannelID, err)
		return err
	}

	o.metrics.Turns.WithLabelValues(outcome).Inc()
	return nil
}

func (o *Orchestrator) rephraseQuery(ctx context.Context, msg InboundMessage, recent []memory.Turn) string {
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	start := time.Now()
	query, err := o.rephraser.Rephrase(callCtx, msg.Text, recent)
	o.metrics.ObserveStage("rephrase", time.Since(start))
	if err != nil {
		// Fall back to the unmodified question; a worse search query is
		// better than a dropped turn.
		o.metrics.ProviderErrors.WithLabelValues("rephraser", "error").Inc()
		log.Printf("chat: rephrase failed for channel %s, using original question: %v", msg.ChannelID, err)
		return msg.Text
	}
	return query
}

func (o *Orchestrator) retrieveDocuments(ctx context.Context, channelID, query string) []retrieval.Document {
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	start := time.Now()
	docs, err := o.retriever.Retrieve(callCtx, query, o.topK)
	o.metrics.ObserveStage("retrieve", time.Since(start))
	if err != nil {
		o.metrics.ProviderErrors.WithLabelValues("retriever", "error").Inc()
		log.Printf("chat: retrieval failed for channel %s, answering without documents: %v", channelID, err)
		return nil
	}
	return docs
}

func (o *Orchestrator) generateReply(ctx context.Context, channelID string, msgs []llm.Message) (string, string) {
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	start := time.Now()
	resp, err := o.generator.Complete(callCtx, llm.Request{Messages: msgs})
	o.metrics.ObserveStage("generate", time.Since(start))
	if err != nil {
		o.metrics.ProviderErrors.WithLabelValues("generator", errorCode(err)).Inc()
		log.Printf("chat: generation failed for channel %s, sending apology: %v", channelID, err)
		return o.apology, "fallback"
	}
	return resp.Text, "replied"
}

func (o *Orchestrator) persistExchange(ctx context.Context, msg InboundMessage, replyText string) error {
	userAt := messageTime(msg)
	assistantAt := time.Now().UTC()
	if assistantAt.Before(userAt) {
		assistantAt = userAt
	}

	// The reply already went out; tearing down the gateway connection must
	// not abort the log write halfway through.
	persistCtx := context.WithoutCancel(ctx)
	err := o.store.AppendExchange(persistCtx,
		memory.Turn{
			ChannelID:  msg.ChannelID,
			Role:       memory.RoleUser,
			Content:    msg.Text,
			AuthorID:   msg.AuthorID,
			AuthorName: msg.AuthorName,
			CreatedAt:  userAt,
		},
		memory.Turn{
			ChannelID: msg.ChannelID,
			Role:      memory.RoleAssistant,
			Content:   replyText,
			CreatedAt: assistantAt,
		})
	if err != nil {
		return fmt.Errorf("persist exchange: %w", err)
	}
	return nil
}

func (o *Orchestrator) channelLock(channelID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[channelID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[channelID] = l
	}
	return l
}

func messageTime(msg InboundMessage) time.Time {
	if msg.Timestamp.IsZero() {
		return time.Now().UTC()
	}
	return msg.Timestamp.UTC()
}

func errorCode(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, llm.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, llm.ErrInvalidResponse):
		return "invalid_response"
	default:
		return "unavailable"
	}
}
