// Package history implements the chat session context manager: a
// session's persisted summary plus its messages, with threshold-
// triggered compaction and budget-aware context assembly for the chat
// orchestrator.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/brunobiangulo/docqa/tokenizer"
)

// Role is one of the three message roles a chat message may carry.
type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
	RoleSystem    Role = "SYSTEM"
)

// Message is one persisted chat turn. Citations live alongside it in
// the persistence layer and are not this package's concern.
type Message struct {
	ID         string
	SessionID  string
	Role       Role
	Content    string
	TokenCount int
	CreatedAt  time.Time
}

// Repository is the subset of session/message persistence this package
// needs — kept narrow and local so history/ does not import store/;
// store.HistoryRepository implements it.
type Repository interface {
	SaveMessage(ctx context.Context, msg Message) error
	Messages(ctx context.Context, sessionID string) ([]Message, error) // ascending by CreatedAt
	DeleteMessages(ctx context.Context, sessionID string, ids []string) error
	Summary(ctx context.Context, sessionID string) (string, error)
	SetSummary(ctx context.Context, sessionID, summary string) error
	MessageCount(ctx context.Context, sessionID string) (int, error)
}

// ChatRequest/Message/ChatResponse mirror llm.Provider's chat shapes,
// duplicated locally rather than imported, matching the decoupling in
// embedding/ and enrich/, since history/ only needs a single Chat call
// for compaction.
type ChatRequest struct {
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
}

type ChatMessage struct {
	Role    string
	Content string
}

type ChatResponse struct {
	Content string
}

// Backend is the subset of llm.Provider history/ depends on.
type Backend interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Config holds the three context-manager knobs exposed under the
// `context.*` configuration keys.
type Config struct {
	MaxHistoryRounds int
	MaxContextTokens int
	SummaryThreshold int
}

func DefaultConfig() Config {
	return Config{MaxHistoryRounds: 10, MaxContextTokens: 4000, SummaryThreshold: 20}
}

// Manager owns a session's summary and messages: it persists turns,
// compacts old history into the summary once the session grows past the
// threshold, and assembles token-budgeted context for the orchestrator.
type Manager struct {
	repo    Repository
	backend Backend
	cfg     Config

	// locks holds one *sync.Mutex per session id. The count mutation and
	// the count-check-then-compact decision run under it, so concurrent
	// saves for the same session cannot both observe the threshold and
	// run duplicate compactions; at most one compaction per session is
	// ever in flight.
	locks sync.Map
}

func New(repo Repository, backend Backend, cfg Config) *Manager {
	return &Manager{repo: repo, backend: backend, cfg: cfg}
}

func (m *Manager) sessionLock(sessionID string) *sync.Mutex {
	mu, _ := m.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// SaveMessage estimates token count, persists the message, and triggers
// compaction once the session's message count reaches summaryThreshold·2.
// The whole sequence runs under the session's lock.
func (m *Manager) SaveMessage(ctx context.Context, sessionID string, role Role, content string) error {
	mu := m.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	msg := Message{
		SessionID:  sessionID,
		Role:       role,
		Content:    content,
		TokenCount: tokenizer.Estimate(content),
		CreatedAt:  time.Now(),
	}
	if err := m.repo.SaveMessage(ctx, msg); err != nil {
		return fmt.Errorf("saving message: %w", err)
	}

	count, err := m.repo.MessageCount(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("counting messages: %w", err)
	}
	if count >= m.cfg.SummaryThreshold*2 {
		m.compact(ctx, sessionID)
	}
	return nil
}

// compact summarises all but the most recent maxHistoryRounds*2
// messages into the session summary, then deletes the summarised
// prefix. Failure is logged and leaves session state untouched.
func (m *Manager) compact(ctx context.Context, sessionID string) {
	msgs, err := m.repo.Messages(ctx, sessionID)
	if err != nil {
		slog.Warn("history: compaction failed loading messages", "session", sessionID, "error", err)
		return
	}

	keep := m.cfg.MaxHistoryRounds * 2
	if len(msgs) <= keep {
		return
	}
	prefix := msgs[:len(msgs)-keep]

	var b strings.Builder
	for _, msg := range prefix {
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}

	resp, err := m.backend.Chat(ctx, ChatRequest{
		Messages: []ChatMessage{
			{Role: "user", Content: compactionPrompt(b.String())},
		},
		Temperature: 0.3,
		MaxTokens:   500,
	})
	if err != nil {
		slog.Warn("history: compaction LLM call failed, leaving state untouched", "session", sessionID, "error", err)
		return
	}

	existing, err := m.repo.Summary(ctx, sessionID)
	if err != nil {
		slog.Warn("history: compaction failed reading summary", "session", sessionID, "error", err)
		return
	}
	newSummary := strings.TrimSpace(resp.Content)
	if existing != "" {
		newSummary = existing + "\n" + newSummary
	}
	if err := m.repo.SetSummary(ctx, sessionID, newSummary); err != nil {
		slog.Warn("history: compaction failed writing summary", "session", sessionID, "error", err)
		return
	}

	ids := make([]string, len(prefix))
	for i, msg := range prefix {
		ids[i] = msg.ID
	}
	if err := m.repo.DeleteMessages(ctx, sessionID, ids); err != nil {
		slog.Warn("history: compaction failed deleting compacted messages", "session", sessionID, "error", err)
	}
}

func compactionPrompt(transcript string) string {
	return "Summarize the following conversation concisely, preserving facts and decisions that later turns may need:\n\n" + transcript
}

// BuildContext assembles budget-bounded LLM context: the session
// summary (if any) as a leading system message, then messages
// newest-to-oldest, prepended back into chronological order, stopping
// once the next message would exceed budgetTokens.
func (m *Manager) BuildContext(ctx context.Context, sessionID string, budgetTokens int) ([]Message, error) {
	summary, err := m.repo.Summary(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading summary: %w", err)
	}
	msgs, err := m.repo.Messages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}

	var selected []Message
	used := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		if used+msg.TokenCount > budgetTokens {
			break
		}
		selected = append([]Message{msg}, selected...)
		used += msg.TokenCount
	}

	if summary != "" {
		selected = append([]Message{{
			Role:    RoleSystem,
			Content: "Previous conversation summary: " + summary,
		}}, selected...)
	}
	return selected, nil
}
