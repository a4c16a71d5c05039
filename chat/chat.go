// Package chat implements the chat orchestrator: the per-request
// pipeline that turns a user query plus a chat session into a streamed,
// citation-bearing assistant reply.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/brunobiangulo/docqa/history"
	"github.com/brunobiangulo/docqa/llm"
	"github.com/brunobiangulo/docqa/reasoning"
	"github.com/brunobiangulo/docqa/retrieval"
)

// summaryIntentPattern matches queries asking for a summary/overview of
// the document rather than a specific grounded answer.
var summaryIntentPattern = regexp.MustCompile(`(?i).*(总结|概括|主要内容|讲了什么|介绍一下|大纲|summary|overview).*`)

// SessionSource resolves a chat session's scoped document ids, the
// narrow slice of *store.Store this package needs rather than the full
// relational surface.
type SessionSource interface {
	SessionDocumentIDs(ctx context.Context, sessionID string) ([]string, error)
}

// Retriever is the narrow slice of retrieval.Engine this package needs.
// Declared locally, per the embedding/enrich/history decoupling
// convention, so chat/ depends on a method set rather than a concrete
// *retrieval.Engine.
type Retriever interface {
	Search(ctx context.Context, query string, documentIDs []string, topK int) (*retrieval.SearchOutput, error)
}

// HistoryManager is the narrow slice of history.Manager this package
// needs.
type HistoryManager interface {
	SaveMessage(ctx context.Context, sessionID string, role history.Role, content string) error
	BuildContext(ctx context.Context, sessionID string, budgetTokens int) ([]history.Message, error)
}

// Router is the narrow slice of llm.Router this package needs: client
// selection and fallover.
type Router interface {
	GetClient(typ string) llm.Provider
	Fallback(current llm.Provider) llm.Provider
}

// Chunk is one increment of a streamed chat reply. The content of a
// terminal chunk (Complete==true) is always empty; intermediate content
// chunks always carry non-empty content.
type Chunk struct {
	Content   string               `json:"content"`
	Complete  bool                 `json:"complete"`
	Citations []retrieval.Citation `json:"citations,omitempty"`
	Error     string               `json:"error,omitempty"`
	Warning   string               `json:"warning,omitempty"`
}

// Request is a single chat turn.
type Request struct {
	Query      string
	SessionID  string
	DocumentID string // request-level documentId or CSV, "" or "null" means absent
	ModelType  string // optional client-type hint for llm.Router.GetClient
}

// Orchestrator wires together retrieval, history, and the LLM router to
// answer a chat turn: persist the user message, retrieve context, build
// the system prompt, stream the reply with fallover, persist the
// assistant message, and emit the citation-bearing terminal chunk.
type Orchestrator struct {
	retriever Retriever
	history   HistoryManager
	router    Router
	sessions  SessionSource

	maxContextTokens int
}

// New builds an Orchestrator. Half of maxContextTokens is the budget
// given to history loading.
func New(retriever Retriever, hist HistoryManager, router Router, sessions SessionSource, maxContextTokens int) *Orchestrator {
	return &Orchestrator{
		retriever:        retriever,
		history:          hist,
		router:           router,
		sessions:         sessions,
		maxContextTokens: maxContextTokens,
	}
}

// Stream runs a chat turn, sending Chunks to out as they arrive. Stream
// always closes out before returning, and the final chunk sent always
// has Complete == true.
func (o *Orchestrator) Stream(ctx context.Context, req Request, out chan<- Chunk) {
	defer close(out)

	if err := o.history.SaveMessage(ctx, req.SessionID, history.RoleUser, req.Query); err != nil {
		slog.Warn("chat: saving user message failed", "session", req.SessionID, "err", err)
	}

	documentIDs, err := o.resolveDocumentIDs(ctx, req)
	if err != nil {
		out <- Chunk{Complete: true, Error: err.Error()}
		return
	}

	searchOut, err := o.retriever.Search(ctx, req.Query, documentIDs, 0)
	if err != nil {
		slog.Warn("chat: retrieval failed", "session", req.SessionID, "err", err)
		searchOut = &retrieval.SearchOutput{}
	}

	systemPrompt := buildSystemPrompt(req.Query, searchOut.Context, len(documentIDs) > 0)

	historyBudget := o.maxContextTokens / 2
	historyMsgs, err := o.history.BuildContext(ctx, req.SessionID, historyBudget)
	if err != nil {
		slog.Warn("chat: loading history failed", "session", req.SessionID, "err", err)
	}

	// The user message was persisted in step 1, so BuildContext may hand
	// it back as the newest entry; drop it before re-appending.
	if n := len(historyMsgs); n > 0 && historyMsgs[n-1].Role == history.RoleUser && historyMsgs[n-1].Content == req.Query {
		historyMsgs = historyMsgs[:n-1]
	}

	messages := make([]llm.Message, 0, len(historyMsgs)+1)
	for _, m := range historyMsgs {
		messages = append(messages, llm.Message{Role: toLLMRole(m.Role), Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: req.Query})

	llmReq := llm.ChatRequest{
		SystemPrompt: systemPrompt,
		Messages:     messages,
		Temperature:  0.7,
	}

	client := o.router.GetClient(req.ModelType)
	answer, ok := o.streamFrom(ctx, client, llmReq, out)
	if !ok {
		fallback := o.router.Fallback(client)
		if fallback == client {
			out <- Chunk{Complete: true, Error: "primary model unavailable and no fallback configured"}
			return
		}
		out <- Chunk{Warning: fmt.Sprintf("primary model %s failed, retrying with %s", client.ModelName(), fallback.ModelName())}
		answer, ok = o.streamFrom(ctx, fallback, llmReq, out)
		if !ok {
			out <- Chunk{Complete: true, Error: "fallback model also failed"}
			return
		}
	}

	if err := o.history.SaveMessage(ctx, req.SessionID, history.RoleAssistant, answer); err != nil {
		slog.Warn("chat: saving assistant message failed", "session", req.SessionID, "err", err)
	}

	logUngroundedCitations(req.SessionID, answer, searchOut.Citations)

	out <- Chunk{Complete: true, Citations: searchOut.Citations}
}

// logUngroundedCitations runs the optional, non-blocking citation
// annotation pass and logs any citation the answer text never seems to
// draw on. It never alters the emitted citation list; it is purely an
// observability signal for whoever reads the server logs.
func logUngroundedCitations(sessionID, answer string, citations []retrieval.Citation) {
	if len(citations) == 0 {
		return
	}
	for _, ac := range reasoning.ValidateCitations(answer, citations) {
		if !ac.Grounded {
			slog.Warn("chat: citation not grounded in answer text", "session", sessionID, "chunk", ac.ChunkID, "document", ac.DocumentName)
		}
	}
}

// streamFrom streams one client's reply into out, returning the
// accumulated text and whether the stream completed without error.
// Intermediate content chunks are forwarded as they arrive; the caller
// sends the terminal chunk itself once citations are known.
func (o *Orchestrator) streamFrom(ctx context.Context, client llm.Provider, req llm.ChatRequest, out chan<- Chunk) (string, bool) {
	deltas, err := client.StreamChat(ctx, req)
	if err != nil {
		slog.Warn("chat: opening stream failed", "model", client.ModelName(), "err", err)
		return "", false
	}

	var sb strings.Builder
	for d := range deltas {
		if d.Err != nil {
			slog.Warn("chat: stream failed mid-flight", "model", client.ModelName(), "err", d.Err)
			return sb.String(), false
		}
		if d.Content != "" {
			sb.WriteString(d.Content)
			out <- Chunk{Content: d.Content}
		}
		if d.Done {
			break
		}
	}
	return sb.String(), true
}

// resolveDocumentIDs prefers the request's documentId (CSV, trimmed,
// literal "null" treated as absent), falling back to the session's
// scoped document ids.
func (o *Orchestrator) resolveDocumentIDs(ctx context.Context, req Request) ([]string, error) {
	if ids := splitCSV(req.DocumentID); len(ids) > 0 {
		return ids, nil
	}
	ids, err := o.sessions.SessionDocumentIDs(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("resolving session documents: %w", err)
	}
	return ids, nil
}

func splitCSV(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" && !strings.EqualFold(p, "null") {
			out = append(out, p)
		}
	}
	return out
}

func toLLMRole(r history.Role) string {
	switch r {
	case history.RoleUser:
		return "user"
	case history.RoleAssistant:
		return "assistant"
	default:
		return "system"
	}
}

// buildSystemPrompt selects one of the four prompt templates based on
// whether retrieval produced context, the query's intent, and whether a
// document is in scope.
func buildSystemPrompt(query, context string, documentScoped bool) string {
	switch {
	case context != "" && summaryIntentPattern.MatchString(query):
		return summaryPromptTemplate(context)
	case context != "":
		return groundedQAPromptTemplate(context)
	case documentScoped:
		return noContentFoundPromptTemplate()
	default:
		return openChatPromptTemplate()
	}
}

func summaryPromptTemplate(context string) string {
	return "You are summarizing the following document excerpts for the user. " +
		"Produce a concise, well-organized overview covering the main points. " +
		"Do not invent content not present in the excerpts.\n\n" + context
}

func groundedQAPromptTemplate(context string) string {
	return "Answer the user's question using only the following excerpts as source material. " +
		"Cite excerpts by their bracketed number when relevant. " +
		"If the excerpts do not contain the answer, say so plainly.\n\n" + context
}

func noContentFoundPromptTemplate() string {
	return "No relevant content was found in the selected document for this question. " +
		"Tell the user nothing relevant was found, and do not fabricate an answer from outside knowledge."
}

func openChatPromptTemplate() string {
	return "You are a helpful assistant. No document is currently selected, so answer conversationally " +
		"using your general knowledge."
}
