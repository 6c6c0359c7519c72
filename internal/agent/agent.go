// Package agent wires the Eino ReAct agent to the book tools to form the
// BookInsight assistant. The agent decides per turn whether to search the
// catalog semantically, query it with SQL, save a preference, or answer
// directly, and remembers each user's conversation.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/bookinsight/internal/budget"
	"github.com/54b3r/bookinsight/internal/logging"
	"github.com/54b3r/bookinsight/internal/store"
	"github.com/54b3r/bookinsight/internal/tools"
)

// systemPrompt establishes the persona and the tool routing rules.
const systemPrompt = `You are BookInsight, a knowledgeable and personal book assistant.
Always think step by step before answering.

You have four tools:
1. smart_book_retriever: for OPEN questions (summaries, plots, themes, authors' styles,
   recommendations on a topic).
2. sql_tool: for PRECISE questions about structured data (price, rating, page_count,
   publication_year, counts, averages, max/min, comparisons).
3. save_user_preference: ONLY when the user states a preference ("I love...",
   "my favourite author is..."). Do not recommend in the same step.
4. get_personalized_recommendation: ONLY when the user asks for general suggestions
   ("recommend me something", "find me a good book") without further detail.
   Never use it when the user is only stating a preference.

Most important rule: for compound questions such as "summarise the most expensive book",
first use sql_tool to find the book, then smart_book_retriever to describe it.

Answer in the user's language. Recommend only books returned by your tools, and say so
when nothing suitable was found.`

const (
	// defaultHistoryDepth is the number of prior user+assistant turns replayed.
	defaultHistoryDepth = 10
	// defaultMaxStep bounds the ReAct loop.
	defaultMaxStep = 12
)

// Config holds the dependencies required to construct a BookAgent.
type Config struct {
	// ChatModel is the LLM backend constructed by the provider factory.
	ChatModel model.ToolCallingChatModel

	// Tools is the list of book tools available to the agent.
	Tools []tool.BaseTool

	// History is the optional conversation store used to persist and replay
	// prior turns per user. If nil, each query is stateless.
	History store.ConversationStore

	// HistoryDepth is the number of prior turns (user+assistant pairs) to
	// inject per query. Defaults to 10 if zero.
	HistoryDepth int

	// MaxContextTokens is the estimated token budget for system prompt,
	// history and question. History is trimmed oldest-first to fit.
	// Defaults to budget.DefaultMaxContextTokens if zero.
	MaxContextTokens int

	// MaxStep bounds the number of ReAct steps. Defaults to 12 if zero.
	MaxStep int
}

// BookAgent wraps the Eino ReAct agent with per-user conversation memory.
type BookAgent struct {
	// reactAgent is the underlying Eino ReAct loop agent.
	reactAgent *react.Agent

	// history is the optional conversation store for multi-turn context.
	history store.ConversationStore

	// historyDepth is the number of recent turns to inject per query.
	historyDepth int

	// maxContextTokens is the estimated token budget for the input context.
	maxContextTokens int
}

// New constructs a BookAgent from the provided Config.
func New(ctx context.Context, cfg *Config) (*BookAgent, error) {
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("agent: ChatModel must not be nil")
	}

	maxStep := cfg.MaxStep
	if maxStep <= 0 {
		maxStep = defaultMaxStep
	}

	reactAgent, err := react.NewAgent(ctx, &react.AgentConfig{
		ToolCallingModel: cfg.ChatModel,
		ToolsConfig: compose.ToolsNodeConfig{
			Tools: cfg.Tools,
		},
		MaxStep: maxStep,
	})
	if err != nil {
		return nil, fmt.Errorf("agent: failed to create ReAct agent: %w", err)
	}

	depth := cfg.HistoryDepth
	if depth <= 0 {
		depth = defaultHistoryDepth
	}

	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}

	return &BookAgent{
		reactAgent:       reactAgent,
		history:          cfg.History,
		historyDepth:     depth,
		maxContextTokens: maxCtx,
	}, nil
}

// Query answers question on behalf of userID, streaming the answer to w as
// it arrives and returning the full text. The user id is placed on the
// context so preference tools act for the right reader. When a conversation
// store is configured, prior turns are replayed and the new turn persisted.
func (a *BookAgent) Query(ctx context.Context, userID, question string, w io.Writer) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", fmt.Errorf("agent: question must not be empty")
	}
	if userID == "" {
		userID = tools.DefaultUserID
	}
	ctx = tools.WithUserID(ctx, userID)
	ctx = logging.WithAttrs(ctx, slog.String("user_id", userID))
	log := logging.FromContext(ctx)

	messages := a.buildMessages(ctx, userID, question)

	sr, err := a.reactAgent.Stream(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("agent: stream failed: %w", err)
	}
	defer sr.Close()

	var answer strings.Builder
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("agent: stream receive error: %w", err)
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		answer.WriteString(msg.Content)
		if w != nil {
			if _, err := io.WriteString(w, msg.Content); err != nil {
				return "", fmt.Errorf("agent: write error: %w", err)
			}
		}
	}

	// Persist the turn to the conversation store (non-fatal on error).
	if a.history != nil {
		if err := a.history.Append(ctx, userID, store.RoleUser, question); err != nil {
			log.Warn("history: failed to persist user message", slog.Any("error", err))
		}
		if err := a.history.Append(ctx, userID, store.RoleAssistant, answer.String()); err != nil {
			log.Warn("history: failed to persist assistant message", slog.Any("error", err))
		}
	}

	return answer.String(), nil
}

// buildMessages returns [system, ...trimmed history, user question].
func (a *BookAgent) buildMessages(ctx context.Context, userID, question string) []*schema.Message {
	log := logging.FromContext(ctx)
	system := schema.SystemMessage(systemPrompt)
	user := schema.UserMessage(question)

	var historyMsgs []*schema.Message
	if a.history != nil {
		prior, err := a.history.Recent(ctx, userID, a.historyDepth*2)
		if err != nil {
			log.Warn("history: failed to load prior messages", slog.Any("error", err))
		}
		for _, m := range prior {
			switch m.Role {
			case store.RoleUser:
				historyMsgs = append(historyMsgs, schema.UserMessage(m.Content))
			case store.RoleAssistant:
				historyMsgs = append(historyMsgs, schema.AssistantMessage(m.Content, nil))
			}
		}
	}

	before := len(historyMsgs)
	historyMsgs = budget.TrimHistory([]*schema.Message{system, user}, historyMsgs, a.maxContextTokens)
	if dropped := before - len(historyMsgs); dropped > 0 {
		log.Warn("budget: dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(historyMsgs)),
			slog.Int("max_tokens", a.maxContextTokens),
		)
	}

	messages := make([]*schema.Message, 0, len(historyMsgs)+2)
	messages = append(messages, system)
	messages = append(messages, historyMsgs...)
	return append(messages, user)
}
