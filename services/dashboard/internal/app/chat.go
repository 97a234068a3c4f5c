package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"finboard/pkg/ai"
	"finboard/pkg/domain"
	"finboard/pkg/session"
)

const (
	keyChatSession session.Key = "chat.session"

	maxPromptLen = 4000
)

const baseSystemPrompt = `You are a personal finance assistant on an investment dashboard.
Answer the user's questions using the investor profile below. Be concise and concrete.
You do not give regulated financial advice; suggest consulting a licensed advisor for major decisions.`

// ChatReply is the outcome of one chat exchange.
type ChatReply struct {
	SessionID       string `json:"sessionId"`
	Reply           string `json:"reply"`
	UserTurnID      int64  `json:"userTurnId"`
	AssistantTurnID int64  `json:"assistantTurnId"`
}

// SetChatSession pins the conversation used by Chat calls without an explicit
// session id. It is cleared on logout.
func (a *App) SetChatSession(sess *session.Session, chatSessionID string) {
	sess.Put(keyChatSession, chatSessionID)
}

func chatSessionFor(sess *session.Session, chatSessionID string) string {
	if chatSessionID = strings.TrimSpace(chatSessionID); chatSessionID != "" {
		return chatSessionID
	}
	pinned, _ := session.Value[string](sess, keyChatSession)
	return pinned
}

// Chat stores the prompt, asks the assistant with the investor profile and
// recent history as context, and stores the answer. If generation fails the
// prompt stays recorded and ErrAssistantUnavailable is returned.
func (a *App) Chat(ctx context.Context, sess *session.Session, chatSessionID, prompt string) (ChatReply, error) {
	id, err := sess.Require()
	if err != nil {
		return ChatReply{}, err
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ChatReply{}, domain.Invalid("message", "is required")
	}
	if len(prompt) > maxPromptLen {
		return ChatReply{}, domain.Invalid("message", fmt.Sprintf("must be at most %d characters", maxPromptLen))
	}
	if a.generator == nil {
		return ChatReply{}, ErrAssistantUnavailable
	}
	chatSessionID = chatSessionFor(sess, chatSessionID)

	prefs, err := a.Preferences(ctx, sess)
	if err != nil {
		return ChatReply{}, err
	}
	history, err := a.store.RecentTurnsInSession(ctx, id, chatSessionID, a.historyLimit)
	if err != nil {
		return ChatReply{}, err
	}
	userTurnID, err := a.store.AppendTurn(ctx, id, chatSessionID, domain.RoleUser, prompt)
	if err != nil {
		return ChatReply{}, err
	}

	reply, err := a.generator.GenerateText(ctx, systemPrompt(prefs, a.currency), toMessages(history), prompt)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = ai.ErrEmptyResponse
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return ChatReply{}, err
		}
		a.logger.Warn("assistant_generation_failed", "account_id", id.AccountID, "error", err)
		return ChatReply{}, fmt.Errorf("%w: %w", ErrAssistantUnavailable, err)
	}
	reply = strings.TrimSpace(reply)

	assistantTurnID, err := a.store.AppendTurn(ctx, id, chatSessionID, domain.RoleAssistant, reply)
	if err != nil {
		return ChatReply{}, err
	}
	if chatSessionID == "" {
		chatSessionID = "default"
	}
	return ChatReply{
		SessionID:       chatSessionID,
		Reply:           reply,
		UserTurnID:      userTurnID,
		AssistantTurnID: assistantTurnID,
	}, nil
}

// ChatHistory returns up to limit recent turns, oldest first. An empty
// chatSessionID spans every conversation of the account.
func (a *App) ChatHistory(ctx context.Context, sess *session.Session, chatSessionID string, limit int) ([]domain.Turn, error) {
	id, err := sess.Require()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = a.historyLimit
	}
	if chatSessionID = strings.TrimSpace(chatSessionID); chatSessionID == "" {
		return a.store.RecentTurns(ctx, id, limit)
	}
	return a.store.RecentTurnsInSession(ctx, id, chatSessionID, limit)
}

func toMessages(turns []domain.Turn) []ai.Message {
	out := make([]ai.Message, len(turns))
	for i, t := range turns {
		role := ai.RoleUser
		if t.Role == domain.RoleAssistant {
			role = ai.RoleAssistant
		}
		out[i] = ai.Message{Role: role, Content: t.Content}
	}
	return out
}

func systemPrompt(p domain.PreferenceSet, currency string) string {
	var b strings.Builder
	b.WriteString(baseSystemPrompt)
	b.WriteString("\n\nInvestor profile:\n")
	fmt.Fprintf(&b, "- Risk tolerance: %s\n", p.RiskTolerance)
	fmt.Fprintf(&b, "- Investment timeline: %s\n", p.Timeline)
	fmt.Fprintf(&b, "- Goals: %s\n", listOrNone(p.Goals))
	fmt.Fprintf(&b, "- Preferred asset classes: %s\n", listOrNone(p.AssetClasses))
	fmt.Fprintf(&b, "- Preferred sectors: %s\n", listOrNone(p.Sectors))
	fmt.Fprintf(&b, "- Geographies: %s\n", listOrNone(p.Geographies))
	fmt.Fprintf(&b, "- ESG focus: %s\n", yesNo(p.ESG))
	fmt.Fprintf(&b, "- Monthly investment: %s\n", formatMoney(p.MonthlyInvestment, currency))
	fmt.Fprintf(&b, "- Age: %d, dependents: %d\n", p.Age, p.Dependents)
	fmt.Fprintf(&b, "- Annual income: %s\n", formatMoney(p.AnnualIncome, currency))
	fmt.Fprintf(&b, "- Outstanding debt: %s\n", formatMoney(p.DebtAmount, currency))
	if p.GoalNarrative != "" {
		fmt.Fprintf(&b, "- In their own words: %s\n", p.GoalNarrative)
	}
	return b.String()
}

// formatMoney renders amount in the currency's display template, e.g. $1,000.00.
func formatMoney(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return amount.StringFixed(2) + " " + currency
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(minor, cur.Code).Display()
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
