package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"finboard/pkg/ai"
	"finboard/pkg/domain"
	"finboard/pkg/market"
	"finboard/pkg/session"
	"finboard/pkg/store"
)

var testNow = time.Date(2026, 5, 10, 9, 30, 0, 0, time.UTC)

type fakeGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	calls   int
	system  string
	history []ai.Message
	prompt  string
}

func (g *fakeGenerator) GenerateText(_ context.Context, systemPrompt string, history []ai.Message, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.system = systemPrompt
	g.history = append([]ai.Message(nil), history...)
	g.prompt = prompt
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

type fakeMarket map[string]market.Quote

func (m fakeMarket) FetchQuote(_ context.Context, symbol string) (market.Quote, error) {
	q, ok := m[symbol]
	if !ok {
		return market.Quote{}, &market.Error{Symbol: symbol, Kind: market.KindNotFound}
	}
	return q, nil
}

type testEnv struct {
	app   *App
	store *store.MemoryStore
	gen   *fakeGenerator
}

func newTestApp(t *testing.T, mutate func(*Config)) testEnv {
	t.Helper()
	clock := func() time.Time { return testNow }
	mem := store.NewMemoryStore(store.WithClock(clock))
	gen := &fakeGenerator{reply: "Consider a diversified index fund."}
	cfg := Config{
		Store:     mem,
		Sessions:  mem,
		Generator: gen,
		Market: fakeMarket{
			"AAPL.US":   {Symbol: "AAPL.US", Price: decimal.RequireFromString("187.25")},
			"GSPC.INDX": {Symbol: "GSPC.INDX", Price: decimal.RequireFromString("5300.10")},
			"IXIC.INDX": {Symbol: "IXIC.INDX", Price: decimal.RequireFromString("16700.00")},
		},
		Watchlist: []string{"AAPL.US"},
		Now:       clock,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return testEnv{app: a, store: mem, gen: gen}
}

func (e testEnv) signUp(t *testing.T, username string) *session.Session {
	t.Helper()
	sess := e.app.NewSession()
	if _, err := e.app.Register(context.Background(), sess, username, username+"@example.com", "correct horse"); err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return sess
}

func TestRegisterSignsIn(t *testing.T) {
	env := newTestApp(t, nil)
	sess := env.signUp(t, "alice")

	if sess.State() != session.Authenticated || sess.Token() == "" {
		t.Fatalf("expected an authenticated session with a token, state=%v", sess.State())
	}
	me, err := env.app.Me(context.Background(), sess)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if me.Username != "alice" || me.Email != "alice@example.com" {
		t.Fatalf("unexpected account: %+v", me)
	}

	resumed, err := env.app.Resume(context.Background(), sess.Token())
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if id, _ := resumed.Require(); id.AccountID != me.ID {
		t.Fatalf("resumed identity %q, want %q", id.AccountID, me.ID)
	}
}

func TestRegisterDuplicateLeavesSessionAnonymous(t *testing.T) {
	env := newTestApp(t, nil)
	env.signUp(t, "alice")

	sess := env.app.NewSession()
	_, err := env.app.Register(context.Background(), sess, "alice", "other@example.com", "correct horse")
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if sess.State() != session.Anonymous {
		t.Fatalf("failed registration must not sign in")
	}
}

func TestProtectedOperationsRequireLogin(t *testing.T) {
	env := newTestApp(t, nil)
	ctx := context.Background()
	anon := env.app.NewSession()

	ops := map[string]func() error{
		"me":          func() error { _, err := env.app.Me(ctx, anon); return err },
		"preferences": func() error { _, err := env.app.Preferences(ctx, anon); return err },
		"save preferences": func() error {
			_, err := env.app.SavePreferences(ctx, anon, domain.PreferenceForm{})
			return err
		},
		"reminders":    func() error { _, err := env.app.Reminders(ctx, anon, domain.FilterAll); return err },
		"add reminder": func() error { _, err := env.app.AddReminder(ctx, anon, domain.Reminder{Title: "x"}); return err },
		"complete":     func() error { return env.app.CompleteReminder(ctx, anon, "r-1") },
		"delete":       func() error { return env.app.DeleteReminder(ctx, anon, "r-1") },
		"upcoming":     func() error { _, err := env.app.UpcomingReminders(ctx, anon, 7); return err },
		"chat":         func() error { _, err := env.app.Chat(ctx, anon, "", "hello"); return err },
		"history":      func() error { _, err := env.app.ChatHistory(ctx, anon, "", 10); return err },
		"quotes":       func() error { _, err := env.app.Quotes(ctx, anon, nil); return err },
		"overview":     func() error { _, err := env.app.MarketOverview(ctx, anon); return err },
		"email":        func() error { _, err := env.app.UpdateEmail(ctx, anon, "a@example.com"); return err },
		"password":     func() error { return env.app.ChangePassword(ctx, anon, "a", "b") },
		"deactivate":   func() error { return env.app.DeactivateAccount(ctx, anon) },
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, domain.ErrAuthenticationRequired) {
			t.Fatalf("%s: expected ErrAuthenticationRequired, got %v", name, err)
		}
	}
	if env.gen.calls != 0 {
		t.Fatalf("generator must not be called anonymously")
	}
}

func TestPreferencesCachedUntilLogout(t *testing.T) {
	env := newTestApp(t, nil)
	ctx := context.Background()
	sess := env.signUp(t, "alice")

	prefs, err := env.app.Preferences(ctx, sess)
	if err != nil {
		t.Fatalf("preferences: %v", err)
	}
	if prefs.RiskTolerance != domain.RiskModerate {
		t.Fatalf("expected defaults, got %q", prefs.RiskTolerance)
	}

	risk := string(domain.RiskAggressive)
	saved, err := env.app.SavePreferences(ctx, sess, domain.PreferenceForm{RiskTolerance: &risk})
	if err != nil {
		t.Fatalf("save preferences: %v", err)
	}
	if saved.RiskTolerance != domain.RiskAggressive || saved.Timeline != domain.TimelineFiveToTen {
		t.Fatalf("unexpected saved set: %+v", saved)
	}
	if _, ok := session.Value[domain.PreferenceSet](sess, keyPreferences); !ok {
		t.Fatalf("expected preferences cached on the session")
	}

	env.app.Logout(ctx, sess)
	if _, ok := sess.Get(keyPreferences); ok {
		t.Fatalf("logout must clear cached preferences")
	}
	if _, err := env.app.Login(ctx, sess, "alice", "correct horse"); err != nil {
		t.Fatalf("login: %v", err)
	}
	again, err := env.app.Preferences(ctx, sess)
	if err != nil {
		t.Fatalf("preferences after login: %v", err)
	}
	if again.RiskTolerance != domain.RiskAggressive {
		t.Fatalf("expected stored preferences, got %q", again.RiskTolerance)
	}
}

func TestSavePreferencesRejectsInvalidForm(t *testing.T) {
	env := newTestApp(t, nil)
	sess := env.signUp(t, "alice")
	age := 12
	_, err := env.app.SavePreferences(context.Background(), sess, domain.PreferenceForm{Age: &age})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "age" {
		t.Fatalf("expected age validation error, got %v", err)
	}
}

func TestChatPersistsTurnsAroundGeneration(t *testing.T) {
	env := newTestApp(t, nil)
	ctx := context.Background()
	sess := env.signUp(t, "alice")

	first, err := env.app.Chat(ctx, sess, "", "Should I buy bonds?")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if first.SessionID != "default" || first.Reply != env.gen.reply {
		t.Fatalf("unexpected reply: %+v", first)
	}
	if first.AssistantTurnID <= first.UserTurnID {
		t.Fatalf("assistant turn must follow the user turn: %+v", first)
	}
	if len(env.gen.history) != 0 {
		t.Fatalf("first exchange should have no history, got %v", env.gen.history)
	}
	for _, want := range []string{"Risk tolerance: Moderate", "Monthly investment: $1,000.00", "Annual income: $75,000.00"} {
		if !strings.Contains(env.gen.system, want) {
			t.Fatalf("system prompt missing %q:\n%s", want, env.gen.system)
		}
	}

	if _, err := env.app.Chat(ctx, sess, "", "And stocks?"); err != nil {
		t.Fatalf("second chat: %v", err)
	}
	wantHistory := []ai.Message{
		{Role: ai.RoleUser, Content: "Should I buy bonds?"},
		{Role: ai.RoleAssistant, Content: env.gen.reply},
	}
	if diff := cmp.Diff(wantHistory, env.gen.history); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}

	turns, err := env.app.ChatHistory(ctx, sess, "default", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(turns) != 4 || turns[0].Content != "Should I buy bonds?" || turns[3].Role != domain.RoleAssistant {
		t.Fatalf("unexpected stored turns: %+v", turns)
	}
}

func TestChatSessionsAreSeparate(t *testing.T) {
	env := newTestApp(t, nil)
	ctx := context.Background()
	sess := env.signUp(t, "alice")

	if _, err := env.app.Chat(ctx, sess, "budget", "one"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	env.app.SetChatSession(sess, "retirement")
	reply, err := env.app.Chat(ctx, sess, "", "two")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply.SessionID != "retirement" || len(env.gen.history) != 0 {
		t.Fatalf("pinned session should start empty: %+v history=%v", reply, env.gen.history)
	}
	all, err := env.app.ChatHistory(ctx, sess, "", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected every turn across sessions, got %d", len(all))
	}
}

func TestChatKeepsUserTurnWhenGenerationFails(t *testing.T) {
	env := newTestApp(t, nil)
	env.gen.err = errors.New("upstream 500")
	ctx := context.Background()
	sess := env.signUp(t, "alice")

	_, err := env.app.Chat(ctx, sess, "", "hello?")
	if !errors.Is(err, ErrAssistantUnavailable) {
		t.Fatalf("expected ErrAssistantUnavailable, got %v", err)
	}
	turns, err := env.app.ChatHistory(ctx, sess, "", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(turns) != 1 || turns[0].Role != domain.RoleUser {
		t.Fatalf("expected only the user turn, got %+v", turns)
	}
}

func TestChatEmptyReplyIsUnavailable(t *testing.T) {
	env := newTestApp(t, nil)
	env.gen.reply = "   "
	sess := env.signUp(t, "alice")
	if _, err := env.app.Chat(context.Background(), sess, "", "hello?"); !errors.Is(err, ai.ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestChatWithoutGenerator(t *testing.T) {
	env := newTestApp(t, func(c *Config) { c.Generator = nil })
	ctx := context.Background()
	sess := env.signUp(t, "alice")

	if _, err := env.app.Chat(ctx, sess, "", "hello"); !errors.Is(err, ErrAssistantUnavailable) {
		t.Fatalf("expected ErrAssistantUnavailable, got %v", err)
	}
	if _, err := env.app.Chat(ctx, sess, "", "  "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for blank prompt, got %v", err)
	}
	turns, _ := env.app.ChatHistory(ctx, sess, "", 10)
	if len(turns) != 0 {
		t.Fatalf("nothing should be stored without a generator, got %d turns", len(turns))
	}
}

func TestRemindersAnnotatedAndScoped(t *testing.T) {
	env := newTestApp(t, nil)
	ctx := context.Background()
	alice := env.signUp(t, "alice")
	bob := env.signUp(t, "bob")

	tomorrow, err := env.app.AddReminder(ctx, alice, domain.Reminder{
		Title:      "Pay card",
		Type:       domain.ReminderBillPayment,
		TargetDate: testNow.AddDate(0, 0, 1),
	})
	if err != nil {
		t.Fatalf("add reminder: %v", err)
	}
	if tomorrow.ID == "" || tomorrow.Priority != domain.PriorityMedium || tomorrow.Status != domain.ReminderActive {
		t.Fatalf("unexpected stored reminder: %+v", tomorrow)
	}
	if tomorrow.Urgency != domain.UrgencyCritical || tomorrow.DaysUntil != 1 {
		t.Fatalf("unexpected annotation: urgency=%s days=%d", tomorrow.Urgency, tomorrow.DaysUntil)
	}
	if !tomorrow.CreatedAt.Equal(testNow) {
		t.Fatalf("createdAt = %v, want %v", tomorrow.CreatedAt, testNow)
	}
	nextWeek, err := env.app.AddReminder(ctx, alice, domain.Reminder{Title: "Review", TargetDate: testNow.AddDate(0, 0, 5)})
	if err != nil {
		t.Fatalf("add reminder: %v", err)
	}
	if nextWeek.Urgency != domain.UrgencyWarning {
		t.Fatalf("urgency = %s, want warning", nextWeek.Urgency)
	}
	if _, err := env.app.AddReminder(ctx, alice, domain.Reminder{Title: "Far", TargetDate: testNow.AddDate(0, 1, 0)}); err != nil {
		t.Fatalf("add reminder: %v", err)
	}

	upcoming, err := env.app.UpcomingReminders(ctx, alice, env.app.UpcomingDays())
	if err != nil {
		t.Fatalf("upcoming: %v", err)
	}
	if len(upcoming) != 2 || upcoming[0].ID != tomorrow.ID || upcoming[1].ID != nextWeek.ID {
		t.Fatalf("unexpected upcoming window: %+v", upcoming)
	}
	if _, err := env.app.UpcomingReminders(ctx, alice, 400); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for oversized window, got %v", err)
	}

	if err := env.app.CompleteReminder(ctx, bob, tomorrow.ID); !errors.Is(err, domain.ErrWrongOwner) {
		t.Fatalf("expected ErrWrongOwner, got %v", err)
	}
	if err := env.app.CompleteReminder(ctx, alice, tomorrow.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := env.app.DeleteReminder(ctx, alice, tomorrow.ID); !errors.Is(err, domain.ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}

	completed, err := env.app.Reminders(ctx, alice, domain.FilterCompleted)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(completed) != 1 || completed[0].ID != tomorrow.ID {
		t.Fatalf("unexpected completed list: %+v", completed)
	}
	bobs, err := env.app.Reminders(ctx, bob, domain.FilterAll)
	if err != nil {
		t.Fatalf("list bob: %v", err)
	}
	if len(bobs) != 0 {
		t.Fatalf("bob must not see alice's reminders: %+v", bobs)
	}
}

func TestUpcomingRemindersZeroDaysIsToday(t *testing.T) {
	env := newTestApp(t, nil)
	ctx := context.Background()
	sess := env.signUp(t, "alice")

	today, err := env.app.AddReminder(ctx, sess, domain.Reminder{Title: "Pay rent", TargetDate: testNow})
	if err != nil {
		t.Fatalf("add reminder: %v", err)
	}
	if _, err := env.app.AddReminder(ctx, sess, domain.Reminder{Title: "Review", TargetDate: testNow.AddDate(0, 0, 5)}); err != nil {
		t.Fatalf("add reminder: %v", err)
	}

	due, err := env.app.UpcomingReminders(ctx, sess, 0)
	if err != nil {
		t.Fatalf("upcoming: %v", err)
	}
	if len(due) != 1 || due[0].ID != today.ID {
		t.Fatalf("zero-day window should hold only today's reminder, got %+v", due)
	}
	if _, err := env.app.UpcomingReminders(ctx, sess, -1); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for negative window, got %v", err)
	}
}

func TestQuotes(t *testing.T) {
	env := newTestApp(t, nil)
	ctx := context.Background()
	sess := env.signUp(t, "alice")

	got, err := env.app.Quotes(ctx, sess, []string{"aapl.us", "AAPL.US", "bad symbol!", "MISSING.US", " "})
	if err != nil {
		t.Fatalf("quotes: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %+v", got)
	}
	if got[0].Symbol != "AAPL.US" || got[0].Quote == nil || !got[0].Quote.Price.Equal(decimal.RequireFromString("187.25")) {
		t.Fatalf("unexpected first result: %+v", got[0])
	}
	if got[1].Error != market.KindInvalidSymbol || got[2].Error != market.KindNotFound {
		t.Fatalf("unexpected failures: %+v %+v", got[1], got[2])
	}

	watch, err := env.app.Quotes(ctx, sess, nil)
	if err != nil {
		t.Fatalf("watchlist quotes: %v", err)
	}
	if len(watch) != 1 || watch[0].Symbol != "AAPL.US" {
		t.Fatalf("expected watchlist fallback, got %+v", watch)
	}

	tooMany := make([]string, maxQuoteSymbols+1)
	for i := range tooMany {
		tooMany[i] = "S" + strings.Repeat("X", i%5) + string(rune('A'+i))
	}
	if _, err := env.app.Quotes(ctx, sess, tooMany); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for too many symbols, got %v", err)
	}
}

func TestMarketOverview(t *testing.T) {
	env := newTestApp(t, nil)
	sess := env.signUp(t, "alice")

	got, err := env.app.MarketOverview(context.Background(), sess)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if len(got) != len(market.DefaultIndices) {
		t.Fatalf("expected %d indices, got %d", len(market.DefaultIndices), len(got))
	}
	if got[0].Name != "S&P 500" || got[0].Quote == nil {
		t.Fatalf("unexpected first index: %+v", got[0])
	}
	if got[2].Error != market.KindNotFound {
		t.Fatalf("missing index should report not_found, got %+v", got[2])
	}
}

func TestMarketDisabled(t *testing.T) {
	env := newTestApp(t, func(c *Config) { c.Market = nil })
	sess := env.signUp(t, "alice")
	if _, err := env.app.Quotes(context.Background(), sess, []string{"AAPL.US"}); !errors.Is(err, ErrMarketUnavailable) {
		t.Fatalf("expected ErrMarketUnavailable, got %v", err)
	}
}

func TestDeactivateAccount(t *testing.T) {
	env := newTestApp(t, nil)
	ctx := context.Background()
	sess := env.signUp(t, "alice")
	token := sess.Token()

	if err := env.app.DeactivateAccount(ctx, sess); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if sess.State() != session.Anonymous {
		t.Fatalf("deactivation must end the session")
	}
	if _, err := env.app.Resume(ctx, token); !errors.Is(err, domain.ErrAuthenticationRequired) {
		t.Fatalf("expected resumed token to fail, got %v", err)
	}
	if _, err := env.app.Login(ctx, env.app.NewSession(), "alice", "correct horse"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials after deactivation, got %v", err)
	}
}

func TestNewWithMemoryDatabaseURL(t *testing.T) {
	a, err := New(Config{DatabaseURL: "memory", Sessions: store.NewMemoryStore()})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()
	if err := a.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected an error without a database url")
	}
}

func TestFormatMoney(t *testing.T) {
	cases := []struct {
		amount   string
		currency string
		want     string
	}{
		{"1000", "USD", "$1,000.00"},
		{"75000.5", "USD", "$75,000.50"},
		{"12.5", "XXQ", "12.50 XXQ"},
	}
	for _, tc := range cases {
		if got := formatMoney(decimal.RequireFromString(tc.amount), tc.currency); got != tc.want {
			t.Fatalf("formatMoney(%s, %s) = %q, want %q", tc.amount, tc.currency, got, tc.want)
		}
	}
}
