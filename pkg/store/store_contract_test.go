package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"finboard/pkg/domain"
)

type storeFactory func(t *testing.T, options ...Option) Store

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

var decimalEqual = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

func newTestAccount(username, email string) domain.Account {
	return domain.Account{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: "hash",
		CreatedAt:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Active:       true,
	}
}

func mustCreate(t *testing.T, s Store, account domain.Account) domain.Identity {
	t.Helper()
	if err := s.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("create account %s: %v", account.Username, err)
	}
	return account.Identity()
}

func runStoreContract(t *testing.T, newStore storeFactory) {
	t.Run("duplicate username or email", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustCreate(t, s, newTestAccount("alice", "alice@example.com"))

		err := s.CreateAccount(ctx, newTestAccount("alice", "other@example.com"))
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists for username, got %v", err)
		}
		err = s.CreateAccount(ctx, newTestAccount("bob", "alice@example.com"))
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists for email, got %v", err)
		}
	})

	t.Run("strict policy keeps names of inactive accounts", func(t *testing.T) {
		s := newStore(t, WithReusePolicy(domain.ReuseStrict))
		ctx := context.Background()
		id := mustCreate(t, s, newTestAccount("carol", "carol@example.com"))
		if err := s.Deactivate(ctx, id.AccountID); err != nil {
			t.Fatalf("deactivate: %v", err)
		}
		err := s.CreateAccount(ctx, newTestAccount("carol", "carol2@example.com"))
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("relaxed policy frees names of inactive accounts", func(t *testing.T) {
		s := newStore(t, WithReusePolicy(domain.ReuseRelaxed))
		ctx := context.Background()
		old := mustCreate(t, s, newTestAccount("dave", "dave@example.com"))
		if err := s.Deactivate(ctx, old.AccountID); err != nil {
			t.Fatalf("deactivate: %v", err)
		}
		fresh := mustCreate(t, s, newTestAccount("dave", "dave@example.com"))

		got, ok, err := s.GetActiveAccountByUsername(ctx, "dave")
		if err != nil || !ok {
			t.Fatalf("lookup: ok=%v err=%v", ok, err)
		}
		if got.ID != fresh.AccountID {
			t.Fatalf("expected the active account %s, got %s", fresh.AccountID, got.ID)
		}
		if err := s.CreateAccount(ctx, newTestAccount("dave", "dave3@example.com")); !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("expected active duplicate to fail, got %v", err)
		}
	})

	t.Run("inactive accounts are hidden from username lookup", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := mustCreate(t, s, newTestAccount("erin", "erin@example.com"))
		if err := s.Deactivate(ctx, id.AccountID); err != nil {
			t.Fatalf("deactivate: %v", err)
		}
		if err := s.Deactivate(ctx, id.AccountID); err != nil {
			t.Fatalf("second deactivate should be a no-op: %v", err)
		}
		if _, ok, err := s.GetActiveAccountByUsername(ctx, "erin"); err != nil || ok {
			t.Fatalf("expected no active account, ok=%v err=%v", ok, err)
		}
		account, ok, err := s.GetAccountByID(ctx, id.AccountID)
		if err != nil || !ok {
			t.Fatalf("get by id: ok=%v err=%v", ok, err)
		}
		if account.Active {
			t.Fatalf("expected inactive account")
		}
		if err := s.Deactivate(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("account updates", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := mustCreate(t, s, newTestAccount("frank", "frank@example.com"))
		mustCreate(t, s, newTestAccount("grace", "grace@example.com"))

		if err := s.UpdateEmail(ctx, id.AccountID, "grace@example.com"); !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
		if err := s.UpdateEmail(ctx, id.AccountID, "frank@new.example.com"); err != nil {
			t.Fatalf("update email: %v", err)
		}
		if err := s.UpdatePasswordHash(ctx, id.AccountID, "new-hash"); err != nil {
			t.Fatalf("update password: %v", err)
		}
		at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
		if err := s.TouchLastLogin(ctx, id.AccountID, at); err != nil {
			t.Fatalf("touch last login: %v", err)
		}
		account, _, err := s.GetAccountByID(ctx, id.AccountID)
		if err != nil {
			t.Fatalf("get account: %v", err)
		}
		if account.Email != "frank@new.example.com" || account.PasswordHash != "new-hash" {
			t.Fatalf("unexpected account: %+v", account)
		}
		if account.LastLoginAt == nil || !account.LastLoginAt.Equal(at) {
			t.Fatalf("unexpected last login: %v", account.LastLoginAt)
		}
		if err := s.UpdateEmail(ctx, "missing", "x@example.com"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("preferences default until saved", func(t *testing.T) {
		s := newStore(t)
		id := mustCreate(t, s, newTestAccount("alice", "alice@example.com"))
		got, err := s.GetPreferences(context.Background(), id)
		if err != nil {
			t.Fatalf("get preferences: %v", err)
		}
		if diff := cmp.Diff(domain.DefaultPreferences(), got, decimalEqual, cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("unexpected defaults (-want +got):\n%s", diff)
		}
	})

	t.Run("preferences save replaces the whole set", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := mustCreate(t, s, newTestAccount("alice", "alice@example.com"))

		prefs := domain.DefaultPreferences()
		prefs.RiskTolerance = domain.RiskAggressive
		prefs.Goals = []string{"Retirement Planning", " Education ", "Education"}
		prefs.MonthlyInvestment = decimal.RequireFromString("2500.50")
		prefs.Notifications.WeeklyReports = true
		if err := s.SavePreferences(ctx, id, prefs); err != nil {
			t.Fatalf("save preferences: %v", err)
		}
		got, err := s.GetPreferences(ctx, id)
		if err != nil {
			t.Fatalf("get preferences: %v", err)
		}
		want := prefs.Normalize()
		if diff := cmp.Diff(want, got, decimalEqual, cmpopts.EquateEmpty(), cmpopts.IgnoreFields(domain.PreferenceSet{}, "UpdatedAt")); diff != "" {
			t.Fatalf("unexpected preferences (-want +got):\n%s", diff)
		}
		if got.UpdatedAt.IsZero() {
			t.Fatalf("expected UpdatedAt to be stamped")
		}

		next := domain.DefaultPreferences()
		next.Goals = nil
		next.Sectors = []string{"Energy"}
		if err := s.SavePreferences(ctx, id, next); err != nil {
			t.Fatalf("second save: %v", err)
		}
		got, err = s.GetPreferences(ctx, id)
		if err != nil {
			t.Fatalf("get preferences: %v", err)
		}
		if len(got.Goals) != 0 {
			t.Fatalf("expected goals to be cleared, got %v", got.Goals)
		}
		if diff := cmp.Diff([]string{"Energy"}, got.Sectors); diff != "" {
			t.Fatalf("unexpected sectors (-want +got):\n%s", diff)
		}
		if got.RiskTolerance != domain.RiskModerate || got.Notifications.WeeklyReports {
			t.Fatalf("expected earlier fields to be replaced: %+v", got)
		}
	})

	t.Run("invalid preferences are not stored", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := mustCreate(t, s, newTestAccount("alice", "alice@example.com"))
		prefs := domain.DefaultPreferences()
		prefs.Age = 12
		if err := s.SavePreferences(ctx, id, prefs); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
		got, err := s.GetPreferences(ctx, id)
		if err != nil {
			t.Fatalf("get preferences: %v", err)
		}
		if got.Age != 30 {
			t.Fatalf("expected defaults to remain, got age %d", got.Age)
		}
	})

	t.Run("preferences are per account", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		alice := mustCreate(t, s, newTestAccount("alice", "alice@example.com"))
		bob := mustCreate(t, s, newTestAccount("bob", "bob@example.com"))
		prefs := domain.DefaultPreferences()
		prefs.ESG = true
		if err := s.SavePreferences(ctx, alice, prefs); err != nil {
			t.Fatalf("save: %v", err)
		}
		got, err := s.GetPreferences(ctx, bob)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.ESG {
			t.Fatalf("bob must not see alice's preferences")
		}
	})

	t.Run("reminder lifecycle", func(t *testing.T) {
		clock := newTestClock()
		s := newStore(t, WithClock(clock.Now))
		ctx := context.Background()
		alice := mustCreate(t, s, newTestAccount("alice", "alice@example.com"))
		bob := mustCreate(t, s, newTestAccount("bob", "bob@example.com"))

		taxID, err := s.AddReminder(ctx, alice, domain.Reminder{
			Title:      "Pay tax",
			Type:       domain.ReminderTaxFiling,
			TargetDate: time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("add reminder: %v", err)
		}
		sipID, err := s.AddReminder(ctx, alice, domain.Reminder{
			Title:      "SIP",
			Type:       domain.ReminderSIP,
			TargetDate: time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC),
			Recurring:  true,
			Frequency:  domain.FrequencyMonthly,
		})
		if err != nil {
			t.Fatalf("add reminder: %v", err)
		}

		active, err := s.ListReminders(ctx, alice, domain.FilterActive)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if got := reminderIDs(active); !cmp.Equal(got, []string{sipID, taxID}) {
			t.Fatalf("expected reminders ordered by date, got %v", got)
		}
		if active[1].Priority != domain.PriorityMedium || active[1].Status != domain.ReminderActive {
			t.Fatalf("unexpected defaults: %+v", active[1])
		}

		if err := s.CompleteReminder(ctx, bob, taxID); !errors.Is(err, domain.ErrWrongOwner) {
			t.Fatalf("expected ErrWrongOwner, got %v", err)
		}
		if err := s.CompleteReminder(ctx, alice, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if err := s.CompleteReminder(ctx, alice, taxID); err != nil {
			t.Fatalf("complete: %v", err)
		}
		if err := s.CompleteReminder(ctx, alice, taxID); !errors.Is(err, domain.ErrAlreadyTerminal) {
			t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
		}
		if err := s.DeleteReminder(ctx, alice, taxID); !errors.Is(err, domain.ErrAlreadyTerminal) {
			t.Fatalf("expected completed reminder to resist deletion, got %v", err)
		}

		completed, err := s.ListReminders(ctx, alice, domain.FilterCompleted)
		if err != nil {
			t.Fatalf("list completed: %v", err)
		}
		if len(completed) != 1 || completed[0].ID != taxID || completed[0].CompletedAt == nil {
			t.Fatalf("unexpected completed list: %+v", completed)
		}

		if err := s.DeleteReminder(ctx, alice, sipID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := s.CompleteReminder(ctx, alice, sipID); !errors.Is(err, domain.ErrAlreadyTerminal) {
			t.Fatalf("expected deleted reminder to be terminal, got %v", err)
		}
		all, err := s.ListReminders(ctx, alice, domain.FilterAll)
		if err != nil {
			t.Fatalf("list all: %v", err)
		}
		if got := reminderIDs(all); !cmp.Equal(got, []string{taxID}) {
			t.Fatalf("deleted reminders must never be listed, got %v", got)
		}
		if other, err := s.ListReminders(ctx, bob, domain.FilterAll); err != nil || len(other) != 0 {
			t.Fatalf("bob must see nothing, got %v err=%v", other, err)
		}
	})

	t.Run("completed reminders can be deleted when allowed", func(t *testing.T) {
		s := newStore(t, WithAllowDeleteCompleted(true))
		ctx := context.Background()
		alice := mustCreate(t, s, newTestAccount("alice", "alice@example.com"))
		id, err := s.AddReminder(ctx, alice, domain.Reminder{Title: "Review", TargetDate: time.Now()})
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		if err := s.CompleteReminder(ctx, alice, id); err != nil {
			t.Fatalf("complete: %v", err)
		}
		if err := s.DeleteReminder(ctx, alice, id); err != nil {
			t.Fatalf("delete completed: %v", err)
		}
		if err := s.DeleteReminder(ctx, alice, id); !errors.Is(err, domain.ErrAlreadyTerminal) {
			t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
		}
	})

	t.Run("invalid reminders are rejected", func(t *testing.T) {
		s := newStore(t)
		alice := mustCreate(t, s, newTestAccount("alice", "alice@example.com"))
		_, err := s.AddReminder(context.Background(), alice, domain.Reminder{
			Title:      "SIP",
			TargetDate: time.Now(),
			Recurring:  true,
		})
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("upcoming window is inclusive", func(t *testing.T) {
		clock := newTestClock()
		s := newStore(t, WithClock(clock.Now))
		ctx := context.Background()
		alice := mustCreate(t, s, newTestAccount("alice", "alice@example.com"))
		today := domain.DateOf(clock.Now())

		ids := make(map[int]string)
		for _, offset := range []int{-1, 0, 3, 7, 8} {
			id, err := s.AddReminder(ctx, alice, domain.Reminder{
				Title:      "due",
				TargetDate: today.AddDate(0, 0, offset),
			})
			if err != nil {
				t.Fatalf("add offset %d: %v", offset, err)
			}
			ids[offset] = id
		}
		if err := s.CompleteReminder(ctx, alice, ids[3]); err != nil {
			t.Fatalf("complete: %v", err)
		}

		got, err := s.UpcomingReminders(ctx, alice, 7)
		if err != nil {
			t.Fatalf("upcoming: %v", err)
		}
		if diff := cmp.Diff([]string{ids[0], ids[7]}, reminderIDs(got)); diff != "" {
			t.Fatalf("unexpected upcoming (-want +got):\n%s", diff)
		}
		got, err = s.UpcomingReminders(ctx, alice, 0)
		if err != nil {
			t.Fatalf("upcoming today: %v", err)
		}
		if diff := cmp.Diff([]string{ids[0]}, reminderIDs(got)); diff != "" {
			t.Fatalf("unexpected upcoming today (-want +got):\n%s", diff)
		}
		if _, err := s.UpcomingReminders(ctx, alice, -1); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("recent turns are chronological", func(t *testing.T) {
		clock := newTestClock()
		s := newStore(t, WithClock(clock.Now))
		ctx := context.Background()
		alice := mustCreate(t, s, newTestAccount("alice", "alice@example.com"))
		bob := mustCreate(t, s, newTestAccount("bob", "bob@example.com"))

		for i, content := range []string{"q1", "a1", "q2", "a2", "q3"} {
			role := domain.RoleUser
			if i%2 == 1 {
				role = domain.RoleAssistant
			}
			if _, err := s.AppendTurn(ctx, alice, "s1", role, content); err != nil {
				t.Fatalf("append %s: %v", content, err)
			}
		}
		if _, err := s.AppendTurn(ctx, alice, "s2", domain.RoleUser, "other session"); err != nil {
			t.Fatalf("append other session: %v", err)
		}
		if _, err := s.AppendTurn(ctx, bob, "s1", domain.RoleUser, "bob"); err != nil {
			t.Fatalf("append bob: %v", err)
		}

		got, err := s.RecentTurnsInSession(ctx, alice, "s1", 3)
		if err != nil {
			t.Fatalf("recent: %v", err)
		}
		if diff := cmp.Diff([]string{"q2", "a2", "q3"}, turnContents(got)); diff != "" {
			t.Fatalf("unexpected turns (-want +got):\n%s", diff)
		}
		got, err = s.RecentTurns(ctx, alice, 2)
		if err != nil {
			t.Fatalf("recent all sessions: %v", err)
		}
		if diff := cmp.Diff([]string{"q3", "other session"}, turnContents(got)); diff != "" {
			t.Fatalf("unexpected turns (-want +got):\n%s", diff)
		}
		got, err = s.RecentTurns(ctx, alice, 0)
		if err != nil || len(got) != 0 {
			t.Fatalf("expected empty result for limit 0, got %v err=%v", got, err)
		}
		if _, err := s.AppendTurn(ctx, alice, "s1", domain.Role("system"), "x"); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected ErrValidation for role, got %v", err)
		}
	})

	t.Run("recent turns keep timestamps ordered when the clock steps back", func(t *testing.T) {
		times := []time.Time{
			time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC),
		}
		var mu sync.Mutex
		next := 0
		clock := func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			now := times[min(next, len(times)-1)]
			next++
			return now
		}
		s := newStore(t, WithClock(clock))
		ctx := context.Background()
		alice := mustCreate(t, s, newTestAccount("alice", "alice@example.com"))
		for _, content := range []string{"first", "second", "third"} {
			if _, err := s.AppendTurn(ctx, alice, "s1", domain.RoleUser, content); err != nil {
				t.Fatalf("append %s: %v", content, err)
			}
		}
		got, err := s.RecentTurnsInSession(ctx, alice, "s1", 10)
		if err != nil {
			t.Fatalf("recent: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 turns, got %d", len(got))
		}
		for i := 1; i < len(got); i++ {
			if got[i].CreatedAt.Before(got[i-1].CreatedAt) {
				t.Fatalf("turn %d at %v precedes turn %d at %v", i, got[i].CreatedAt, i-1, got[i-1].CreatedAt)
			}
		}
	})

	t.Run("anonymous identity is rejected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if _, err := s.GetPreferences(ctx, domain.Identity{}); !errors.Is(err, domain.ErrAuthenticationRequired) {
			t.Fatalf("expected ErrAuthenticationRequired, got %v", err)
		}
		if _, err := s.ListReminders(ctx, domain.Identity{}, domain.FilterAll); !errors.Is(err, domain.ErrAuthenticationRequired) {
			t.Fatalf("expected ErrAuthenticationRequired, got %v", err)
		}
		if _, err := s.AppendTurn(ctx, domain.Identity{}, "", domain.RoleUser, "hi"); !errors.Is(err, domain.ErrAuthenticationRequired) {
			t.Fatalf("expected ErrAuthenticationRequired, got %v", err)
		}
	})
}

func reminderIDs(reminders []domain.Reminder) []string {
	out := make([]string, 0, len(reminders))
	for _, r := range reminders {
		out = append(out, r.ID)
	}
	return out
}

func turnContents(turns []domain.Turn) []string {
	out := make([]string, 0, len(turns))
	for _, turn := range turns {
		out = append(out, turn.Content)
	}
	return out
}
