package app

import (
	"context"

	"finboard/pkg/domain"
	"finboard/pkg/session"
)

// maxUpcomingDays bounds the upcoming window.
const maxUpcomingDays = 366

// ReminderItem is a reminder annotated for display relative to today.
type ReminderItem struct {
	domain.Reminder
	DaysUntil int            `json:"daysUntil"`
	Urgency   domain.Urgency `json:"urgency"`
}

func (a *App) annotate(reminders []domain.Reminder) []ReminderItem {
	today := a.now()
	items := make([]ReminderItem, len(reminders))
	for i, r := range reminders {
		items[i] = ReminderItem{
			Reminder:  r,
			DaysUntil: domain.DaysUntil(today, r.TargetDate),
			Urgency:   domain.UrgencyOf(r, today),
		}
	}
	return items
}

// Reminders lists the caller's reminders by target date.
func (a *App) Reminders(ctx context.Context, sess *session.Session, filter domain.ReminderFilter) ([]ReminderItem, error) {
	id, err := sess.Require()
	if err != nil {
		return nil, err
	}
	reminders, err := a.store.ListReminders(ctx, id, filter)
	if err != nil {
		return nil, err
	}
	return a.annotate(reminders), nil
}

// AddReminder validates and stores a new active reminder.
func (a *App) AddReminder(ctx context.Context, sess *session.Session, in domain.Reminder) (ReminderItem, error) {
	id, err := sess.Require()
	if err != nil {
		return ReminderItem{}, err
	}
	reminder, err := domain.NewReminder(in)
	if err != nil {
		return ReminderItem{}, err
	}
	reminderID, err := a.store.AddReminder(ctx, id, reminder)
	if err != nil {
		return ReminderItem{}, err
	}
	active, err := a.store.ListReminders(ctx, id, domain.FilterActive)
	if err != nil {
		return ReminderItem{}, err
	}
	for _, r := range active {
		if r.ID == reminderID {
			return a.annotate([]domain.Reminder{r})[0], nil
		}
	}
	reminder.ID = reminderID
	reminder.CreatedAt = a.now()
	return a.annotate([]domain.Reminder{reminder})[0], nil
}

func (a *App) CompleteReminder(ctx context.Context, sess *session.Session, reminderID string) error {
	id, err := sess.Require()
	if err != nil {
		return err
	}
	return a.store.CompleteReminder(ctx, id, reminderID)
}

func (a *App) DeleteReminder(ctx context.Context, sess *session.Session, reminderID string) error {
	id, err := sess.Require()
	if err != nil {
		return err
	}
	return a.store.DeleteReminder(ctx, id, reminderID)
}

// UpcomingDays is the window used when a caller does not pick one.
func (a *App) UpcomingDays() int {
	return a.upcomingDays
}

// UpcomingReminders returns active reminders due within days, inclusive of
// today and the last day. Zero selects reminders due today.
func (a *App) UpcomingReminders(ctx context.Context, sess *session.Session, days int) ([]ReminderItem, error) {
	id, err := sess.Require()
	if err != nil {
		return nil, err
	}
	if days > maxUpcomingDays {
		return nil, domain.Invalid("days", "must be at most 366")
	}
	reminders, err := a.store.UpcomingReminders(ctx, id, days)
	if err != nil {
		return nil, err
	}
	return a.annotate(reminders), nil
}

// SuggestedReminders returns the recurring reminders offered to new users.
func (a *App) SuggestedReminders() []domain.Reminder {
	return domain.SuggestedReminders()
}
