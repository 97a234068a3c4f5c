package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

type ReminderType string

const (
	ReminderSIP                ReminderType = "SIP Investment"
	ReminderTaxFiling          ReminderType = "Tax Filing"
	ReminderPortfolioReview    ReminderType = "Portfolio Review"
	ReminderBillPayment        ReminderType = "Bill Payment"
	ReminderInsurancePremium   ReminderType = "Insurance Premium"
	ReminderLoanEMI            ReminderType = "Loan EMI"
	ReminderInvestmentMaturity ReminderType = "Investment Maturity"
	ReminderCustom             ReminderType = "Custom"
)

var ReminderTypes = []ReminderType{
	ReminderSIP, ReminderTaxFiling, ReminderPortfolioReview, ReminderBillPayment,
	ReminderInsurancePremium, ReminderLoanEMI, ReminderInvestmentMaturity, ReminderCustom,
}

type Priority string

const (
	PriorityLow      Priority = "Low"
	PriorityMedium   Priority = "Medium"
	PriorityHigh     Priority = "High"
	PriorityCritical Priority = "Critical"
)

// Priorities lists priorities from lowest to highest.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

// Level returns the 1-based rank of p, or 0 when p is unknown.
func (p Priority) Level() int {
	return slices.Index(Priorities, p) + 1
}

type Frequency string

const (
	FrequencyDaily     Frequency = "Daily"
	FrequencyWeekly    Frequency = "Weekly"
	FrequencyMonthly   Frequency = "Monthly"
	FrequencyQuarterly Frequency = "Quarterly"
	FrequencyYearly    Frequency = "Yearly"
)

var Frequencies = []Frequency{
	FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly, FrequencyYearly,
}

type ReminderStatus string

const (
	ReminderActive    ReminderStatus = "Active"
	ReminderCompleted ReminderStatus = "Completed"
	ReminderDeleted   ReminderStatus = "Deleted"
)

// Terminal reports whether no further transition leaves s.
func (s ReminderStatus) Terminal() bool {
	return s == ReminderCompleted || s == ReminderDeleted
}

// ReminderFilter selects which reminders a listing returns.
type ReminderFilter string

const (
	FilterActive    ReminderFilter = "active"
	FilterCompleted ReminderFilter = "completed"
	// FilterAll returns active and completed reminders. Deleted ones are
	// never listed.
	FilterAll ReminderFilter = "all"
)

// ParseReminderFilter maps a query value to a filter. Empty means active.
func ParseReminderFilter(raw string) (ReminderFilter, error) {
	switch ReminderFilter(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FilterActive:
		return FilterActive, nil
	case FilterCompleted:
		return FilterCompleted, nil
	case FilterAll:
		return FilterAll, nil
	default:
		return "", Invalid("status", "must be active, completed or all")
	}
}

// Statuses returns the statuses selected by f.
func (f ReminderFilter) Statuses() []ReminderStatus {
	switch f {
	case FilterCompleted:
		return []ReminderStatus{ReminderCompleted}
	case FilterAll:
		return []ReminderStatus{ReminderActive, ReminderCompleted}
	default:
		return []ReminderStatus{ReminderActive}
	}
}

// Reminder is a dated, optionally recurring, per-account reminder.
type Reminder struct {
	ID          string         `json:"id"`
	AccountID   string         `json:"-"`
	Title       string         `json:"title"`
	Type        ReminderType   `json:"type"`
	Description string         `json:"description"`
	TargetDate  time.Time      `json:"targetDate"`
	Priority    Priority       `json:"priority"`
	Recurring   bool           `json:"recurring"`
	Frequency   Frequency      `json:"frequency,omitempty"`
	Status      ReminderStatus `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

const maxTitleLen = 200

// NewReminder validates input and returns an Active reminder ready to be
// stored. Priority defaults to Medium and Type to Custom; the frequency of a
// one-time reminder is dropped.
func NewReminder(in Reminder) (Reminder, error) {
	r := Reminder{
		Title:       strings.TrimSpace(in.Title),
		Type:        in.Type,
		Description: strings.TrimSpace(in.Description),
		TargetDate:  DateOf(in.TargetDate),
		Priority:    in.Priority,
		Recurring:   in.Recurring,
		Frequency:   in.Frequency,
		Status:      ReminderActive,
	}
	if r.Type == "" {
		r.Type = ReminderCustom
	}
	if r.Priority == "" {
		r.Priority = PriorityMedium
	}
	if !r.Recurring {
		r.Frequency = ""
	}
	if err := r.validate(in.TargetDate); err != nil {
		return Reminder{}, err
	}
	return r, nil
}

func (r Reminder) validate(rawDate time.Time) error {
	if r.Title == "" {
		return Invalid("title", "is required")
	}
	if len(r.Title) > maxTitleLen {
		return Invalid("title", fmt.Sprintf("must be at most %d characters", maxTitleLen))
	}
	if !slices.Contains(ReminderTypes, r.Type) {
		return Invalid("type", fmt.Sprintf("must be one of %v", ReminderTypes))
	}
	if r.Priority.Level() == 0 {
		return Invalid("priority", fmt.Sprintf("must be one of %v", Priorities))
	}
	if rawDate.IsZero() {
		return Invalid("targetDate", "is required")
	}
	if r.Recurring {
		if r.Frequency == "" {
			return Invalid("frequency", "is required for recurring reminders")
		}
		if !slices.Contains(Frequencies, r.Frequency) {
			return Invalid("frequency", fmt.Sprintf("must be one of %v", Frequencies))
		}
	}
	return nil
}

// DateOf truncates t to its calendar date, expressed as UTC midnight.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysUntil returns the number of calendar days from today to target.
func DaysUntil(today, target time.Time) int {
	return int(DateOf(target).Sub(DateOf(today)).Hours() / 24)
}

type Urgency string

const (
	UrgencyCritical Urgency = "critical"
	UrgencyWarning  Urgency = "warning"
	UrgencyNormal   Urgency = "normal"
)

// UrgencyOf buckets a reminder: due today, tomorrow or overdue is critical,
// within a week is a warning, anything later is normal.
func UrgencyOf(r Reminder, today time.Time) Urgency {
	switch days := DaysUntil(today, r.TargetDate); {
	case days <= 1:
		return UrgencyCritical
	case days <= 7:
		return UrgencyWarning
	default:
		return UrgencyNormal
	}
}

// SuggestedReminders are the recurring reminders offered to new users.
func SuggestedReminders() []Reminder {
	return []Reminder{
		{
			Title:       "Monthly SIP Investment",
			Type:        ReminderSIP,
			Description: "Monthly systematic investment plan contribution",
			Priority:    PriorityMedium,
			Recurring:   true,
			Frequency:   FrequencyMonthly,
		},
		{
			Title:       "Quarterly Portfolio Review",
			Type:        ReminderPortfolioReview,
			Description: "Review and rebalance portfolio allocation",
			Priority:    PriorityMedium,
			Recurring:   true,
			Frequency:   FrequencyQuarterly,
		},
		{
			Title:       "Annual Tax Filing",
			Type:        ReminderTaxFiling,
			Description: "Complete annual tax return filing",
			Priority:    PriorityHigh,
			Recurring:   true,
			Frequency:   FrequencyYearly,
		},
		{
			Title:       "Emergency Fund Check",
			Type:        ReminderPortfolioReview,
			Description: "Review emergency fund adequacy",
			Priority:    PriorityMedium,
			Recurring:   true,
			Frequency:   FrequencyMonthly,
		},
	}
}
