package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type RiskTolerance string

const (
	RiskVeryConservative RiskTolerance = "Very Conservative"
	RiskConservative     RiskTolerance = "Conservative"
	RiskModerate         RiskTolerance = "Moderate"
	RiskAggressive       RiskTolerance = "Aggressive"
	RiskVeryAggressive   RiskTolerance = "Very Aggressive"
)

// RiskLevels lists risk tolerances from lowest to highest.
var RiskLevels = []RiskTolerance{
	RiskVeryConservative, RiskConservative, RiskModerate, RiskAggressive, RiskVeryAggressive,
}

// Level returns the 1-based rank of r, or 0 when r is unknown.
func (r RiskTolerance) Level() int {
	return slices.Index(RiskLevels, r) + 1
}

type Timeline string

const (
	TimelineUnderOneYear Timeline = "Less than 1 year"
	TimelineOneToThree   Timeline = "1-3 years"
	TimelineThreeToFive  Timeline = "3-5 years"
	TimelineFiveToTen    Timeline = "5-10 years"
	TimelineOverTenYears Timeline = "10+ years"
)

// Timelines lists investment horizons from shortest to longest.
var Timelines = []Timeline{
	TimelineUnderOneYear, TimelineOneToThree, TimelineThreeToFive, TimelineFiveToTen, TimelineOverTenYears,
}

// Level returns the 1-based rank of t, or 0 when t is unknown.
func (t Timeline) Level() int {
	return slices.Index(Timelines, t) + 1
}

// Notifications holds the six independent notification toggles.
type Notifications struct {
	Email           bool `json:"email"`
	PortfolioAlerts bool `json:"portfolioAlerts"`
	MarketNews      bool `json:"marketNews"`
	Reminders       bool `json:"reminders"`
	AIInsights      bool `json:"aiInsights"`
	WeeklyReports   bool `json:"weeklyReports"`
}

// PreferenceSet is the per-account investment profile. Saving one replaces
// the stored set entirely.
type PreferenceSet struct {
	RiskTolerance     RiskTolerance   `json:"riskTolerance"`
	Timeline          Timeline        `json:"timeline"`
	Goals             []string        `json:"goals"`
	AssetClasses      []string        `json:"assetClasses"`
	Sectors           []string        `json:"sectors"`
	Geographies       []string        `json:"geographies"`
	MonthlyInvestment decimal.Decimal `json:"monthlyInvestment"`
	ESG               bool            `json:"esg"`
	Notifications     Notifications   `json:"notifications"`
	GoalNarrative     string          `json:"goalNarrative"`
	Age               int             `json:"age"`
	AnnualIncome      decimal.Decimal `json:"annualIncome"`
	Dependents        int             `json:"dependents"`
	DebtAmount        decimal.Decimal `json:"debtAmount"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// MaxAmount is the largest amount a numeric(14,2) column holds.
var MaxAmount = decimal.RequireFromString("999999999999.99")

const (
	MinAge              = 18
	maxGoalNarrativeLen = 4000
	maxTagLen           = 64
)

// DefaultPreferences returns the set reported for accounts that never saved
// preferences, and the value every omitted form field falls back to.
func DefaultPreferences() PreferenceSet {
	return PreferenceSet{
		RiskTolerance:     RiskModerate,
		Timeline:          TimelineFiveToTen,
		Goals:             []string{"Retirement Planning", "Wealth Building"},
		AssetClasses:      []string{"ETFs", "Stocks"},
		Sectors:           []string{"Healthcare", "Technology"},
		Geographies:       []string{"US Domestic"},
		MonthlyInvestment: decimal.NewFromInt(1000),
		Notifications: Notifications{
			Email:           true,
			PortfolioAlerts: true,
			MarketNews:      true,
			Reminders:       true,
			AIInsights:      true,
		},
		Age:          30,
		AnnualIncome: decimal.NewFromInt(75000),
		DebtAmount:   decimal.Zero,
	}
}

// Normalize trims text, rounds amounts to cents and turns every tag list
// into a sorted set.
func (p PreferenceSet) Normalize() PreferenceSet {
	p.Goals = tagSet(p.Goals)
	p.AssetClasses = tagSet(p.AssetClasses)
	p.Sectors = tagSet(p.Sectors)
	p.Geographies = tagSet(p.Geographies)
	p.GoalNarrative = strings.TrimSpace(p.GoalNarrative)
	p.MonthlyInvestment = p.MonthlyInvestment.Round(2)
	p.AnnualIncome = p.AnnualIncome.Round(2)
	p.DebtAmount = p.DebtAmount.Round(2)
	return p
}

// Validate checks enum membership and numeric bounds.
func (p PreferenceSet) Validate() error {
	if p.RiskTolerance.Level() == 0 {
		return Invalid("riskTolerance", fmt.Sprintf("must be one of %v", RiskLevels))
	}
	if p.Timeline.Level() == 0 {
		return Invalid("timeline", fmt.Sprintf("must be one of %v", Timelines))
	}
	if err := validateAmount("monthlyInvestment", p.MonthlyInvestment); err != nil {
		return err
	}
	if p.Age < MinAge {
		return Invalid("age", fmt.Sprintf("must be at least %d", MinAge))
	}
	if err := validateAmount("annualIncome", p.AnnualIncome); err != nil {
		return err
	}
	if p.Dependents < 0 {
		return Invalid("dependents", "must not be negative")
	}
	if err := validateAmount("debtAmount", p.DebtAmount); err != nil {
		return err
	}
	if len(p.GoalNarrative) > maxGoalNarrativeLen {
		return Invalid("goalNarrative", fmt.Sprintf("must be at most %d characters", maxGoalNarrativeLen))
	}
	for field, tags := range map[string][]string{
		"goals":        p.Goals,
		"assetClasses": p.AssetClasses,
		"sectors":      p.Sectors,
		"geographies":  p.Geographies,
	} {
		for _, tag := range tags {
			if len(tag) > maxTagLen {
				return Invalid(field, fmt.Sprintf("tags must be at most %d characters", maxTagLen))
			}
		}
	}
	return nil
}

func validateAmount(field string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return Invalid(field, "must not be negative")
	}
	if amount.GreaterThan(MaxAmount) {
		return Invalid(field, "must be at most "+MaxAmount.String())
	}
	return nil
}

func tagSet(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			out = append(out, tag)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// PreferenceForm carries raw form values. A nil field was omitted by the
// caller and resets to its default on Build.
type PreferenceForm struct {
	RiskTolerance     *string           `json:"riskTolerance"`
	Timeline          *string           `json:"timeline"`
	Goals             *[]string         `json:"goals"`
	AssetClasses      *[]string         `json:"assetClasses"`
	Sectors           *[]string         `json:"sectors"`
	Geographies       *[]string         `json:"geographies"`
	MonthlyInvestment *decimal.Decimal  `json:"monthlyInvestment"`
	ESG               *bool             `json:"esg"`
	Notifications     *NotificationForm `json:"notifications"`
	GoalNarrative     *string           `json:"goalNarrative"`
	Age               *int              `json:"age"`
	AnnualIncome      *decimal.Decimal  `json:"annualIncome"`
	Dependents        *int              `json:"dependents"`
	DebtAmount        *decimal.Decimal  `json:"debtAmount"`
}

// NotificationForm is the form shape of Notifications.
type NotificationForm struct {
	Email           *bool `json:"email"`
	PortfolioAlerts *bool `json:"portfolioAlerts"`
	MarketNews      *bool `json:"marketNews"`
	Reminders       *bool `json:"reminders"`
	AIInsights      *bool `json:"aiInsights"`
	WeeklyReports   *bool `json:"weeklyReports"`
}

// Build produces a validated, normalized PreferenceSet. Omitted fields take
// their default; nothing is merged from a previously saved set.
func (f PreferenceForm) Build() (PreferenceSet, error) {
	p := DefaultPreferences()
	if f.RiskTolerance != nil {
		p.RiskTolerance = RiskTolerance(strings.TrimSpace(*f.RiskTolerance))
	}
	if f.Timeline != nil {
		p.Timeline = Timeline(strings.TrimSpace(*f.Timeline))
	}
	if f.Goals != nil {
		p.Goals = *f.Goals
	}
	if f.AssetClasses != nil {
		p.AssetClasses = *f.AssetClasses
	}
	if f.Sectors != nil {
		p.Sectors = *f.Sectors
	}
	if f.Geographies != nil {
		p.Geographies = *f.Geographies
	}
	if f.MonthlyInvestment != nil {
		p.MonthlyInvestment = *f.MonthlyInvestment
	}
	if f.ESG != nil {
		p.ESG = *f.ESG
	}
	if n := f.Notifications; n != nil {
		p.Notifications = Notifications{
			Email:           boolOr(n.Email, p.Notifications.Email),
			PortfolioAlerts: boolOr(n.PortfolioAlerts, p.Notifications.PortfolioAlerts),
			MarketNews:      boolOr(n.MarketNews, p.Notifications.MarketNews),
			Reminders:       boolOr(n.Reminders, p.Notifications.Reminders),
			AIInsights:      boolOr(n.AIInsights, p.Notifications.AIInsights),
			WeeklyReports:   boolOr(n.WeeklyReports, p.Notifications.WeeklyReports),
		}
	}
	if f.GoalNarrative != nil {
		p.GoalNarrative = *f.GoalNarrative
	}
	if f.Age != nil {
		p.Age = *f.Age
	}
	if f.AnnualIncome != nil {
		p.AnnualIncome = *f.AnnualIncome
	}
	if f.Dependents != nil {
		p.Dependents = *f.Dependents
	}
	if f.DebtAmount != nil {
		p.DebtAmount = *f.DebtAmount
	}
	p = p.Normalize()
	if err := p.Validate(); err != nil {
		return PreferenceSet{}, err
	}
	return p, nil
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
