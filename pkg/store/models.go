package store

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// GORM models used for persistence. Accounts are the root of every cascade.
type AccountModel struct {
	ID           string     `gorm:"primaryKey;size:36"`
	Username     string     `gorm:"size:50;not null;uniqueIndex:idx_accounts_username_active,where:active = true"`
	Email        string     `gorm:"size:100;not null;uniqueIndex:idx_accounts_email_active,where:active = true"`
	PasswordHash string     `gorm:"not null"`
	Active       bool       `gorm:"not null"`
	CreatedAt    time.Time  `gorm:"not null"`
	LastLoginAt  *time.Time
	UpdatedAt    time.Time

	Preferences *PreferenceModel        `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE"`
	Reminders   []ReminderModel         `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE"`
	Turns       []ConversationTurnModel `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE"`
}

func (AccountModel) TableName() string { return "accounts" }

type PreferenceModel struct {
	AccountID             string          `gorm:"primaryKey;size:36"`
	RiskTolerance         string          `gorm:"size:20;not null"`
	Timeline              string          `gorm:"size:20;not null"`
	Goals                 datatypes.JSON
	AssetClasses          datatypes.JSON
	Sectors               datatypes.JSON
	Geographies           datatypes.JSON
	MonthlyInvestment     decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	ESG                   bool            `gorm:"not null"`
	NotifyEmail           bool            `gorm:"not null"`
	NotifyPortfolioAlerts bool            `gorm:"not null"`
	NotifyMarketNews      bool            `gorm:"not null"`
	NotifyReminders       bool            `gorm:"not null"`
	NotifyAIInsights      bool            `gorm:"not null"`
	NotifyWeeklyReports   bool            `gorm:"not null"`
	GoalNarrative         string          `gorm:"type:text"`
	Age                   int             `gorm:"not null"`
	AnnualIncome          decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	Dependents            int             `gorm:"not null"`
	DebtAmount            decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	UpdatedAt             time.Time       `gorm:"not null;autoUpdateTime:false"`
}

func (PreferenceModel) TableName() string { return "preferences" }

type ReminderModel struct {
	ID          string     `gorm:"primaryKey;size:36"`
	AccountID   string     `gorm:"size:36;not null;index:idx_reminders_account_status_date,priority:1"`
	Title       string     `gorm:"size:200;not null"`
	Type        string     `gorm:"size:50;not null"`
	Description string     `gorm:"type:text"`
	TargetDate  time.Time  `gorm:"type:date;not null;index:idx_reminders_account_status_date,priority:3"`
	Priority    string     `gorm:"size:20;not null"`
	Recurring   bool       `gorm:"not null"`
	Frequency   string     `gorm:"size:20"`
	Status      string     `gorm:"size:20;not null;index:idx_reminders_account_status_date,priority:2"`
	CreatedAt   time.Time  `gorm:"not null"`
	CompletedAt *time.Time
}

func (ReminderModel) TableName() string { return "reminders" }

type ConversationTurnModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	AccountID string    `gorm:"size:36;not null;index:idx_turns_account_session_created,priority:1"`
	SessionID string    `gorm:"size:100;not null;index:idx_turns_account_session_created,priority:2"`
	Role      string    `gorm:"size:20;not null"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;index:idx_turns_account_session_created,priority:3"`
}

func (ConversationTurnModel) TableName() string { return "conversation_turns" }
