package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"finboard/pkg/domain"
)

const migrateLockID int64 = 51725172

// GormStore implements Store using GORM. Postgres in production, SQLite in tests.
type GormStore struct {
	db   *gorm.DB
	opts Options
}

// NewGormStore opens a Postgres database and runs auto-migrations.
func NewGormStore(dsn string, options ...Option) (*GormStore, error) {
	return NewGormStoreWithDialector(postgres.Open(dsn), options...)
}

// NewGormStoreWithDialector opens the given dialector and runs auto-migrations.
func NewGormStoreWithDialector(dialector gorm.Dialector, options ...Option) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&AccountModel{}, &PreferenceModel{}, &ReminderModel{}, &ConversationTurnModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, opts: buildOptions(options)}, nil
}

// withMigrationLock serializes migrations across replicas. Only Postgres
// supports advisory locks; other dialects migrate directly.
func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	if db.Dialector.Name() != "postgres" {
		return fn(db)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Ping checks the database connection.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return domain.Persistence("ping", err)
	}
	return domain.Persistence("ping", sqlDB.PingContext(ctx))
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateAccount inserts an account. Active usernames and emails are guarded by
// partial unique indexes; under the strict policy inactive accounts are also
// checked inside the same transaction.
func (s *GormStore) CreateAccount(ctx context.Context, account domain.Account) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.opts.ReusePolicy == domain.ReuseStrict {
			var count int64
			if err := tx.Model(&AccountModel{}).
				Where("username = ? OR email = ?", account.Username, account.Email).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return domain.ErrAlreadyExists
			}
		}
		model := accountToModel(account)
		if err := tx.Create(&model).Error; err != nil {
			if isUniqueViolation(err) {
				return domain.ErrAlreadyExists
			}
			return err
		}
		return nil
	})
	if errors.Is(err, domain.ErrAlreadyExists) {
		return err
	}
	return domain.Persistence("create account", err)
}

// GetAccountByID returns an account regardless of its active flag.
func (s *GormStore) GetAccountByID(ctx context.Context, id string) (domain.Account, bool, error) {
	var model AccountModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Account{}, false, nil
		}
		return domain.Account{}, false, domain.Persistence("get account", err)
	}
	return accountFromModel(model), true, nil
}

// GetActiveAccountByUsername looks up the active account holding username.
func (s *GormStore) GetActiveAccountByUsername(ctx context.Context, username string) (domain.Account, bool, error) {
	var model AccountModel
	if err := s.db.WithContext(ctx).
		Where("username = ? AND active = ?", username, true).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Account{}, false, nil
		}
		return domain.Account{}, false, domain.Persistence("get account by username", err)
	}
	return accountFromModel(model), true, nil
}

// TouchLastLogin records a successful authentication.
func (s *GormStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&AccountModel{}).
		Where("id = ?", id).
		Update("last_login_at", at.UTC()).Error
	return domain.Persistence("touch last login", err)
}

// UpdateEmail changes the email of an active account.
func (s *GormStore) UpdateEmail(ctx context.Context, id, email string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.opts.ReusePolicy == domain.ReuseStrict {
			var count int64
			if err := tx.Model(&AccountModel{}).
				Where("email = ? AND id <> ?", email, id).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return domain.ErrAlreadyExists
			}
		}
		res := tx.Model(&AccountModel{}).
			Where("id = ? AND active = ?", id, true).
			Update("email", email)
		if res.Error != nil {
			if isUniqueViolation(res.Error) {
				return domain.ErrAlreadyExists
			}
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
	if errors.Is(err, domain.ErrAlreadyExists) || errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return domain.Persistence("update email", err)
}

// UpdatePasswordHash replaces the stored hash of an active account.
func (s *GormStore) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	res := s.db.WithContext(ctx).Model(&AccountModel{}).
		Where("id = ? AND active = ?", id, true).
		Update("password_hash", passwordHash)
	if res.Error != nil {
		return domain.Persistence("update password", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Deactivate soft-deletes an account. Deactivating twice is a no-op.
func (s *GormStore) Deactivate(ctx context.Context, id string) error {
	db := s.db.WithContext(ctx)
	res := db.Model(&AccountModel{}).
		Where("id = ? AND active = ?", id, true).
		Update("active", false)
	if res.Error != nil {
		return domain.Persistence("deactivate account", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var count int64
	if err := db.Model(&AccountModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return domain.Persistence("deactivate account", err)
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetPreferences returns the saved set or the defaults.
func (s *GormStore) GetPreferences(ctx context.Context, id domain.Identity) (domain.PreferenceSet, error) {
	if err := requireIdentity(id); err != nil {
		return domain.PreferenceSet{}, err
	}
	var model PreferenceModel
	if err := s.db.WithContext(ctx).First(&model, "account_id = ?", id.AccountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.DefaultPreferences(), nil
		}
		return domain.PreferenceSet{}, domain.Persistence("get preferences", err)
	}
	prefs, err := preferencesFromModel(model)
	if err != nil {
		return domain.PreferenceSet{}, domain.Persistence("decode preferences", err)
	}
	return prefs, nil
}

// SavePreferences upserts the whole set keyed by account.
func (s *GormStore) SavePreferences(ctx context.Context, id domain.Identity, prefs domain.PreferenceSet) error {
	if err := requireIdentity(id); err != nil {
		return err
	}
	prefs = prefs.Normalize()
	if err := prefs.Validate(); err != nil {
		return err
	}
	prefs.UpdatedAt = s.opts.Now().UTC()
	model, err := preferencesToModel(id.AccountID, prefs)
	if err != nil {
		return domain.Persistence("encode preferences", err)
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		UpdateAll: true,
	}).Create(&model).Error
	return domain.Persistence("save preferences", err)
}

// ListReminders returns reminders matching filter ordered by target date.
func (s *GormStore) ListReminders(ctx context.Context, id domain.Identity, filter domain.ReminderFilter) ([]domain.Reminder, error) {
	if err := requireIdentity(id); err != nil {
		return nil, err
	}
	var models []ReminderModel
	if err := s.db.WithContext(ctx).
		Where("account_id = ? AND status IN ?", id.AccountID, statusStrings(filter.Statuses())).
		Order("target_date ASC, created_at ASC").
		Find(&models).Error; err != nil {
		return nil, domain.Persistence("list reminders", err)
	}
	return remindersFromModels(models), nil
}

// AddReminder validates and stores a new active reminder.
func (s *GormStore) AddReminder(ctx context.Context, id domain.Identity, reminder domain.Reminder) (string, error) {
	if err := requireIdentity(id); err != nil {
		return "", err
	}
	r, err := domain.NewReminder(reminder)
	if err != nil {
		return "", err
	}
	r.ID = uuid.NewString()
	r.AccountID = id.AccountID
	r.CreatedAt = s.opts.Now().UTC()
	model := reminderToModel(r)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return "", domain.Persistence("add reminder", err)
	}
	return r.ID, nil
}

// CompleteReminder moves an active reminder to completed.
func (s *GormStore) CompleteReminder(ctx context.Context, id domain.Identity, reminderID string) error {
	return s.transition(ctx, id, reminderID, domain.ReminderCompleted, []domain.ReminderStatus{domain.ReminderActive})
}

// DeleteReminder soft-deletes a reminder.
func (s *GormStore) DeleteReminder(ctx context.Context, id domain.Identity, reminderID string) error {
	return s.transition(ctx, id, reminderID, domain.ReminderDeleted, s.opts.deletableFrom())
}

// transition applies a conditional status update. When no row matched, a
// follow-up read tells apart missing, foreign and terminal reminders.
func (s *GormStore) transition(ctx context.Context, id domain.Identity, reminderID string, to domain.ReminderStatus, from []domain.ReminderStatus) error {
	if err := requireIdentity(id); err != nil {
		return err
	}
	db := s.db.WithContext(ctx)
	res := db.Model(&ReminderModel{}).
		Where("id = ? AND account_id = ? AND status IN ?", reminderID, id.AccountID, statusStrings(from)).
		Updates(map[string]any{
			"status":       string(to),
			"completed_at": gorm.Expr("COALESCE(completed_at, ?)", s.opts.Now().UTC()),
		})
	if res.Error != nil {
		return domain.Persistence("update reminder", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var model ReminderModel
	if err := db.Select("account_id", "status").First(&model, "id = ?", reminderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		return domain.Persistence("get reminder", err)
	}
	if model.AccountID != id.AccountID {
		return domain.ErrWrongOwner
	}
	return domain.ErrAlreadyTerminal
}

// UpcomingReminders returns active reminders due between today and today+withinDays.
func (s *GormStore) UpcomingReminders(ctx context.Context, id domain.Identity, withinDays int) ([]domain.Reminder, error) {
	if err := requireIdentity(id); err != nil {
		return nil, err
	}
	if withinDays < 0 {
		return nil, domain.Invalid("days", "must not be negative")
	}
	today := domain.DateOf(s.opts.Now())
	until := today.AddDate(0, 0, withinDays)
	var models []ReminderModel
	if err := s.db.WithContext(ctx).
		Where("account_id = ? AND status = ? AND target_date >= ? AND target_date <= ?",
			id.AccountID, string(domain.ReminderActive), today, until).
		Order("target_date ASC, created_at ASC").
		Find(&models).Error; err != nil {
		return nil, domain.Persistence("upcoming reminders", err)
	}
	return remindersFromModels(models), nil
}

// AppendTurn stores one chat turn and returns its sequence id.
func (s *GormStore) AppendTurn(ctx context.Context, id domain.Identity, sessionID string, role domain.Role, content string) (int64, error) {
	if err := requireIdentity(id); err != nil {
		return 0, err
	}
	sessionID, err := normalizeSessionID(sessionID)
	if err != nil {
		return 0, err
	}
	if err := validateTurn(role, content); err != nil {
		return 0, err
	}
	model := ConversationTurnModel{
		AccountID: id.AccountID,
		SessionID: sessionID,
		Role:      string(role),
		Content:   content,
		CreatedAt: s.opts.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return 0, domain.Persistence("append turn", err)
	}
	return model.ID, nil
}

// RecentTurns returns the latest turns across all sessions, oldest first.
func (s *GormStore) RecentTurns(ctx context.Context, id domain.Identity, limit int) ([]domain.Turn, error) {
	if err := requireIdentity(id); err != nil {
		return nil, err
	}
	return s.recentTurns(ctx, limit, "account_id = ?", id.AccountID)
}

// RecentTurnsInSession is RecentTurns restricted to one chat session.
func (s *GormStore) RecentTurnsInSession(ctx context.Context, id domain.Identity, sessionID string, limit int) ([]domain.Turn, error) {
	if err := requireIdentity(id); err != nil {
		return nil, err
	}
	sessionID, err := normalizeSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	return s.recentTurns(ctx, limit, "account_id = ? AND session_id = ?", id.AccountID, sessionID)
}

func (s *GormStore) recentTurns(ctx context.Context, limit int, query string, args ...any) ([]domain.Turn, error) {
	if limit <= 0 {
		return []domain.Turn{}, nil
	}
	var models []ConversationTurnModel
	if err := s.db.WithContext(ctx).
		Where(query, args...).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, domain.Persistence("recent turns", err)
	}
	res := make([]domain.Turn, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		res = append(res, turnFromModel(models[i]))
	}
	return res, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

func statusStrings(statuses []domain.ReminderStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, status := range statuses {
		out = append(out, string(status))
	}
	return out
}

func accountToModel(a domain.Account) AccountModel {
	return AccountModel{
		ID:           a.ID,
		Username:     a.Username,
		Email:        a.Email,
		PasswordHash: a.PasswordHash,
		Active:       a.Active,
		CreatedAt:    a.CreatedAt,
		LastLoginAt:  a.LastLoginAt,
		UpdatedAt:    a.CreatedAt,
	}
}

func accountFromModel(m AccountModel) domain.Account {
	return domain.Account{
		ID:           m.ID,
		Username:     m.Username,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		LastLoginAt:  m.LastLoginAt,
		Active:       m.Active,
	}
}

func preferencesToModel(accountID string, p domain.PreferenceSet) (PreferenceModel, error) {
	tags := make([]datatypes.JSON, 4)
	for i, set := range [][]string{p.Goals, p.AssetClasses, p.Sectors, p.Geographies} {
		if set == nil {
			set = []string{}
		}
		raw, err := json.Marshal(set)
		if err != nil {
			return PreferenceModel{}, err
		}
		tags[i] = datatypes.JSON(raw)
	}
	return PreferenceModel{
		AccountID:             accountID,
		RiskTolerance:         string(p.RiskTolerance),
		Timeline:              string(p.Timeline),
		Goals:                 tags[0],
		AssetClasses:          tags[1],
		Sectors:               tags[2],
		Geographies:           tags[3],
		MonthlyInvestment:     p.MonthlyInvestment,
		ESG:                   p.ESG,
		NotifyEmail:           p.Notifications.Email,
		NotifyPortfolioAlerts: p.Notifications.PortfolioAlerts,
		NotifyMarketNews:      p.Notifications.MarketNews,
		NotifyReminders:       p.Notifications.Reminders,
		NotifyAIInsights:      p.Notifications.AIInsights,
		NotifyWeeklyReports:   p.Notifications.WeeklyReports,
		GoalNarrative:         p.GoalNarrative,
		Age:                   p.Age,
		AnnualIncome:          p.AnnualIncome,
		Dependents:            p.Dependents,
		DebtAmount:            p.DebtAmount,
		UpdatedAt:             p.UpdatedAt,
	}, nil
}

func preferencesFromModel(m PreferenceModel) (domain.PreferenceSet, error) {
	p := domain.PreferenceSet{
		RiskTolerance:     domain.RiskTolerance(m.RiskTolerance),
		Timeline:          domain.Timeline(m.Timeline),
		MonthlyInvestment: m.MonthlyInvestment,
		ESG:               m.ESG,
		Notifications: domain.Notifications{
			Email:           m.NotifyEmail,
			PortfolioAlerts: m.NotifyPortfolioAlerts,
			MarketNews:      m.NotifyMarketNews,
			Reminders:       m.NotifyReminders,
			AIInsights:      m.NotifyAIInsights,
			WeeklyReports:   m.NotifyWeeklyReports,
		},
		GoalNarrative: m.GoalNarrative,
		Age:           m.Age,
		AnnualIncome:  m.AnnualIncome,
		Dependents:    m.Dependents,
		DebtAmount:    m.DebtAmount,
		UpdatedAt:     m.UpdatedAt,
	}
	for _, field := range []struct {
		raw datatypes.JSON
		dst *[]string
	}{
		{m.Goals, &p.Goals},
		{m.AssetClasses, &p.AssetClasses},
		{m.Sectors, &p.Sectors},
		{m.Geographies, &p.Geographies},
	} {
		set := []string{}
		if len(field.raw) > 0 {
			if err := json.Unmarshal(field.raw, &set); err != nil {
				return domain.PreferenceSet{}, err
			}
		}
		*field.dst = set
	}
	return p, nil
}

func reminderToModel(r domain.Reminder) ReminderModel {
	return ReminderModel{
		ID:          r.ID,
		AccountID:   r.AccountID,
		Title:       r.Title,
		Type:        string(r.Type),
		Description: r.Description,
		TargetDate:  domain.DateOf(r.TargetDate),
		Priority:    string(r.Priority),
		Recurring:   r.Recurring,
		Frequency:   string(r.Frequency),
		Status:      string(r.Status),
		CreatedAt:   r.CreatedAt,
		CompletedAt: r.CompletedAt,
	}
}

func reminderFromModel(m ReminderModel) domain.Reminder {
	return domain.Reminder{
		ID:          m.ID,
		AccountID:   m.AccountID,
		Title:       m.Title,
		Type:        domain.ReminderType(m.Type),
		Description: m.Description,
		TargetDate:  domain.DateOf(m.TargetDate),
		Priority:    domain.Priority(m.Priority),
		Recurring:   m.Recurring,
		Frequency:   domain.Frequency(m.Frequency),
		Status:      domain.ReminderStatus(m.Status),
		CreatedAt:   m.CreatedAt,
		CompletedAt: m.CompletedAt,
	}
}

func remindersFromModels(models []ReminderModel) []domain.Reminder {
	res := make([]domain.Reminder, 0, len(models))
	for _, m := range models {
		res = append(res, reminderFromModel(m))
	}
	return res
}

func turnFromModel(m ConversationTurnModel) domain.Turn {
	return domain.Turn{
		ID:        m.ID,
		AccountID: m.AccountID,
		SessionID: m.SessionID,
		Role:      domain.Role(m.Role),
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

var _ Store = (*GormStore)(nil)
