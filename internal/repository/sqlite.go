package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/agmm7834/MyNetBoot-v2/internal/model"
)

// accountRow is the SQLite layout of the accounts table.
type accountRow struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Surname   string `gorm:"size:64;not null;check:chk_accounts_surname,length(surname) >= 5"`
	GivenName string `gorm:"size:64;not null;check:chk_accounts_given_name,length(given_name) >= 3"`
	Phone     string `gorm:"size:9;not null;uniqueIndex;check:chk_accounts_phone,length(phone) = 9 AND phone NOT GLOB '*[^0-9]*'"`
	Password  string `gorm:"size:128;not null;check:chk_accounts_password,length(password) >= 3"`
	Balance   int64  `gorm:"not null;default:0;check:chk_accounts_balance,balance >= 0"`
	Status    string `gorm:"size:16;not null;default:blocked;check:chk_accounts_status,status IN ('blocked','active')"`
}

func (accountRow) TableName() string { return "accounts" }

func (r *accountRow) toModel() *model.Account {
	return &model.Account{
		ID:        r.ID,
		Surname:   r.Surname,
		GivenName: r.GivenName,
		Phone:     r.Phone,
		Password:  r.Password,
		Balance:   r.Balance,
		Status:    model.AccountStatus(r.Status),
	}
}

// sessionRow is the SQLite layout of the session_records table. Times are
// ISO-8601 text.
type sessionRow struct {
	ID              int64      `gorm:"primaryKey;autoIncrement"`
	AccountID       int64      `gorm:"not null;index"`
	Account         accountRow `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE"`
	Surname         string     `gorm:"size:64;not null"`
	GivenName       string     `gorm:"size:64;not null"`
	Phone           string     `gorm:"size:9;not null"`
	BalanceConsumed int64      `gorm:"not null"`
	StartTime       string     `gorm:"not null"`
	EndTime         string     `gorm:"not null"`
	ElapsedMinutes  int        `gorm:"not null"`
}

func (sessionRow) TableName() string { return "session_records" }

// isoTime is fixed-width so that text order matches time order.
const isoTime = "2006-01-02T15:04:05.000Z07:00"

// MigrateSQLite creates or updates the SQLite schema.
func MigrateSQLite(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(&accountRow{}, &sessionRow{}); err != nil {
		return fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}
	return nil
}

// SQLiteAccountRepository stores accounts and their session history in SQLite.
type SQLiteAccountRepository struct {
	db *gorm.DB
}

// NewSQLiteAccountRepository creates a new SQLiteAccountRepository instance.
func NewSQLiteAccountRepository(gdb *gorm.DB) *SQLiteAccountRepository {
	return &SQLiteAccountRepository{db: gdb}
}

// Create inserts a new account and returns it with its assigned id.
func (r *SQLiteAccountRepository) Create(ctx context.Context, a *model.Account) (*model.Account, error) {
	row := accountRow{
		Surname:   a.Surname,
		GivenName: a.GivenName,
		Phone:     a.Phone,
		Password:  a.Password,
		Balance:   a.Balance,
		Status:    string(a.Status),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicatePhone
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return row.toModel(), nil
}

// GetByID retrieves an account by id.
// Returns ErrAccountNotFound if the account does not exist.
func (r *SQLiteAccountRepository) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	var row accountRow
	if err := r.db.WithContext(ctx).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return row.toModel(), nil
}

// GetByCredentials retrieves the account matching phone and password exactly.
// Returns ErrAccountNotFound if there is no match.
func (r *SQLiteAccountRepository) GetByCredentials(ctx context.Context, phone, password string) (*model.Account, error) {
	var row accountRow
	err := r.db.WithContext(ctx).
		Where("phone = ? AND password = ?", phone, password).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account by credentials: %w", err)
	}
	return row.toModel(), nil
}

// UpdateBalance persists an exact balance and returns the updated account.
func (r *SQLiteAccountRepository) UpdateBalance(ctx context.Context, id int64, balance int64) (*model.Account, error) {
	res := r.db.WithContext(ctx).Model(&accountRow{}).Where("id = ?", id).Update("balance", balance)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update balance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrAccountNotFound
	}
	return r.GetByID(ctx, id)
}

// UpdateStatus persists the account status.
func (r *SQLiteAccountRepository) UpdateStatus(ctx context.Context, id int64, status model.AccountStatus) error {
	res := r.db.WithContext(ctx).Model(&accountRow{}).Where("id = ?", id).Update("status", string(status))
	if res.Error != nil {
		return fmt.Errorf("failed to update status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// List returns every account ordered by id.
func (r *SQLiteAccountRepository) List(ctx context.Context) ([]*model.Account, error) {
	var rows []accountRow
	if err := r.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	accounts := make([]*model.Account, 0, len(rows))
	for i := range rows {
		accounts = append(accounts, rows[i].toModel())
	}
	return accounts, nil
}

// Count returns the number of accounts.
func (r *SQLiteAccountRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&accountRow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return n, nil
}

// AppendSessionRecord inserts a completed session and sets its id.
func (r *SQLiteAccountRepository) AppendSessionRecord(ctx context.Context, rec *model.SessionRecord) error {
	row := sessionRow{
		AccountID:       rec.AccountID,
		Surname:         rec.Surname,
		GivenName:       rec.GivenName,
		Phone:           rec.Phone,
		BalanceConsumed: rec.BalanceConsumed,
		StartTime:       rec.StartTime.UTC().Format(isoTime),
		EndTime:         rec.EndTime.UTC().Format(isoTime),
		ElapsedMinutes:  rec.ElapsedMinutes,
	}
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to append session record: %w", err)
	}
	rec.ID = row.ID
	return nil
}

// ListSessionRecords returns an account's session history, newest first.
func (r *SQLiteAccountRepository) ListSessionRecords(ctx context.Context, accountID int64) ([]*model.SessionRecord, error) {
	var rows []sessionRow
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("start_time DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list session records: %w", err)
	}

	records := make([]*model.SessionRecord, 0, len(rows))
	for _, row := range rows {
		start, err := time.Parse(isoTime, row.StartTime)
		if err != nil {
			return nil, fmt.Errorf("invalid start_time in session record %d: %w", row.ID, err)
		}
		end, err := time.Parse(isoTime, row.EndTime)
		if err != nil {
			return nil, fmt.Errorf("invalid end_time in session record %d: %w", row.ID, err)
		}
		records = append(records, &model.SessionRecord{
			ID:              row.ID,
			AccountID:       row.AccountID,
			Surname:         row.Surname,
			GivenName:       row.GivenName,
			Phone:           row.Phone,
			BalanceConsumed: row.BalanceConsumed,
			StartTime:       start,
			EndTime:         end,
			ElapsedMinutes:  row.ElapsedMinutes,
		})
	}
	return records, nil
}

// isUniqueViolation matches the SQLite driver's constraint error text; the
// pure-Go driver does not export typed error codes through gorm.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
