package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/agmm7834/MyNetBoot-v2/internal/model"
)

// setUpSQLite creates a fresh migrated database for every test.
func setUpSQLite(t *testing.T) *SQLiteAccountRepository {
	path := filepath.Join(t.TempDir(), "test.db")
	gdb, err := gorm.Open(sqlite.Open(path+"?_pragma=foreign_keys(1)"))
	require.NoError(t, err)
	require.NoError(t, MigrateSQLite(gdb))
	return NewSQLiteAccountRepository(gdb)
}

func TestSQLiteAccountRepository_Seed(t *testing.T) {
	repo := setUpSQLite(t)
	ctx := context.Background()

	n, err := Seed(ctx, repo, DemoAccounts())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = Seed(ctx, repo, DemoAccounts())
	require.NoError(t, err)
	assert.Zero(t, n)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestSQLiteAccountRepository_Lookup(t *testing.T) {
	repo := setUpSQLite(t)
	ctx := context.Background()
	_, err := Seed(ctx, repo, DemoAccounts())
	require.NoError(t, err)

	a, err := repo.GetByCredentials(ctx, "901234567", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "Javlon", a.GivenName)
	assert.Equal(t, int64(5000), a.Balance)
	assert.Equal(t, model.AccountActive, a.Status)

	byID, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a, byID)

	_, err = repo.GetByCredentials(ctx, "901234567", "abc12")
	assert.ErrorIs(t, err, ErrAccountNotFound)
	_, err = repo.GetByID(ctx, 4242)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestSQLiteAccountRepository_Updates(t *testing.T) {
	repo := setUpSQLite(t)
	ctx := context.Background()
	a, err := repo.Create(ctx, &model.Account{Surname: "Tursunov", GivenName: "Alisher", Phone: "905555555", Password: "secret", Balance: 300, Status: model.AccountActive})
	require.NoError(t, err)

	updated, err := repo.UpdateBalance(ctx, a.ID, 0)
	require.NoError(t, err)
	assert.Zero(t, updated.Balance)

	require.NoError(t, repo.UpdateStatus(ctx, a.ID, model.AccountBlocked))
	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AccountBlocked, got.Status)

	_, err = repo.UpdateBalance(ctx, a.ID+1, 10)
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.ErrorIs(t, repo.UpdateStatus(ctx, a.ID+1, model.AccountActive), ErrAccountNotFound)
}

func TestSQLiteAccountRepository_Constraints(t *testing.T) {
	repo := setUpSQLite(t)
	ctx := context.Background()
	a, err := repo.Create(ctx, &model.Account{Surname: "Tursunov", GivenName: "Alisher", Phone: "905555555", Password: "secret", Status: model.AccountActive})
	require.NoError(t, err)
	assert.Zero(t, a.Balance, "balance defaults to zero")

	_, err = repo.UpdateBalance(ctx, a.ID, -100)
	assert.Error(t, err)

	_, err = repo.Create(ctx, &model.Account{Surname: "Yusupov", GivenName: "Bobur", Phone: "905555555", Password: "secret", Status: model.AccountActive})
	assert.ErrorIs(t, err, ErrDuplicatePhone)

	invalid := []model.Account{
		{Surname: "Tur", GivenName: "Alisher", Phone: "909999999", Password: "pwd", Status: model.AccountActive},
		{Surname: "Tursunov", GivenName: "Al", Phone: "909999999", Password: "pwd", Status: model.AccountActive},
		{Surname: "Tursunov", GivenName: "Alisher", Phone: "9099999", Password: "pwd", Status: model.AccountActive},
		{Surname: "Tursunov", GivenName: "Alisher", Phone: "90999999x", Password: "pwd", Status: model.AccountActive},
		{Surname: "Tursunov", GivenName: "Alisher", Phone: "909999999", Password: "pw", Status: model.AccountActive},
		{Surname: "Tursunov", GivenName: "Alisher", Phone: "909999999", Password: "pwd", Status: "frozen"},
	}
	for _, acc := range invalid {
		_, err := repo.Create(ctx, &acc)
		assert.Error(t, err, "account %+v must be rejected", acc)
	}
}

func TestSQLiteAccountRepository_SessionRecords(t *testing.T) {
	repo := setUpSQLite(t)
	ctx := context.Background()
	_, err := Seed(ctx, repo, DemoAccounts())
	require.NoError(t, err)
	a, err := repo.GetByCredentials(ctx, "902345678", "xyz789")
	require.NoError(t, err)

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		start := base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, repo.AppendSessionRecord(ctx, &model.SessionRecord{
			AccountID: a.ID, Surname: a.Surname, GivenName: a.GivenName, Phone: a.Phone,
			BalanceConsumed: int64(100 * (i + 1)), StartTime: start, EndTime: start.Add(time.Duration(i+1) * time.Minute),
			ElapsedMinutes: i + 1,
		}))
	}

	records, err := repo.ListSessionRecords(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.True(t, records[0].StartTime.Equal(base.Add(2*time.Hour)), "newest first")
	assert.Equal(t, 3, records[0].ElapsedMinutes)
	assert.Equal(t, int64(300), records[0].BalanceConsumed)

	err = repo.AppendSessionRecord(ctx, &model.SessionRecord{AccountID: 9999, Surname: "Ghost", GivenName: "Ghost", Phone: "900000000", StartTime: base, EndTime: base})
	assert.Error(t, err, "foreign key must reject unknown account")
}
