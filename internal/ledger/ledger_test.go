package ledger

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Account{}))
	return db
}

func TestCreditCreatesAccount(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, Credit(db, "party-1", 100))

	b, err := BalanceOf(db, "party-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), b)
}

func TestDebit(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, Credit(db, "party-1", 100))

	require.NoError(t, Debit(db, "party-1", 60))

	b, err := BalanceOf(db, "party-1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), b)
}

func TestDebitInsufficientBalance(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, Credit(db, "party-1", 30))

	err := Debit(db, "party-1", 50)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// Balance never goes negative
	b, err := BalanceOf(db, "party-1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), b)
}

func TestInvalidAmounts(t *testing.T) {
	db := setupTestDB(t)

	assert.ErrorIs(t, Credit(db, "party-1", 0), ErrInvalidAmount)
	assert.ErrorIs(t, Credit(db, "party-1", -5), ErrInvalidAmount)
	assert.ErrorIs(t, Debit(db, "party-1", 0), ErrInvalidAmount)
}

func TestBalanceOfMissingAccount(t *testing.T) {
	db := setupTestDB(t)

	b, err := BalanceOf(db, "nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), b)
}

func TestDebitRollsBackInTransaction(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, Credit(db, "payer", 100))

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := Debit(tx, "payer", 100); err != nil {
			return err
		}
		if err := Credit(tx, "payee", 100); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	// The aborted transfer left both balances untouched
	payer, err := BalanceOf(db, "payer")
	require.NoError(t, err)
	assert.Equal(t, int64(100), payer)

	payee, err := BalanceOf(db, "payee")
	require.NoError(t, err)
	assert.Equal(t, int64(0), payee)
}

func TestServiceMint(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)

	balance, err := svc.Mint("party-1", 500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)

	balance, err = svc.Mint("party-1", 250)
	require.NoError(t, err)
	assert.Equal(t, int64(750), balance)
}
