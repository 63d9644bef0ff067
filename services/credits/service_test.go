package credits

import (
	"context"
	"testing"

	"promptmarket-rewards/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestLedger(t *testing.T) (Ledger, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &Balance{}, &Entry{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewLedger(LedgerParams{DB: db, Node: node}), db
}

func TestLedger_AddCreditsCreatesBalance(t *testing.T) {
	ledger, db := newTestLedger(t)

	require.NoError(t, ledger.AddCredits(context.Background(), "author-1", 2, CategoryUpvote, "vote-1"))

	balance, err := ledger.BalanceOf(context.Background(), "author-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), balance)

	var entry Entry
	require.NoError(t, db.First(&entry, "account_id = ?", "author-1").Error)
	require.Equal(t, CategoryUpvote, entry.Category)
	require.Equal(t, "vote-1", entry.ReferenceID)
	require.Equal(t, int64(2), entry.Amount)
}

func TestLedger_AddCreditsAccumulates(t *testing.T) {
	ledger, db := newTestLedger(t)

	require.NoError(t, ledger.AddCredits(context.Background(), "author-1", 1, CategoryUpvote, "vote-1"))
	require.NoError(t, ledger.AddCredits(context.Background(), "author-1", 3, CategoryUpvote, "vote-2"))

	balance, err := ledger.BalanceOf(context.Background(), "author-1")
	require.NoError(t, err)
	require.Equal(t, int64(4), balance)

	var n int64
	require.NoError(t, db.Model(&Entry{}).Count(&n).Error)
	require.Equal(t, int64(2), n)
}

func TestLedger_BalanceOfUnknownAccount(t *testing.T) {
	ledger, _ := newTestLedger(t)

	balance, err := ledger.BalanceOf(context.Background(), "nobody")
	require.NoError(t, err)
	require.Zero(t, balance)
}

func TestLedger_WithTrxSharesRollback(t *testing.T) {
	ledger, db := newTestLedger(t)

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := ledger.WithTrx(tx).AddCredits(context.Background(), "author-1", 5, CategoryUpvote, "vote-1"); err != nil {
			return err
		}
		return gorm.ErrInvalidTransaction
	})
	require.Error(t, err)

	balance, err := ledger.BalanceOf(context.Background(), "author-1")
	require.NoError(t, err)
	require.Zero(t, balance)

	var n int64
	require.NoError(t, db.Model(&Entry{}).Count(&n).Error)
	require.Zero(t, n)
}
