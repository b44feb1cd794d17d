package tree_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nyan233/ledgertree/record"
	"github.com/nyan233/ledgertree/store"
	"github.com/nyan233/ledgertree/tree"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return tm
}

func newTestTree(t *testing.T, degree int) *tree.AccountTree {
	t.Helper()
	s := store.New(filepath.Join(t.TempDir(), "Nodes", "A"), nil)
	return tree.New(s, degree, tree.NewCoin(42), nil)
}

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestEmptyBalance(t *testing.T) {
	at := newTestTree(t, 100)
	bal, err := at.BalanceAsOf(record.NewKey("A", day(t, "2024-01-01T00:00:00Z"), 0))
	require.NoError(t, err)
	require.True(t, bal.IsZero())
}

func TestThreeInsertsExactBalance(t *testing.T) {
	at := newTestTree(t, 100)
	d1 := day(t, "2024-01-01T00:00:00Z")
	d2 := day(t, "2024-01-02T00:00:00Z")

	mustInsert(t, at, "A", d1, 0, "first", "12.50")
	mustInsert(t, at, "A", d1, 1, "second", "23.95")
	mustInsert(t, at, "A", d2, 0, "third", "-7.00")

	bal, err := at.BalanceAsOf(record.NewKey("A", d1, 1))
	require.NoError(t, err)
	require.True(t, amt("36.45").Equal(bal), "got %s", bal)

	bal, err = at.BalanceAsOf(record.NewKey("A", d2, 0))
	require.NoError(t, err)
	require.True(t, amt("29.45").Equal(bal), "got %s", bal)
}

func TestDeleteRestoresBalance(t *testing.T) {
	at := newTestTree(t, 100)
	d1 := day(t, "2024-01-01T00:00:00Z")
	d2 := day(t, "2024-01-02T00:00:00Z")
	mustInsert(t, at, "A", d1, 0, "first", "12.50")
	mustInsert(t, at, "A", d1, 1, "second", "23.95")
	mustInsert(t, at, "A", d2, 0, "third", "-7.00")

	deleted, err := at.Delete(record.NewKey("A", d1, 1))
	require.NoError(t, err)
	require.True(t, deleted)

	bal, err := at.BalanceAsOf(record.NewKey("A", d2, 0))
	require.NoError(t, err)
	require.True(t, amt("5.50").Equal(bal), "got %s", bal)
}

func TestUpdateWithAmountChange(t *testing.T) {
	at := newTestTree(t, 100)
	d1 := day(t, "2024-01-01T00:00:00Z")
	d2 := day(t, "2024-01-02T00:00:00Z")
	mustInsert(t, at, "A", d1, 0, "first", "12.50")
	mustInsert(t, at, "A", d1, 1, "second", "23.95")
	mustInsert(t, at, "A", d2, 0, "third", "-7.00")

	key := record.NewKey("A", d1, 0)
	updated, err := at.Update(record.NewRecord(key, "first", amt("100.00")))
	require.NoError(t, err)
	require.True(t, updated)

	bal, err := at.BalanceAsOf(record.NewKey("A", d2, 0))
	require.NoError(t, err)
	require.True(t, amt("116.95").Equal(bal), "got %s", bal)
}

func TestSplitUnderStress(t *testing.T) {
	const degree = 4
	at := newTestTree(t, degree)
	d := day(t, "2024-06-01T00:00:00Z")

	total := decimal.Zero
	for i := uint32(0); i < 100; i++ {
		a := amt("1.00")
		total = total.Add(a)
		mustInsert(t, at, "A", d, i, "r", "1.00")
	}

	require.NoError(t, at.Save())

	count, err := at.RecordCount()
	require.NoError(t, err)
	require.Equal(t, 100, count)

	bal, err := at.BalanceAsOf(record.NewKey("A", d, 99))
	require.NoError(t, err)
	require.True(t, total.Equal(bal), "got %s want %s", bal, total)
}

func TestAdjustKeyCollision(t *testing.T) {
	at := newTestTree(t, 100)
	d := day(t, "2024-03-01T00:00:00Z")
	mustInsert(t, at, "A", d, 0, "r", "1.00")

	next, err := at.AdjustKey(record.NewKey("A", d, 0))
	require.NoError(t, err)
	require.Equal(t, uint32(1), next.Sequence)

	mustInsertKey(t, at, next, "r2", "1.00")

	next2, err := at.AdjustKey(record.NewKey("A", d, 0))
	require.NoError(t, err)
	require.Equal(t, uint32(2), next2.Sequence)
}

func TestRangeDelete(t *testing.T) {
	at := newTestTree(t, 100)
	base := day(t, "2024-01-01T00:00:00Z")
	total := decimal.Zero
	for i := 0; i < 50; i++ {
		d := base.AddDate(0, 0, i)
		total = total.Add(amt("1.00"))
		mustInsert(t, at, "A", d, 0, "r", "1.00")
	}

	start := record.NewKey("A", base.AddDate(0, 0, 9), 0)
	end := record.NewKey("A", base.AddDate(0, 0, 19), ^uint32(0))
	deletedCount, err := at.DeleteRange(start, end)
	require.NoError(t, err)
	require.Equal(t, 11, deletedCount)

	recs, err := at.List()
	require.NoError(t, err)
	require.Len(t, recs, 39)

	remaining := decimal.Zero
	for _, r := range recs {
		remaining = remaining.Add(r.Amount)
	}
	require.True(t, remaining.Equal(amt("39.00")), "got %s", remaining)
}

func TestPersistenceRoundTrip(t *testing.T) {
	const degree = 4
	dir := filepath.Join(t.TempDir(), "Nodes", "A")
	s1 := store.New(dir, nil)
	at1 := tree.New(s1, degree, tree.NewCoin(7), nil)

	d := day(t, "2024-06-01T00:00:00Z")
	for i := uint32(0); i < 100; i++ {
		mustInsert(t, at1, "A", d, i, "r", "1.00")
	}
	require.NoError(t, at1.Save())

	before, err := at1.List()
	require.NoError(t, err)
	beforeBal, err := at1.BalanceAsOf(record.NewKey("A", d, 99))
	require.NoError(t, err)
	beforeCount, err := at1.RecordCount()
	require.NoError(t, err)

	s2 := store.New(dir, nil)
	at2 := tree.New(s2, degree, tree.NewCoin(7), nil)

	after, err := at2.List()
	require.NoError(t, err)
	require.Equal(t, len(before), len(after))
	for i := range before {
		require.True(t, before[i].Key.Compare(after[i].Key) == 0)
		require.True(t, before[i].Amount.Equal(after[i].Amount))
	}

	afterBal, err := at2.BalanceAsOf(record.NewKey("A", d, 99))
	require.NoError(t, err)
	require.True(t, beforeBal.Equal(afterBal))

	afterCount, err := at2.RecordCount()
	require.NoError(t, err)
	require.Equal(t, beforeCount, afterCount)
}

func TestInsertDuplicateReturnsFalse(t *testing.T) {
	at := newTestTree(t, 100)
	d := day(t, "2024-01-01T00:00:00Z")
	mustInsert(t, at, "A", d, 0, "r", "1.00")

	inserted, err := at.Insert(record.NewRecord(record.NewKey("A", d, 0), "r2", amt("2.00")))
	require.NoError(t, err)
	require.False(t, inserted)
}

func TestDeleteThenContainsFalse(t *testing.T) {
	at := newTestTree(t, 100)
	d := day(t, "2024-01-01T00:00:00Z")
	mustInsert(t, at, "A", d, 0, "r", "1.00")
	key := record.NewKey("A", d, 0)

	deleted, err := at.Delete(key)
	require.NoError(t, err)
	require.True(t, deleted)

	ok, err := at.Contains(key)
	require.NoError(t, err)
	require.False(t, ok)

	deletedAgain, err := at.Delete(key)
	require.NoError(t, err)
	require.False(t, deletedAgain)
}

func TestSizeBoundAfterSave(t *testing.T) {
	const degree = 4
	s := store.New(filepath.Join(t.TempDir(), "Nodes", "A"), nil)
	at := tree.New(s, degree, tree.NewCoin(3), nil)
	d := day(t, "2024-07-01T00:00:00Z")
	for i := uint32(0); i < 40; i++ {
		mustInsert(t, at, "A", d, i, "r", "1.00")
	}
	require.NoError(t, at.Save())

	for _, n := range s.List() {
		require.LessOrEqual(t, n.Len(), degree)
	}
}

func mustInsert(t *testing.T, at *tree.AccountTree, account string, d time.Time, seq uint32, desc, amount string) {
	t.Helper()
	mustInsertKey(t, at, record.NewKey(account, d, seq), desc, amount)
}

func mustInsertKey(t *testing.T, at *tree.AccountTree, key record.Key, desc, amount string) {
	t.Helper()
	inserted, err := at.Insert(record.NewRecord(key, desc, amt(amount)))
	require.NoError(t, err)
	require.True(t, inserted)
}
