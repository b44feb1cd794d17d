package ledger_test

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nyan233/ledgertree/config"
	"github.com/nyan233/ledgertree/ledger"
	"github.com/nyan233/ledgertree/record"
	"github.com/nyan233/ledgertree/store"
)

func openTestLedger(t *testing.T) (*ledger.Ledger, string) {
	t.Helper()
	root := t.TempDir()
	l := ledger.Open(config.Config{RootDir: root, Degree: 4})
	return l, root
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return tm
}

func TestLedgerInsertReadBalanceAcrossAccounts(t *testing.T) {
	l, _ := openTestLedger(t)
	d := day(t, "2024-01-01T00:00:00Z")

	inserted, err := l.Insert(record.NewRecord(record.NewKey("A", d, 0), "a1", decimal.RequireFromString("10.00")))
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = l.Insert(record.NewRecord(record.NewKey("B", d, 0), "b1", decimal.RequireFromString("99.00")))
	require.NoError(t, err)
	require.True(t, inserted)

	balA, err := l.BalanceAsOf(record.NewKey("A", d, 0))
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("10.00").Equal(balA))

	balB, err := l.BalanceAsOf(record.NewKey("B", d, 0))
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("99.00").Equal(balB))
}

func TestLedgerSaveThenReopenPreservesState(t *testing.T) {
	l, root := openTestLedger(t)
	d := day(t, "2024-02-01T00:00:00Z")
	for i := uint32(0); i < 20; i++ {
		_, err := l.Insert(record.NewRecord(record.NewKey("A", d, i), "r", decimal.RequireFromString("1.00")))
		require.NoError(t, err)
	}
	require.NoError(t, l.Save())

	l2 := ledger.Open(config.Config{RootDir: root, Degree: 4})
	count, err := l2.RecordCount("A")
	require.NoError(t, err)
	require.Equal(t, 20, count)

	bal, err := l2.BalanceAsOf(record.NewKey("A", d, 19))
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("20.00").Equal(bal))
}

func TestLedgerDeleteRangeRejectsCrossAccountKeys(t *testing.T) {
	l, _ := openTestLedger(t)
	d := day(t, "2024-01-01T00:00:00Z")
	_, err := l.DeleteRange(record.NewKey("A", d, 0), record.NewKey("B", d, 0))
	require.Error(t, err)
}

func TestLedgerAccountsAreIndependentDirectories(t *testing.T) {
	l, root := openTestLedger(t)
	d := day(t, "2024-01-01T00:00:00Z")
	_, err := l.Insert(record.NewRecord(record.NewKey("A", d, 0), "r", decimal.RequireFromString("1.00")))
	require.NoError(t, err)
	require.NoError(t, l.Save())

	require.DirExists(t, filepath.Join(root, "Nodes", "A"))
}

func TestLedgerLoadDiscoversPersistedAccounts(t *testing.T) {
	l, root := openTestLedger(t)
	d := day(t, "2024-03-01T00:00:00Z")
	for _, acct := range []string{"A", "B", "C"} {
		_, err := l.Insert(record.NewRecord(record.NewKey(acct, d, 0), "r", decimal.RequireFromString("5.00")))
		require.NoError(t, err)
	}
	require.NoError(t, l.Save())

	l2 := ledger.Open(config.Config{RootDir: root, Degree: 4})
	require.NoError(t, l2.Load())

	for _, acct := range []string{"A", "B", "C"} {
		count, err := l2.RecordCount(acct)
		require.NoError(t, err)
		require.Equal(t, 1, count)
	}
}

func TestLedgerLoadOnEmptyRootDirIsANoop(t *testing.T) {
	l, _ := openTestLedger(t)
	require.NoError(t, l.Load())
}

func TestLedgerRejectsEmptyAccountID(t *testing.T) {
	l, _ := openTestLedger(t)
	d := day(t, "2024-01-01T00:00:00Z")

	_, err := l.Insert(record.NewRecord(record.NewKey("", d, 0), "r", decimal.RequireFromString("1.00")))
	require.Error(t, err)

	_, _, err = l.Read(record.NewKey("", d, 0))
	require.Error(t, err)

	_, err = l.List("")
	require.Error(t, err)
}

func TestLedgerCipherFactoryEncryptsAccountBlobs(t *testing.T) {
	root := t.TempDir()
	key := bytes.Repeat([]byte{0x42}, 32)
	cfg := config.Config{
		RootDir: root,
		Degree:  4,
		CipherFactory: func() (store.BlobCipher, error) {
			return store.NewAESCipher(key)
		},
	}
	d := day(t, "2024-04-01T00:00:00Z")

	l := ledger.Open(cfg)
	_, err := l.Insert(record.NewRecord(record.NewKey("A", d, 0), "r", decimal.RequireFromString("42.00")))
	require.NoError(t, err)
	require.NoError(t, l.Save())

	l2 := ledger.Open(cfg)
	count, err := l2.RecordCount("A")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	wrongKeyCfg := cfg
	wrongKeyCfg.CipherFactory = func() (store.BlobCipher, error) {
		return store.NewAESCipher(bytes.Repeat([]byte{0x24}, 32))
	}
	l3 := ledger.Open(wrongKeyCfg)
	_, err = l3.RecordCount("A")
	require.Error(t, err)
}

func TestLedgerMaxNodeCacheSizeDoesNotBreakCorrectness(t *testing.T) {
	l, _ := openTestLedger(t)
	cfg := config.Config{RootDir: t.TempDir(), Degree: 4, MaxNodeCacheSize: 1}
	l = ledger.Open(cfg)
	d := day(t, "2024-05-01T00:00:00Z")
	for i := uint32(0); i < 10; i++ {
		_, err := l.Insert(record.NewRecord(record.NewKey("A", d, i), "r", decimal.RequireFromString("1.00")))
		require.NoError(t, err)
	}
	count, err := l.RecordCount("A")
	require.NoError(t, err)
	require.Equal(t, 10, count)
}
