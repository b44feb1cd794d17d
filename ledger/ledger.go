// Package ledger is the top-level façade a caller embeds: it maps
// account ids to independent AccountTrees, lazily creating each one's
// NodeStore under RootDir/Nodes/<account_id>, and serializes Save/Load
// against the rest of the process with a directory flock, the way
// sokv's storage.go guards its own file handle around Tx boundaries.
package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/nyan233/ledgertree/config"
	"github.com/nyan233/ledgertree/internal/sys"
	"github.com/nyan233/ledgertree/record"
	"github.com/nyan233/ledgertree/store"
	"github.com/nyan233/ledgertree/tree"
)

// Ledger is the embeddable entry point: one per RootDir per process.
// Individual account operations lock only that account. Save holds
// every registered account's lock for its whole fan-out, and Save and
// Load both take an on-disk directory flock so two processes never
// interleave a save. Load does not lock already-registered accounts;
// it only registers the accounts it finds.
type Ledger struct {
	cfg config.Config

	mu       sync.RWMutex
	accounts map[string]*accountEntry
}

type accountEntry struct {
	mu   sync.Mutex
	tree *tree.AccountTree
}

// Open builds a Ledger from cfg, applying config.Resolved defaults.
// It does not touch disk; accounts and their NodeStores are created
// lazily on first use. Call Load to discover accounts already
// persisted under cfg.RootDir instead.
func Open(cfg config.Config) *Ledger {
	cfg = cfg.Resolved()
	return &Ledger{cfg: cfg, accounts: make(map[string]*accountEntry)}
}

func (l *Ledger) nodesDir(accountID string) string {
	return filepath.Join(l.cfg.RootDir, "Nodes", accountID)
}

// account returns the entry for accountID, creating its AccountTree on
// first access. An empty accountID is rejected here, at the façade
// boundary, before it can ever reach a NodeStore or AccountTree.
func (l *Ledger) account(accountID string) (*accountEntry, error) {
	if accountID == "" {
		return nil, fmt.Errorf("ledger: account id must not be empty")
	}

	l.mu.RLock()
	e, ok := l.accounts[accountID]
	l.mu.RUnlock()
	if ok {
		return e, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.accounts[accountID]; ok {
		return e, nil
	}
	s, err := l.newStore(accountID)
	if err != nil {
		return nil, err
	}
	e = &accountEntry{tree: tree.New(s, l.cfg.Degree, nil, l.cfg.Logger)}
	l.accounts[accountID] = e
	return e, nil
}

// newStore builds accountID's NodeStore, applying the optional cipher
// and cache-size hint from cfg.
func (l *Ledger) newStore(accountID string) (*store.NodeStore, error) {
	dir := l.nodesDir(accountID)
	var s *store.NodeStore
	if l.cfg.CipherFactory != nil {
		c, err := l.cfg.CipherFactory()
		if err != nil {
			return nil, fmt.Errorf("ledger: build cipher for account %q: %w", accountID, err)
		}
		s = store.NewEncrypted(dir, l.cfg.Logger, c)
	} else {
		s = store.New(dir, l.cfg.Logger)
	}
	if l.cfg.MaxNodeCacheSize > 0 {
		s.SetMaxCacheSize(l.cfg.MaxNodeCacheSize)
	}
	return s, nil
}

// Insert adds r under its own account's tree.
func (l *Ledger) Insert(r record.Record) (bool, error) {
	e, err := l.account(r.Key.AccountID)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tree.Insert(r)
}

// Update replaces the record at r.Key under its own account's tree.
func (l *Ledger) Update(r record.Record) (bool, error) {
	e, err := l.account(r.Key.AccountID)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tree.Update(r)
}

// Delete removes the record at key.
func (l *Ledger) Delete(key record.Key) (bool, error) {
	e, err := l.account(key.AccountID)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tree.Delete(key)
}

// DeleteRange removes every record in [start, end] and returns the
// count removed. Both keys must share the same account.
func (l *Ledger) DeleteRange(start, end record.Key) (int, error) {
	if start.AccountID != end.AccountID {
		return 0, fmt.Errorf("ledger: DeleteRange across accounts %q and %q", start.AccountID, end.AccountID)
	}
	e, err := l.account(start.AccountID)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tree.DeleteRange(start, end)
}

// Read returns the record at key, if present.
func (l *Ledger) Read(key record.Key) (record.Record, bool, error) {
	e, err := l.account(key.AccountID)
	if err != nil {
		return record.Record{}, false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tree.Read(key)
}

// Contains reports whether key exists.
func (l *Ledger) Contains(key record.Key) (bool, error) {
	e, err := l.account(key.AccountID)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tree.Contains(key)
}

// List returns every record for accountID, in key order.
func (l *Ledger) List(accountID string) ([]record.Record, error) {
	e, err := l.account(accountID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tree.List()
}

// ListRange returns every record in [start, end], in key order. Both
// keys must share the same account.
func (l *Ledger) ListRange(start, end record.Key) ([]record.Record, error) {
	if start.AccountID != end.AccountID {
		return nil, fmt.Errorf("ledger: ListRange across accounts %q and %q", start.AccountID, end.AccountID)
	}
	e, err := l.account(start.AccountID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tree.ListRange(start, end)
}

// RecordCount returns the number of records held for accountID.
func (l *Ledger) RecordCount(accountID string) (int, error) {
	e, err := l.account(accountID)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tree.RecordCount()
}

// BalanceAsOf returns the cumulative balance for key.AccountID at key.
func (l *Ledger) BalanceAsOf(key record.Key) (decimal.Decimal, error) {
	e, err := l.account(key.AccountID)
	if err != nil {
		return decimal.Zero, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tree.BalanceAsOf(key)
}

// AdjustKey returns a collision-free key for key's (account, date),
// per spec.md §4.3.
func (l *Ledger) AdjustKey(key record.Key) (record.Key, error) {
	e, err := l.account(key.AccountID)
	if err != nil {
		return record.Key{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tree.AdjustKey(key)
}

// Save flushes every account registered with this Ledger, under an
// exclusive directory flock so no other process on this machine can
// interleave a save against RootDir. Every account's lock is held until
// the whole fan-out finishes, so no account operation runs mid-save.
func (l *Ledger) Save() error {
	lock, err := sys.LockDir(l.cfg.RootDir)
	if err != nil {
		return fmt.Errorf("ledger: lock %s: %w", l.cfg.RootDir, err)
	}
	defer lock.Unlock()

	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.accounts {
		e.mu.Lock()
		defer e.mu.Unlock()
	}
	for id, e := range l.accounts {
		if err := e.tree.Save(); err != nil {
			return fmt.Errorf("ledger: save account %q: %w", id, err)
		}
	}
	l.cfg.Logger.Info("ledger: saved", "root", l.cfg.RootDir, "accounts", len(l.accounts))
	return nil
}

// Load enumerates the account directories already persisted under
// cfg.RootDir/Nodes and registers an empty AccountTree for each one
// found, so RecordCount/List/Read/BalanceAsOf on a previously-saved
// account work without the caller having to already know its id.
// Registering an account here does not read any of its nodes; those
// are still loaded lazily by NodeStore on first access, per spec.md
// §4.4. Load takes the same directory flock Save does, since it walks
// the same directory tree Save writes.
func (l *Ledger) Load() error {
	lock, err := sys.LockDir(l.cfg.RootDir)
	if err != nil {
		return fmt.Errorf("ledger: lock %s: %w", l.cfg.RootDir, err)
	}
	defer lock.Unlock()

	nodesDir := filepath.Join(l.cfg.RootDir, "Nodes")
	entries, err := os.ReadDir(nodesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("ledger: list %s: %w", nodesDir, err)
	}

	registered := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := l.account(entry.Name()); err != nil {
			return fmt.Errorf("ledger: register account %q: %w", entry.Name(), err)
		}
		registered++
	}
	l.cfg.Logger.Info("ledger: loaded", "root", l.cfg.RootDir, "accounts", registered)
	return nil
}

// Account returns the underlying AccountTree for accountID, for callers
// that need lower-level access than the façade exposes. The façade's
// own per-account lock is not held across this call; callers doing
// their own locking must coordinate with Ledger's other methods
// themselves.
func (l *Ledger) Account(accountID string) (*tree.AccountTree, error) {
	e, err := l.account(accountID)
	if err != nil {
		return nil, err
	}
	return e.tree, nil
}
