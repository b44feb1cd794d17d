// Package tree implements AccountTree: the recursive, copy-on-write
// B-tree algorithms spec.md §4.3 describes, running over a single
// account's NodeStore. Splits are deferred to Save; every other
// mutation tolerates transient overflow.
package tree

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/shopspring/decimal"

	"github.com/nyan233/ledgertree/errs"
	"github.com/nyan233/ledgertree/node"
	"github.com/nyan233/ledgertree/record"
	"github.com/nyan233/ledgertree/store"
)

// rootID is the node id reserved for the root of every account tree.
const rootID = uint64(0)

// AccountTree implements the B-tree algorithms over a NodeStore for a
// single account. It is not safe for concurrent use; per spec.md §5,
// exclusive access is the caller's job.
type AccountTree struct {
	store  *store.NodeStore
	degree int
	coin   Coin
	logger *slog.Logger
}

// New builds an AccountTree over s, with the given B-tree degree. A nil
// coin defaults to NewCoin(1), a randCoin with a fixed seed; a nil logger defaults to
// slog.Default().
func New(s *store.NodeStore, degree int, coin Coin, logger *slog.Logger) *AccountTree {
	if coin == nil {
		coin = NewCoin(1)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountTree{store: s, degree: degree, coin: coin, logger: logger}
}

// pathStep records one step of a root-to-node descent: the ancestor
// node, and the index of the child that leads toward the node of
// interest. Used by Save to know an overflowing node's ancestors from
// the same walk that found it, without a separate search for its parent.
type pathStep struct {
	node     node.Node
	childIdx int
}

// missingChildErr builds the InvariantViolation raised when a NodeRef
// names a childID the backing store has no blob for, logging it at
// Error before it unwinds up the call stack.
func (t *AccountTree) missingChildErr(parentID, childID uint64) error {
	err := fmt.Errorf("%w: child %d of node %d missing from store", errs.ErrInvariantViolation, childID, parentID)
	t.logger.Error("tree: invariant violation", "error", err)
	return err
}

// checkAccountID is the defensive InvariantViolation the façade's own
// empty-account-id rejection backs up: AccountTree has no account id of
// its own to compare against, so it can only catch a key that names no
// account at all, which should never reach here once Ledger.account
// has done its job.
func (t *AccountTree) checkAccountID(accountID string) error {
	if accountID != "" {
		return nil
	}
	err := fmt.Errorf("%w: empty account id", errs.ErrInvariantViolation)
	t.logger.Error("tree: invariant violation", "error", err)
	return err
}

// Insert adds r to the tree. It returns false without modifying
// anything if r.Key is already present.
func (t *AccountTree) Insert(r record.Record) (bool, error) {
	if err := t.checkAccountID(r.Key.AccountID); err != nil {
		return false, err
	}
	root, ok, err := t.store.Get(rootID)
	if err != nil {
		return false, err
	}
	if !ok {
		leaf := node.NewLeaf(rootID, []record.Record{r})
		t.store.Put(leaf)
		return true, nil
	}
	inserted, _, err := t.insertRec(root, r)
	return inserted, err
}

func (t *AccountTree) insertRec(n node.Node, r record.Record) (bool, node.Node, error) {
	if n.IsLeaf {
		idx, err := n.FindRecord(r.Key)
		if err != nil {
			return false, node.Node{}, err
		}
		if idx >= 0 {
			return false, n, nil
		}
		newLeaf, err := n.WithInsertedRecord(^idx, r)
		if err != nil {
			return false, node.Node{}, err
		}
		t.store.Put(newLeaf)
		return true, newLeaf, nil
	}

	idx, err := n.FindChild(r.Key)
	if err != nil {
		return false, node.Node{}, err
	}
	childIdx := idx
	if idx < 0 {
		childIdx = t.selectChild(^idx, len(n.Children))
	}

	child, ok, err := t.store.Get(n.Children[childIdx].ChildID)
	if err != nil {
		return false, node.Node{}, err
	}
	if !ok {
		return false, node.Node{}, t.missingChildErr(n.ID, n.Children[childIdx].ChildID)
	}

	inserted, newChild, err := t.insertRec(child, r)
	if err != nil || !inserted {
		return inserted, n, err
	}
	newInternal, err := n.WithReplacedChild(childIdx, newChild.SelfRef())
	if err != nil {
		return false, node.Node{}, err
	}
	t.store.Put(newInternal)
	return true, newInternal, nil
}

// selectChild implements spec.md §4.3's neighbour-selection rule for an
// internal-node miss: position 0 always picks child 0, position n
// always picks child n-1, anywhere in between is a coin flip between
// the left and right neighbour.
func (t *AccountTree) selectChild(insertionPoint, numChildren int) int {
	if insertionPoint <= 0 {
		return 0
	}
	if insertionPoint >= numChildren {
		return numChildren - 1
	}
	if t.coin.Bool() {
		return insertionPoint - 1
	}
	return insertionPoint
}

// Update replaces the record at r.Key with r. It returns false without
// modifying anything if r.Key does not exist.
func (t *AccountTree) Update(r record.Record) (bool, error) {
	if err := t.checkAccountID(r.Key.AccountID); err != nil {
		return false, err
	}
	root, ok, err := t.store.Get(rootID)
	if err != nil || !ok {
		return false, err
	}
	updated, _, err := t.updateRec(root, r)
	return updated, err
}

func (t *AccountTree) updateRec(n node.Node, r record.Record) (bool, node.Node, error) {
	if n.IsLeaf {
		idx, err := n.FindRecord(r.Key)
		if err != nil {
			return false, node.Node{}, err
		}
		if idx < 0 {
			return false, n, nil
		}
		newLeaf, err := n.WithReplacedRecord(idx, r)
		if err != nil {
			return false, node.Node{}, err
		}
		t.store.Put(newLeaf)
		return true, newLeaf, nil
	}

	idx, err := n.FindChild(r.Key)
	if err != nil {
		return false, node.Node{}, err
	}
	if idx < 0 {
		return false, n, nil
	}
	child, ok, err := t.store.Get(n.Children[idx].ChildID)
	if err != nil {
		return false, node.Node{}, err
	}
	if !ok {
		return false, node.Node{}, t.missingChildErr(n.ID, n.Children[idx].ChildID)
	}
	updated, newChild, err := t.updateRec(child, r)
	if err != nil || !updated {
		return updated, n, err
	}
	newInternal, err := n.WithReplacedChild(idx, newChild.SelfRef())
	if err != nil {
		return false, node.Node{}, err
	}
	t.store.Put(newInternal)
	return true, newInternal, nil
}

// Delete removes the record at key. It returns false without modifying
// anything if key does not exist. No rebalancing or merging occurs.
func (t *AccountTree) Delete(key record.Key) (bool, error) {
	if err := t.checkAccountID(key.AccountID); err != nil {
		return false, err
	}
	root, ok, err := t.store.Get(rootID)
	if err != nil || !ok {
		return false, err
	}
	deleted, _, err := t.deleteRec(root, key)
	return deleted, err
}

// DeleteRecord deletes by the key of r; delete-by-record and
// delete-by-key route through the same descent, per spec.md §4.3.
func (t *AccountTree) DeleteRecord(r record.Record) (bool, error) {
	return t.Delete(r.Key)
}

func (t *AccountTree) deleteRec(n node.Node, key record.Key) (bool, node.Node, error) {
	if n.IsLeaf {
		idx, err := n.FindRecord(key)
		if err != nil {
			return false, node.Node{}, err
		}
		if idx < 0 {
			return false, n, nil
		}
		newLeaf, err := n.WithDeletedRecord(idx)
		if err != nil {
			return false, node.Node{}, err
		}
		t.store.Put(newLeaf)
		return true, newLeaf, nil
	}

	idx, err := n.FindChild(key)
	if err != nil {
		return false, node.Node{}, err
	}
	if idx < 0 {
		return false, n, nil
	}
	child, ok, err := t.store.Get(n.Children[idx].ChildID)
	if err != nil {
		return false, node.Node{}, err
	}
	if !ok {
		return false, node.Node{}, t.missingChildErr(n.ID, n.Children[idx].ChildID)
	}
	deleted, newChild, err := t.deleteRec(child, key)
	if err != nil || !deleted {
		return deleted, n, err
	}
	newInternal, err := n.WithReplacedChild(idx, newChild.SelfRef())
	if err != nil {
		return false, node.Node{}, err
	}
	t.store.Put(newInternal)
	return true, newInternal, nil
}

// DeleteRange removes every record with start <= key <= end and returns
// the count removed. Both keys must share start's account.
func (t *AccountTree) DeleteRange(start, end record.Key) (int, error) {
	victims, err := t.ListRange(start, end)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, r := range victims {
		deleted, err := t.Delete(r.Key)
		if err != nil {
			return count, err
		}
		if deleted {
			count++
		}
	}
	return count, nil
}

// Contains reports whether key exists in the tree.
func (t *AccountTree) Contains(key record.Key) (bool, error) {
	_, ok, err := t.Read(key)
	return ok, err
}

// Read returns the record at key, if present.
func (t *AccountTree) Read(key record.Key) (record.Record, bool, error) {
	if err := t.checkAccountID(key.AccountID); err != nil {
		return record.Record{}, false, err
	}
	root, ok, err := t.store.Get(rootID)
	if err != nil {
		return record.Record{}, false, err
	}
	if !ok {
		return record.Record{}, false, nil
	}
	n := root
	for {
		if n.IsLeaf {
			idx, err := n.FindRecord(key)
			if err != nil {
				return record.Record{}, false, err
			}
			if idx < 0 {
				return record.Record{}, false, nil
			}
			return n.Records[idx], true, nil
		}
		idx, err := n.FindChild(key)
		if err != nil {
			return record.Record{}, false, err
		}
		if idx < 0 {
			return record.Record{}, false, nil
		}
		child, ok, err := t.store.Get(n.Children[idx].ChildID)
		if err != nil {
			return record.Record{}, false, err
		}
		if !ok {
			return record.Record{}, false, t.missingChildErr(n.ID, n.Children[idx].ChildID)
		}
		n = child
	}
}

// List returns every record in the tree, in key order. Single-account
// trees only, per spec.md §4.3.
func (t *AccountTree) List() ([]record.Record, error) {
	root, ok, err := t.store.Get(rootID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var out []record.Record
	if err := t.collect(root, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *AccountTree) collect(n node.Node, out *[]record.Record) error {
	if n.IsLeaf {
		*out = append(*out, n.Records...)
		return nil
	}
	for _, ref := range n.Children {
		child, ok, err := t.store.Get(ref.ChildID)
		if err != nil {
			return err
		}
		if !ok {
			return t.missingChildErr(n.ID, ref.ChildID)
		}
		if err := t.collect(child, out); err != nil {
			return err
		}
	}
	return nil
}

// ListRange returns every record with start <= key <= end, in key
// order, pruning subtrees whose NodeRef bounds fall entirely outside
// the range instead of walking every leaf.
func (t *AccountTree) ListRange(start, end record.Key) ([]record.Record, error) {
	if err := t.checkAccountID(start.AccountID); err != nil {
		return nil, err
	}
	root, ok, err := t.store.Get(rootID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var out []record.Record
	if _, err := t.collectRange(root, start, end, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// collectRange returns true once it is certain no further sibling in
// the caller's scan can contain a key <= end.
func (t *AccountTree) collectRange(n node.Node, start, end record.Key, out *[]record.Record) (bool, error) {
	if n.IsLeaf {
		for _, r := range n.Records {
			if end.Less(r.Key) {
				return true, nil
			}
			if !r.Key.Less(start) {
				*out = append(*out, r)
			}
		}
		return false, nil
	}
	for _, ref := range n.Children {
		if ref.LastKey.Less(start) {
			continue
		}
		if end.Less(ref.FirstKey) {
			return true, nil
		}
		child, ok, err := t.store.Get(ref.ChildID)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, t.missingChildErr(n.ID, ref.ChildID)
		}
		done, err := t.collectRange(child, start, end, out)
		if err != nil {
			return false, err
		}
		if done {
			return true, nil
		}
	}
	return false, nil
}

// RecordCount returns the total number of records across all leaves.
func (t *AccountTree) RecordCount() (int, error) {
	root, ok, err := t.store.Get(rootID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return t.countLeaves(root)
}

func (t *AccountTree) countLeaves(n node.Node) (int, error) {
	if n.IsLeaf {
		return len(n.Records), nil
	}
	total := 0
	for _, ref := range n.Children {
		child, ok, err := t.store.Get(ref.ChildID)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, t.missingChildErr(n.ID, ref.ChildID)
		}
		c, err := t.countLeaves(child)
		if err != nil {
			return 0, err
		}
		total += c
	}
	return total, nil
}

// BalanceAsOf returns the sum of amounts of every record with key' <=
// key, in O(height) thanks to the cached amount on every NodeRef and
// Node.
func (t *AccountTree) BalanceAsOf(key record.Key) (decimal.Decimal, error) {
	if err := t.checkAccountID(key.AccountID); err != nil {
		return decimal.Zero, err
	}
	root, ok, err := t.store.Get(rootID)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, nil
	}
	result := decimal.Zero
	n := root
	for {
		if n.IsLeaf {
			for _, r := range n.Records {
				if key.Less(r.Key) {
					return result, nil
				}
				result = result.Add(r.Amount)
			}
			return result, nil
		}
		advanced := false
		for _, ref := range n.Children {
			if ref.LastKey.Less(key) {
				result = result.Add(ref.Amount)
				continue
			}
			child, ok, err := t.store.Get(ref.ChildID)
			if err != nil {
				return decimal.Zero, err
			}
			if !ok {
				return decimal.Zero, t.missingChildErr(n.ID, ref.ChildID)
			}
			n = child
			advanced = true
			break
		}
		if !advanced {
			return result, nil
		}
	}
}

// AdjustKey returns a key with the smallest unused sequence number for
// (key.AccountID, key.Date) greater than every existing sequence on
// that day, or key unchanged if that day has no records.
func (t *AccountTree) AdjustKey(key record.Key) (record.Key, error) {
	if err := t.checkAccountID(key.AccountID); err != nil {
		return record.Key{}, err
	}
	bound := record.NewKey(key.AccountID, key.Date, math.MaxUint32)
	floorRec, ok, err := t.floor(bound)
	if err != nil {
		return record.Key{}, err
	}
	if !ok || !floorRec.Key.SameDay(key) {
		return key, nil
	}
	if floorRec.Key.Sequence == math.MaxUint32 {
		return record.Key{}, errs.ErrSaturated
	}
	return record.NewKey(key.AccountID, key.Date, floorRec.Key.Sequence+1), nil
}

// floor returns the greatest record with key' <= bound, descending in
// O(height) rather than scanning the whole tree.
func (t *AccountTree) floor(bound record.Key) (record.Record, bool, error) {
	root, ok, err := t.store.Get(rootID)
	if err != nil {
		return record.Record{}, false, err
	}
	if !ok {
		return record.Record{}, false, nil
	}
	n := root
	for {
		if n.IsLeaf {
			idx, err := n.FindRecord(bound)
			if err != nil {
				return record.Record{}, false, err
			}
			if idx >= 0 {
				return n.Records[idx], true, nil
			}
			ip := ^idx
			if ip == 0 {
				return record.Record{}, false, nil
			}
			return n.Records[ip-1], true, nil
		}
		idx, err := n.FindChild(bound)
		if err != nil {
			return record.Record{}, false, err
		}
		var nextChildID uint64
		if idx >= 0 {
			nextChildID = n.Children[idx].ChildID
		} else {
			ip := ^idx
			if ip == 0 {
				return record.Record{}, false, nil
			}
			nextChildID = n.Children[ip-1].ChildID
		}
		child, ok, err := t.store.Get(nextChildID)
		if err != nil {
			return record.Record{}, false, err
		}
		if !ok {
			return record.Record{}, false, t.missingChildErr(n.ID, nextChildID)
		}
		n = child
	}
}

// Save discharges overflow by repeatedly splitting overflowing nodes
// until none remain, then flushes the cache. See split.go for the
// split algorithm itself.
func (t *AccountTree) Save() error {
	t.logger.Debug("tree: save starting", "degree", t.degree)
	splits := 0
	for {
		root, ok, err := t.store.Get(rootID)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		path, target, found, err := t.findOverflow(nil, root)
		if err != nil {
			return err
		}
		if !found {
			break
		}
		if err := t.dischargeOverflow(path, target); err != nil {
			return err
		}
		splits++
	}
	if err := t.store.Save(); err != nil {
		return err
	}
	t.logger.Info("tree: save complete", "splits", splits)
	return nil
}

// findOverflow walks the tree looking for any overflowing node, tracking
// the ancestor path from root so Save can propagate a split upward
// without a second descent to find the parent. Save runs one such walk
// from the root per split.
func (t *AccountTree) findOverflow(path []pathStep, n node.Node) ([]pathStep, node.Node, bool, error) {
	if n.Overflowing(t.degree) {
		return path, n, true, nil
	}
	if n.IsLeaf {
		return nil, node.Node{}, false, nil
	}
	for i, ref := range n.Children {
		child, ok, err := t.store.Get(ref.ChildID)
		if err != nil {
			return nil, node.Node{}, false, err
		}
		if !ok {
			return nil, node.Node{}, false, t.missingChildErr(n.ID, ref.ChildID)
		}
		subPath, target, found, err := t.findOverflow(append(path, pathStep{node: n, childIdx: i}), child)
		if err != nil {
			return nil, node.Node{}, false, err
		}
		if found {
			return subPath, target, true, nil
		}
	}
	return nil, node.Node{}, false, nil
}
