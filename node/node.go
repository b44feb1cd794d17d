// Package node implements the immutable B-tree node representation
// shared by every AccountTree: a leaf carrying a sorted run of records,
// or an internal node carrying a sorted run of NodeRefs, each tagged
// with a cached subtree amount so that balance queries stay O(height).
package node

import (
	"slices"

	"github.com/shopspring/decimal"

	"github.com/nyan233/ledgertree/errs"
	"github.com/nyan233/ledgertree/record"
)

// NodeRef summarizes a child subtree: the key range it covers, its
// node id, and the exact sum of amounts reachable through it. Every
// mutation to a child must refresh the parent's NodeRef for it in the
// same logical operation.
type NodeRef struct {
	FirstKey record.Key      `json:"first_key"`
	LastKey  record.Key      `json:"last_key"`
	ChildID  uint64          `json:"child_id"`
	Amount   decimal.Decimal `json:"amount"`
}

// Contains reports whether key falls within [FirstKey, LastKey].
func (ref NodeRef) Contains(key record.Key) bool {
	return !key.Less(ref.FirstKey) && !ref.LastKey.Less(key)
}

// Node is a conceptually immutable B-tree node: exactly one of Records
// or Children is populated, and Amount is the cached sum over whichever
// is present. Mutating operations return a new Node value; the caller
// is responsible for storing it back under the same id.
type Node struct {
	ID       uint64
	IsLeaf   bool
	Records  []record.Record
	Children []NodeRef
	Amount   decimal.Decimal
}

// NewLeaf builds a leaf node from records, cloning the slice so the
// caller's backing array is never observably mutated by later rewrites,
// and deriving Amount in this single place so no code path can produce
// a Node with a stale cached sum.
func NewLeaf(id uint64, records []record.Record) Node {
	clone := slices.Clone(records)
	sum := decimal.Zero
	for _, r := range clone {
		sum = sum.Add(r.Amount)
	}
	return Node{ID: id, IsLeaf: true, Records: clone, Amount: sum}
}

// NewInternal builds an internal node from children, cloning the slice
// and deriving Amount from the children's own cached sums.
func NewInternal(id uint64, children []NodeRef) Node {
	clone := slices.Clone(children)
	sum := decimal.Zero
	for _, c := range clone {
		sum = sum.Add(c.Amount)
	}
	return Node{ID: id, IsLeaf: false, Children: clone, Amount: sum}
}

// Len returns the number of entries: len(Records) for a leaf, len(Children)
// for an internal node.
func (n Node) Len() int {
	if n.IsLeaf {
		return len(n.Records)
	}
	return len(n.Children)
}

// Overflowing reports whether n holds more than degree entries.
func (n Node) Overflowing(degree int) bool {
	return n.Len() > degree
}

// FindRecord binary-searches a leaf's records for key. It returns a
// non-negative index on hit, otherwise the bitwise complement of the
// insertion point. Calling FindRecord on an internal node is a contract
// violation.
func (n Node) FindRecord(key record.Key) (int, error) {
	if !n.IsLeaf {
		return 0, errs.ErrInvariantViolation
	}
	idx, found := slices.BinarySearchFunc(n.Records, key, func(r record.Record, k record.Key) int {
		return r.Key.Compare(k)
	})
	if found {
		return idx, nil
	}
	return ^idx, nil
}

// FindChild binary-searches an internal node's children for the one
// whose [FirstKey, LastKey] range contains key. It returns a
// non-negative index on hit, otherwise the bitwise complement of the
// insertion point (the number of children whose range lies entirely
// before key). Calling FindChild on a leaf, or on an internal node with
// no children, is a contract violation.
func (n Node) FindChild(key record.Key) (int, error) {
	if n.IsLeaf {
		return 0, errs.ErrInvariantViolation
	}
	if len(n.Children) == 0 {
		return 0, errs.ErrInvariantViolation
	}
	lo, hi := 0, len(n.Children)
	for lo < hi {
		mid := (lo + hi) / 2
		c := n.Children[mid]
		switch {
		case key.Less(c.FirstKey):
			hi = mid
		case c.LastKey.Less(key):
			lo = mid + 1
		default:
			return mid, nil
		}
	}
	return ^lo, nil
}

// WithInsertedRecord returns a new leaf with r inserted at index i,
// updating the cached amount by +r.Amount.
func (n Node) WithInsertedRecord(i int, r record.Record) (Node, error) {
	if !n.IsLeaf {
		return Node{}, errs.ErrInvariantViolation
	}
	records := slices.Insert(slices.Clone(n.Records), i, r)
	return Node{
		ID:      n.ID,
		IsLeaf:  true,
		Records: records,
		Amount:  n.Amount.Add(r.Amount),
	}, nil
}

// WithDeletedRecord returns a new leaf with the record at index i
// removed, updating the cached amount by -records[i].Amount.
func (n Node) WithDeletedRecord(i int) (Node, error) {
	if !n.IsLeaf {
		return Node{}, errs.ErrInvariantViolation
	}
	removed := n.Records[i]
	records := slices.Delete(slices.Clone(n.Records), i, i+1)
	return Node{
		ID:      n.ID,
		IsLeaf:  true,
		Records: records,
		Amount:  n.Amount.Sub(removed.Amount),
	}, nil
}

// WithReplacedRecord returns a new leaf with the record at index i
// replaced by r, updating the cached amount by (r.Amount - old.Amount).
func (n Node) WithReplacedRecord(i int, r record.Record) (Node, error) {
	if !n.IsLeaf {
		return Node{}, errs.ErrInvariantViolation
	}
	old := n.Records[i]
	records := slices.Clone(n.Records)
	records[i] = r
	return Node{
		ID:      n.ID,
		IsLeaf:  true,
		Records: records,
		Amount:  n.Amount.Sub(old.Amount).Add(r.Amount),
	}, nil
}

// WithReplacedChild returns a new internal node with the NodeRef at
// index i overwritten by newRef, recomputing the cached amount as
// old - oldRef.Amount + newRef.Amount.
func (n Node) WithReplacedChild(i int, newRef NodeRef) (Node, error) {
	if n.IsLeaf {
		return Node{}, errs.ErrInvariantViolation
	}
	old := n.Children[i]
	children := slices.Clone(n.Children)
	children[i] = newRef
	return Node{
		ID:       n.ID,
		IsLeaf:   false,
		Children: children,
		Amount:   n.Amount.Sub(old.Amount).Add(newRef.Amount),
	}, nil
}

// WithReplacedChildByMany returns a new internal node in which the
// child matching oldRef.ChildID is replaced by newRefs. It is used only
// by split: the new refs exactly span the old child's key range, so
// sort order is preserved without a re-sort.
func (n Node) WithReplacedChildByMany(oldRef NodeRef, newRefs []NodeRef) (Node, error) {
	if n.IsLeaf {
		return Node{}, errs.ErrInvariantViolation
	}
	idx := -1
	for i, c := range n.Children {
		if c.ChildID == oldRef.ChildID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Node{}, errs.ErrInvariantViolation
	}
	children := make([]NodeRef, 0, len(n.Children)-1+len(newRefs))
	children = append(children, n.Children[:idx]...)
	children = append(children, newRefs...)
	children = append(children, n.Children[idx+1:]...)
	return NewInternal(n.ID, children), nil
}

// SelfRef produces the NodeRef describing this node's own bounds and
// cached amount, as seen from its parent.
func (n Node) SelfRef() NodeRef {
	ref := NodeRef{ChildID: n.ID, Amount: n.Amount}
	if n.IsLeaf {
		if len(n.Records) > 0 {
			ref.FirstKey = n.Records[0].Key
			ref.LastKey = n.Records[len(n.Records)-1].Key
		}
		return ref
	}
	if len(n.Children) > 0 {
		ref.FirstKey = n.Children[0].FirstKey
		ref.LastKey = n.Children[len(n.Children)-1].LastKey
	}
	return ref
}
