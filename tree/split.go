package tree

import (
	"fmt"

	"github.com/nyan233/ledgertree/errs"
	"github.com/nyan233/ledgertree/node"
)

// dischargeOverflow splits target and rewrites the ancestor chain in
// path (root-to-parent order, as findOverflow recorded it) so the new
// segments take target's place. The immediate parent replaces its one
// NodeRef to target with the new segments' refs; every ancestor above
// that just rewrites its single NodeRef on the path, same as any other
// mutation's ascent.
func (t *AccountTree) dischargeOverflow(path []pathStep, target node.Node) error {
	isRoot := len(path) == 0
	beforeLen := target.Len()
	segments, err := t.splitNode(target, isRoot)
	if err != nil {
		return err
	}
	t.logger.Debug("tree: split node", "id", target.ID, "root", isRoot, "entries", beforeLen, "degree", t.degree)

	if isRoot {
		return nil
	}

	parentStep := path[len(path)-1]
	parent := parentStep.node
	newParent, err := parent.WithReplacedChildByMany(target.SelfRef(), segments)
	if err != nil {
		return err
	}
	t.store.Put(newParent)

	current := newParent
	for i := len(path) - 2; i >= 0; i-- {
		ancestor := path[i].node
		childIdx := path[i].childIdx
		newAncestor, err := ancestor.WithReplacedChild(childIdx, current.SelfRef())
		if err != nil {
			return err
		}
		t.store.Put(newAncestor)
		current = newAncestor
	}
	return nil
}

// splitNode implements spec.md §4.5's split sizing rule: segments =
// ceil(N/D), base size = floor(N/segments), with the last segment
// absorbing the remainder. A non-root split reuses target's own id for
// its first segment, so only ancestors need rewriting; a root split
// retires id 0 to a fresh id and builds a brand new internal root back
// at id 0, since the root's id must never move.
func (t *AccountTree) splitNode(target node.Node, isRoot bool) ([]node.NodeRef, error) {
	n := target.Len()
	degree := t.degree
	segments := ceilDiv(n, degree)
	if segments < 2 {
		segments = 2
	}
	base := n / segments

	bounds := make([][2]int, 0, segments)
	start := 0
	for i := 0; i < segments; i++ {
		end := start + base
		if i == segments-1 {
			end = n
		}
		bounds = append(bounds, [2]int{start, end})
		start = end
	}

	segNodes := make([]node.Node, 0, segments)
	for i, b := range bounds {
		var id uint64
		if i == 0 && !isRoot {
			id = target.ID
		} else {
			id = t.store.NewID()
		}
		var seg node.Node
		if target.IsLeaf {
			seg = node.NewLeaf(id, target.Records[b[0]:b[1]])
		} else {
			seg = node.NewInternal(id, target.Children[b[0]:b[1]])
		}
		segNodes = append(segNodes, seg)
		t.store.Put(seg)
	}

	if isRoot {
		refs := make([]node.NodeRef, 0, len(segNodes))
		for _, seg := range segNodes {
			refs = append(refs, seg.SelfRef())
		}
		newRoot := node.NewInternal(rootID, refs)
		t.store.Put(newRoot)
		return nil, nil
	}

	refs := make([]node.NodeRef, 0, len(segNodes))
	for _, seg := range segNodes {
		refs = append(refs, seg.SelfRef())
	}
	if len(refs) == 0 {
		err := fmt.Errorf("%w: split of node %d produced no segments", errs.ErrInvariantViolation, target.ID)
		t.logger.Error("tree: invariant violation", "error", err)
		return nil, err
	}
	return refs, nil
}

func ceilDiv(n, d int) int {
	if d <= 0 {
		return n
	}
	return (n + d - 1) / d
}
