package node

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/nyan233/ledgertree/record"
)

// wireNode is the self-describing on-disk shape spec.md §6 requires:
// id, is_leaf, one of records/children, and the cached amount. It
// mirrors sokv's own choice of encoding/json as its generic Codec[T]
// implementation (see codec.go's JsonTypeCodec) rather than a hand
// rolled binary layout.
type wireNode struct {
	ID       uint64          `json:"id"`
	IsLeaf   bool            `json:"is_leaf"`
	Records  []record.Record `json:"records,omitempty"`
	Children []NodeRef       `json:"children,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
}

// MarshalJSON implements the node blob codec used by NodeStore.save.
func (n Node) MarshalJSON() ([]byte, error) {
	w := wireNode{
		ID:     n.ID,
		IsLeaf: n.IsLeaf,
		Amount: n.Amount,
	}
	if n.IsLeaf {
		w.Records = n.Records
	} else {
		w.Children = n.Children
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements the node blob codec used by NodeStore.get on
// a cache miss. It round-trips exactly, including decimal precision for
// Amount, since decimal.Decimal encodes itself as a JSON string rather
// than a binary float.
func (n *Node) UnmarshalJSON(data []byte) error {
	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	n.ID = w.ID
	n.IsLeaf = w.IsLeaf
	n.Amount = w.Amount
	if w.IsLeaf {
		n.Records = w.Records
		n.Children = nil
	} else {
		n.Children = w.Children
		n.Records = nil
	}
	return nil
}
