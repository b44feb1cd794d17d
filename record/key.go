// Package record defines the key and value types stored in a ledgertree
// AccountTree: a comparable composite key and an immutable monetary
// record.
package record

import "time"

// Key is the ordered triple (account, date, sequence) that identifies a
// Record. Comparison order is account id (lexicographic), then date
// (ascending), then sequence (ascending).
type Key struct {
	AccountID string    `json:"account_id"`
	Date      time.Time `json:"date"`
	Sequence  uint32    `json:"sequence"`
}

// NewKey builds a Key. It does not validate AccountID; that is a
// boundary concern left to the façade, per spec.
func NewKey(accountID string, date time.Time, sequence uint32) Key {
	return Key{AccountID: accountID, Date: date, Sequence: sequence}
}

// Compare returns -1, 0, or 1 as k sorts before, at, or after other.
func (k Key) Compare(other Key) int {
	if k.AccountID != other.AccountID {
		if k.AccountID < other.AccountID {
			return -1
		}
		return 1
	}
	if !k.Date.Equal(other.Date) {
		if k.Date.Before(other.Date) {
			return -1
		}
		return 1
	}
	switch {
	case k.Sequence < other.Sequence:
		return -1
	case k.Sequence > other.Sequence:
		return 1
	default:
		return 0
	}
}

// Less reports whether k sorts strictly before other.
func (k Key) Less(other Key) bool {
	return k.Compare(other) < 0
}

// SameDay reports whether k and other share the same account and date,
// ignoring sequence. Used by AdjustKey's rightmost-descent shortcut.
func (k Key) SameDay(other Key) bool {
	return k.AccountID == other.AccountID && k.Date.Equal(other.Date)
}
