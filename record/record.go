package record

import "github.com/shopspring/decimal"

// Record is an immutable financial entry keyed by Key. Once constructed
// it is never mutated in place; updates produce a new Record value.
type Record struct {
	Key         Key             `json:"key"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// NewRecord constructs a Record. The core trusts the caller for
// AccountID validity; the façade is responsible for rejecting a null
// account id before a Record ever reaches the tree.
func NewRecord(key Key, description string, amount decimal.Decimal) Record {
	return Record{Key: key, Description: description, Amount: amount}
}

// WithAmount returns a copy of r with Amount replaced, leaving the
// original untouched.
func (r Record) WithAmount(amount decimal.Decimal) Record {
	r.Amount = amount
	return r
}
