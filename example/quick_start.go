// Command quick_start demonstrates the ledger façade end to end: open a
// Ledger, insert a handful of records into one account, read back a
// cumulative balance, and save.
package main

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nyan233/ledgertree/config"
	"github.com/nyan233/ledgertree/ledger"
	"github.com/nyan233/ledgertree/record"
)

func main() {
	l := ledger.Open(config.Config{
		RootDir: "dbset/quick_start",
		Degree:  100,
	})

	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []struct {
		desc   string
		amount string
	}{
		{"opening balance", "1000.00"},
		{"coffee", "-4.50"},
		{"paycheck", "2500.00"},
	}

	for i, e := range entries {
		key := record.NewKey("checking", date, uint32(i))
		inserted, err := l.Insert(record.NewRecord(key, e.desc, decimal.RequireFromString(e.amount)))
		if err != nil {
			panic(fmt.Errorf("insert: %w", err))
		}
		if !inserted {
			panic(fmt.Errorf("unexpected duplicate key at sequence %d", i))
		}
	}

	balance, err := l.BalanceAsOf(record.NewKey("checking", date, uint32(len(entries)-1)))
	if err != nil {
		panic(fmt.Errorf("balance_as_of: %w", err))
	}
	fmt.Printf("balance after %d entries: %s\n", len(entries), balance)

	if err := l.Save(); err != nil {
		panic(fmt.Errorf("save: %w", err))
	}
}
