package main

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sort"
	"time"

	"github.com/nkaush/go-mcast/pkg/mcast/types"
)

// TransactionKind discriminates the two operations the replicated ledger
// understands, supplemented from original_source/fault-tolerant-atm's
// Bank (the host application spec.md §1 treats as an external
// collaborator, not part of the core's contract).
type TransactionKind int

const (
	KindDeposit TransactionKind = iota
	KindTransfer
)

// Transaction is one opaque payload broadcast through the multicast
// core. Encoding is gob: both ends of every wire hop are this same Go
// binary, so there is no cross-language or cross-version concern that
// would call for a schema-carrying format - gob is the standard-library
// idiom for exactly this case (see DESIGN.md for why no pack
// serialization library was wired here instead).
type Transaction struct {
	NodeID    types.NodeID
	LocalID   uint64
	Timestamp time.Time
	Kind      TransactionKind
	From      string
	To        string
	Amount    int
}

// EncodeTransaction serializes tx for Broadcast/SendTo.
func EncodeTransaction(tx Transaction) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(tx); err != nil {
		return nil, fmt.Errorf("bank: encode transaction: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeTransaction deserializes a payload handed back by Deliver.
func DecodeTransaction(payload []byte) (Transaction, error) {
	var tx Transaction
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&tx); err != nil {
		return Transaction{}, fmt.Errorf("bank: decode transaction: %w", err)
	}
	return tx, nil
}

// Ledger is the replicated bank state: every correct node applies the
// same totally-ordered transaction sequence and ends up with identical
// balances (spec.md §8 scenarios S1-S3).
type Ledger struct {
	balances map[string]int
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{balances: make(map[string]int)}
}

// Apply processes tx against the ledger. A transfer from an account with
// insufficient (or absent) funds has no effect - per spec.md S3, the
// operation is silently skipped, not rejected or retried.
func (l *Ledger) Apply(tx Transaction) {
	switch tx.Kind {
	case KindDeposit:
		l.balances[tx.To] += tx.Amount
	case KindTransfer:
		balance, ok := l.balances[tx.From]
		if !ok || balance < tx.Amount {
			return
		}
		l.balances[tx.From] -= tx.Amount
		l.balances[tx.To] += tx.Amount
	}
}

// Balance returns the current balance for account, 0 if never seen.
func (l *Ledger) Balance(account string) int {
	return l.balances[account]
}

// String renders every account in sorted order for deterministic,
// diffable output across replicas.
func (l *Ledger) String() string {
	accounts := make([]string, 0, len(l.balances))
	for account := range l.balances {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)

	var buf bytes.Buffer
	buf.WriteString("BALANCES ")
	for _, account := range accounts {
		fmt.Fprintf(&buf, "%s:%d ", account, l.balances[account])
	}
	return buf.String()
}
