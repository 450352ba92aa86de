package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nkaush/go-mcast/pkg/mcast/types"
)

// Cli turns lines of stdin into Transactions, matching the command
// grammar from spec.md §8's scenarios:
//
//	DEPOSIT <account> <amount>
//	TRANSFER <from> -> <to> <amount>
//
// Malformed lines are skipped with a message to stderr rather than
// aborting the session, mirroring original_source/fault-tolerant-atm's
// Cli::parse_input recursing past bad input.
type Cli struct {
	scanner     *bufio.Scanner
	self        types.NodeID
	nextLocalID uint64
}

// NewCli wraps r (typically os.Stdin) as a line-oriented transaction
// source for node self.
func NewCli(r io.Reader, self types.NodeID) *Cli {
	return &Cli{scanner: bufio.NewScanner(r), self: self}
}

// Next blocks for the next well-formed line and returns the Transaction
// it describes, or false once the input is exhausted (EOF).
func (c *Cli) Next() (Transaction, bool) {
	for c.scanner.Scan() {
		line := strings.TrimSpace(c.scanner.Text())
		if line == "" {
			continue
		}
		tx, err := c.parse(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bank: %v\n", err)
			continue
		}
		return tx, true
	}
	return Transaction{}, false
}

func (c *Cli) parse(line string) (Transaction, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Transaction{}, fmt.Errorf("empty line")
	}

	switch strings.ToUpper(fields[0]) {
	case "DEPOSIT":
		if len(fields) != 3 {
			return Transaction{}, fmt.Errorf("usage: DEPOSIT <account> <amount>")
		}
		amount, err := strconv.Atoi(fields[2])
		if err != nil {
			return Transaction{}, fmt.Errorf("bad amount %q: %w", fields[2], err)
		}
		return c.next(KindDeposit, "", fields[1], amount), nil

	case "TRANSFER":
		if len(fields) != 5 || fields[2] != "->" {
			return Transaction{}, fmt.Errorf("usage: TRANSFER <from> -> <to> <amount>")
		}
		amount, err := strconv.Atoi(fields[4])
		if err != nil {
			return Transaction{}, fmt.Errorf("bad amount %q: %w", fields[4], err)
		}
		return c.next(KindTransfer, fields[1], fields[3], amount), nil

	default:
		return Transaction{}, fmt.Errorf("unrecognized command %q", fields[0])
	}
}

func (c *Cli) next(kind TransactionKind, from, to string, amount int) Transaction {
	tx := Transaction{
		NodeID:    c.self,
		LocalID:   c.nextLocalID,
		Timestamp: time.Now(),
		Kind:      kind,
		From:      from,
		To:        to,
		Amount:    amount,
	}
	c.nextLocalID++
	return tx
}
