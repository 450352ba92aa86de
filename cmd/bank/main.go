// Command bank is the replicated-bank host application from spec.md §1:
// a thin embedding of the multicast core that reads DEPOSIT/TRANSFER
// lines from stdin, broadcasts them, and applies whatever comes back out
// of Deliver in the agreed total order. It is the runnable boundary the
// core serves, not part of the core's contract (spec.md §6.3).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nkaush/go-mcast/pkg/mcast"
	"github.com/nkaush/go-mcast/pkg/mcast/config"
	"github.com/nkaush/go-mcast/pkg/mcast/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "usage: %s <node-name> <config-file>\n", os.Args[0])
		return 1
	}
	name, configPath := os.Args[1], os.Args[2]

	groupConfig, self, err := config.ParseFile(configPath, name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bank: %v\n", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := mcast.DefaultConfig(self, groupConfig)
	m, err := mcast.Connect(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bank: %v\n", err)
		return 1
	}
	defer m.Shutdown()

	ledger := NewLedger()
	done := make(chan struct{})

	go deliverLoop(ctx, m, ledger, done)
	inputLoop(ctx, m, self)

	<-done
	return 0
}

// inputLoop reads transactions from stdin and broadcasts each one. It
// returns on stdin EOF or ctx cancellation. Its return does not end the
// process: run then keeps waiting for deliverLoop, so after stdin EOF the
// node goes on applying deliveries until an interrupt/SIGTERM cancels ctx
// or the engine stops, and only then exits with code 0.
func inputLoop(ctx context.Context, m *mcast.Multicast, self types.NodeID) {
	cli := NewCli(os.Stdin, self)
	for {
		tx, ok := cli.Next()
		if !ok {
			return
		}
		payload, err := EncodeTransaction(tx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bank: %v\n", err)
			continue
		}
		if err := m.Broadcast(ctx, payload); err != nil {
			fmt.Fprintf(os.Stderr, "bank: broadcast failed: %v\n", err)
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// deliverLoop applies every totally-ordered delivery to the ledger and
// prints balances after each one, until ctx is cancelled or the engine
// stops.
func deliverLoop(ctx context.Context, m *mcast.Multicast, ledger *Ledger, done chan<- struct{}) {
	defer close(done)
	for {
		payload, err := m.Deliver(ctx)
		if err != nil {
			return
		}
		tx, err := DecodeTransaction(payload)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bank: %v\n", err)
			continue
		}
		ledger.Apply(tx)
		fmt.Println(ledger.String())
	}
}
