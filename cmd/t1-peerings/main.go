// t1-peerings - Discover peerings between Tier-1 networks from BGP RIB dumps.
//
// Routes are read from MRT table dumps (downloaded for a day, or given as
// local files) or from the RIPE RIS Live stream. Every AS path is scanned for
// adjacent Tier-1 operators, and each adjacency is classified from the BGP
// communities the operators attach. The distinct peerings and three-hop
// Tier-1 paths are written to JSON and optionally exported to PostgreSQL and
// Redis.
//
// Usage:
//
//	t1-peerings download --date=2026-01-14 --ribs-dir=./mrts -t 8
//	t1-peerings file ./mrts/ris.rrc00.bview.20260114.0000.gz -t 8
//	t1-peerings files ./mrts/*.gz -t 8 --redis=redis://localhost:6379
//	t1-peerings live --collectors=rrc00,rrc11 --duration=1h
//	t1-peerings mirror --mirrored-output=./results/mirrored.json
//
// Environment variables (alternative to flags):
//
//	T1P_THREADS   - Number of parsing workers
//	T1P_REDIS     - Redis URL
//	T1P_DATABASE  - PostgreSQL URL
//	T1P_SKIP_LIST - Path to an asn,filename CSV deny-list
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
