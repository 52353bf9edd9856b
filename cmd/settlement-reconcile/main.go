package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/abhinavjnu/opencoop/config"
	"github.com/abhinavjnu/opencoop/workflow"
)

// settlement-reconcile re-emits ledger events for escrow rows that settled
// but whose post-commit emission never completed. Run periodically (cron) or
// manually after an incident.
func main() {
	olderThanMin := flag.Int("older-than-minutes", 5, "Only repair settlements older than this")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	logger := config.GetLogger()
	repaired, err := workflow.ReconcileSettlementEvents(context.Background(), logger,
		time.Duration(*olderThanMin)*time.Minute)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconcile: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("repaired %d settlements\n", repaired)
}
