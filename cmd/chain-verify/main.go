package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/abhinavjnu/opencoop/config"
	"github.com/abhinavjnu/opencoop/models"
)

// chain-verify walks ledger chains and reports breaks. Read-only: a broken
// chain is printed, never repaired.
func main() {
	aggregateID := flag.String("aggregate-id", "", "Verify a single aggregate (default: all)")
	aggregateType := flag.String("aggregate-type", models.AggregateTypeOrder, "Aggregate type to verify")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	ctx := context.Background()

	ids := []string{}
	if strings.TrimSpace(*aggregateID) != "" {
		ids = append(ids, *aggregateID)
	} else {
		if err := db.WithContext(ctx).Model(&models.Event{}).
			Where("aggregate_type = ?", *aggregateType).
			Distinct("aggregate_id").
			Pluck("aggregate_id", &ids).Error; err != nil {
			fmt.Fprintf(os.Stderr, "list aggregates: %v\n", err)
			os.Exit(1)
		}
	}

	broken := 0
	for _, id := range ids {
		report, err := models.VerifyAggregateChain(ctx, db, id, *aggregateType)
		if err != nil {
			fmt.Fprintf(os.Stderr, "verify %s: %v\n", id, err)
			os.Exit(1)
		}
		if report.Valid {
			fmt.Printf("OK     %s/%s\n", *aggregateType, id)
			continue
		}
		broken++
		fmt.Printf("BROKEN %s/%s at version %d\n", *aggregateType, id, *report.BrokenAtVersion)
	}

	fmt.Printf("verified %d aggregates, %d broken\n", len(ids), broken)
	if broken > 0 {
		os.Exit(2)
	}
}
