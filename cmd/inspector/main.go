package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/GoPolymarket/liquigate/internal/ledger"
	"github.com/GoPolymarket/liquigate/internal/model"
)

// Small operator tool: dumps ledger state straight from Postgres,
// bypassing the running engine.
func main() {
	dsn := flag.String("dsn", os.Getenv("LIQUIGATE_DATABASE_DSN"), "Postgres DSN")
	what := flag.String("show", "batches", "batches | usage | contributions | allocations")
	limit := flag.Int("limit", 20, "max rows")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("no DSN: pass -dsn or set LIQUIGATE_DATABASE_DSN")
	}

	db, err := ledger.NewDB(*dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()
	store, err := ledger.NewPostgresStore(db)
	if err != nil {
		log.Fatalf("schema: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch *what {
	case "batches":
		batches, err := store.ListBatches(ctx, *limit)
		if err != nil {
			log.Fatal(err)
		}
		for _, b := range batches {
			fmt.Printf("%s  %-9s  matched=%s/%s  lp=%s  tx=%s  %s\n",
				b.ID, b.Status, b.MatchedA, b.MatchedB, b.ActualLP, b.TxRef, b.Reason)
		}
	case "usage":
		day := model.UTCDay(time.Now())
		usage, err := store.DailyUsage(ctx, day)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("day=%s\n", day)
		fmt.Printf("  reserved   a=%s  b=%s\n", usage.ReservedA, usage.ReservedB)
		fmt.Printf("  confirmed  a=%s  b=%s\n", usage.ConfirmedA, usage.ConfirmedB)
		fmt.Printf("  committed  a=%s  b=%s\n", usage.CommittedA(), usage.CommittedB())
	case "contributions":
		recs, err := store.UnstampedContributions(ctx)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%d unattributed contributions\n", len(recs))
		for _, r := range recs {
			fmt.Printf("%s  %-16s  a=%s  b=%s  %s\n",
				r.ID, r.Depositor, r.AmountA, r.AmountB, r.ObservedAt.Format(time.RFC3339))
		}
	case "allocations":
		allocs, err := store.ListAllocations(ctx, "", *limit)
		if err != nil {
			log.Fatal(err)
		}
		for _, a := range allocs {
			fmt.Printf("%s  %-16s  lp=%s  value=%s/%s\n",
				a.BatchID, a.Depositor, a.LPAmount, a.ValueA, a.ValueB)
		}
	default:
		log.Fatalf("unknown -show %q", *what)
	}
}
