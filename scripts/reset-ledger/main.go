// reset-ledger clears content-hash ledger rows so the next pipeline run
// re-downloads and re-ingests the affected documents.
//
// Usage: go run ./scripts/reset-ledger [-type schedule|occupancy] [-dry-run=false]
//
// Database connection: uses the same PG* environment variables as the engine.
//
// Flags:
//
//	-type      Only reset rows of this file type (default: all)
//	-dry-run   Show what would be deleted without actually deleting (default: true)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/piculi-bot/piculi-engine/pkg/config"
	"github.com/piculi-bot/piculi-engine/pkg/database"
	"github.com/piculi-bot/piculi-engine/pkg/models"
	"github.com/piculi-bot/piculi-engine/pkg/repositories"
)

func main() {
	fileType := flag.String("type", "", "Only reset rows of this file type (schedule or occupancy)")
	dryRun := flag.Bool("dry-run", true, "Show what would be deleted without actually deleting")
	flag.Parse()

	ft := models.FileType(*fileType)
	switch ft {
	case "", models.FileTypeSchedule, models.FileTypeOccupancy:
	default:
		fmt.Fprintf(os.Stderr, "Unknown file type %q\n", *fileType)
		os.Exit(1)
	}

	var dbCfg config.DatabaseConfig
	if err := cleanenv.ReadEnv(&dbCfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read database environment: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := database.NewConnection(ctx, database.ConfigFrom(dbCfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := repositories.NewProcessedFileRepository(db)

	counts, err := repo.Count(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to count ledger rows: %v\n", err)
		os.Exit(1)
	}

	affected := 0
	for t, n := range counts {
		if ft == "" || t == ft {
			fmt.Printf("  %-10s %d\n", t, n)
			affected += n
		}
	}

	if *dryRun {
		fmt.Println("DRY RUN - no changes will be made")
		fmt.Println("Run with -dry-run=false to actually reset the ledger")
		fmt.Printf("\nTotal rows that would be deleted: %d\n", affected)
		return
	}

	deleted, err := repo.Delete(ctx, ft)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to reset ledger: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nTotal rows deleted: %d\n", deleted)
}
