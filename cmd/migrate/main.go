package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	"PoolLedger/internal/config"
	"PoolLedger/internal/observability"
	"PoolLedger/internal/persistence"

	_ "github.com/lib/pq"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: migrate [-env .env] <up|down|status>")
	fmt.Fprintln(os.Stderr, "  up     apply all pending migrations")
	fmt.Fprintln(os.Stderr, "  down   roll back the last applied migration")
	fmt.Fprintln(os.Stderr, "  status list migrations and whether they are applied")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Reads POOL_POSTGRES_DSN and POOL_MIGRATIONS_DIR (default migrations).")
}

func main() {
	envFile := flag.String("env", ".env", "dotenv file")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}

	log := observability.NewLogger("migrate")
	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, os.DirFS(cfg.MigrationsDir), log)

	switch cmd := flag.Arg(0); cmd {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrate up")
		}
	case "down":
		if err := migrator.Down(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrate down")
		}
	case "status":
		statuses, err := migrator.Status(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("migrate status")
		}
		for _, s := range statuses {
			state := "pending"
			switch {
			case s.Modified:
				state = "MODIFIED"
			case s.Applied:
				state = "applied"
			}
			fmt.Printf("%s_%s\t%s\n", s.Version, s.Name, state)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}
}
