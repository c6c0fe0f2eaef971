// Command migrate applies the event log schema. Usage:
//
//	migrate [-path migrations] [-steps N] up|down|version
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	migrationsPath := flag.String("path", "migrations", "path to migrations directory")
	steps := flag.Int("steps", 0, "number of steps (0 = all)")
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		command = "up"
	}

	m, err := migrate.New("file://"+*migrationsPath, databaseURL())
	if err != nil {
		log.Fatalf("create migrator: %v", err)
	}
	defer m.Close()

	if err := run(m, command, *steps); err != nil {
		log.Fatalf("migrate %s: %v", command, err)
	}

	v, dirty, verr := m.Version()
	if errors.Is(verr, migrate.ErrNilVersion) {
		fmt.Println("schema is empty")
		return
	}
	fmt.Printf("schema at version %d (dirty: %v)\n", v, dirty)
}

func run(m *migrate.Migrate, command string, steps int) error {
	var err error
	switch command {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	case "version":
		return nil
	default:
		return fmt.Errorf("unknown command %q (use up, down, or version)", command)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

// databaseURL prefers DATABASE_URL and otherwise assembles a DSN from the
// discrete DB_* variables used in deployment manifests.
func databaseURL() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	get := func(key, fallback string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fallback
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		get("DB_USER", "semroute"),
		get("DB_PASSWORD", "semroute-dev"),
		get("DB_HOST", "localhost"),
		get("DB_PORT", "5432"),
		get("DB_NAME", "semroute"),
	)
}
