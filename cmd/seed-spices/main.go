// Command seed-spices imports the bundled spice list (name,weight,color CSV)
// into the container database. Seeding is skipped when containers already
// exist.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/qspice/dispenser/internal/config"
	"github.com/qspice/dispenser/internal/store"
)

func main() {
	csvPath := "spices.csv"
	if len(os.Args) > 1 {
		csvPath = os.Args[1]
	}

	if err := run(csvPath); err != nil {
		fmt.Fprintf(os.Stderr, "import failed: %v\n", err)
		os.Exit(1)
	}
}

func run(csvPath string) error {
	if strings.TrimSpace(csvPath) == "" {
		return fmt.Errorf("csv path must not be empty")
	}

	if _, err := os.Stat(csvPath); err != nil {
		return fmt.Errorf("locate csv: %w", err)
	}

	cfg := config.Default()
	if path := config.DefaultConfigPath(); fileExists(path) {
		loaded, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	return store.New(db).Seed(csvPath)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
