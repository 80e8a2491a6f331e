package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Seed loads the bundled spice list into the repository on first run. Each
// CSV record is a name,weight,color triple, where weight is grams per
// teaspoon. Seeding only happens when no containers exist yet, so it is safe
// to call on every startup.
func (r *Repository) Seed(csvPath string) error {
	n, err := r.CountContainers()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	f, err := os.Open(csvPath)
	if err != nil {
		return fmt.Errorf("store: open seed file: %w", err)
	}
	defer f.Close()

	seeded, err := r.seedFrom(f)
	if err != nil {
		return err
	}
	slog.Info("[store] seeded containers", "count", seeded, "file", csvPath)
	return nil
}

func (r *Repository) seedFrom(src io.Reader) (int, error) {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = 3
	reader.TrimLeadingSpace = true

	seeded := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return seeded, fmt.Errorf("store: read seed record: %w", err)
		}

		name := strings.TrimSpace(record[0])
		if name == "" {
			continue
		}
		weight, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
		if err != nil {
			return seeded, fmt.Errorf("store: seed weight for %q: %w", name, err)
		}
		color := strings.TrimSpace(record[2])

		if err := r.AddContainer(name, weight, color); err != nil {
			return seeded, err
		}
		seeded++
	}
	return seeded, nil
}
