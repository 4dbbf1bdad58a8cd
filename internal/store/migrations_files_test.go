package store

import (
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"testing"

	"github.com/GDIPSA-Team2/ecoplate/internal/gamification"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		match := pattern.FindStringSubmatch(entry.Name())
		if match == nil {
			t.Fatalf("unexpected file in migrations: %s", entry.Name())
		}
		version, direction := match[1], match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}
	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

func TestBadgeSeedMigrationMatchesCatalogue(t *testing.T) {
	raw, err := fs.ReadFile(migrationFiles, "migrations/0006_seed_badges.up.sql")
	if err != nil {
		t.Fatalf("read badge seed migration: %v", err)
	}
	sql := string(raw)
	for _, b := range gamification.Catalogue() {
		row := fmt.Sprintf("('%s', '%s', '%s', '%s', '%s', %d, %d)",
			b.Code, b.Name, b.Description, b.Category, b.Metric, b.Threshold, b.BonusPoints)
		if !strings.Contains(sql, row) {
			t.Errorf("badge seed migration is missing or out of date for %s; want row %s", b.Code, row)
		}
	}
	if got, want := strings.Count(sql, "\n    ('"), len(gamification.Catalogue()); got != want {
		t.Errorf("badge seed migration has %d rows, catalogue has %d", got, want)
	}
}
