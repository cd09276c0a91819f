package schema

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// SchemaVersion is one applied migration
type SchemaVersion struct {
	Version     int       `json:"version"`
	Description string    `json:"description"`
	AppliedAt   time.Time `json:"applied_at"`
}

// Migration moves the schema from Version-1 to Version. Up must be safe to
// rerun: a crash between Up and recording the version repeats it.
type Migration struct {
	Version     int
	Description string
	Up          MigrationFunc
}

// MigrationFunc performs a migration
type MigrationFunc func(ctx context.Context) error

// VersionStore persists which migrations have been applied
type VersionStore interface {
	CurrentVersion(ctx context.Context) (int, error)
	Record(ctx context.Context, version SchemaVersion) error
}

// Evolution applies registered migrations in version order
type Evolution struct {
	store      VersionStore
	migrations []Migration
	logger     *zap.Logger
}

// NewEvolution creates a new schema evolution manager
func NewEvolution(store VersionStore, logger *zap.Logger) *Evolution {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evolution{store: store, logger: logger}
}

// Register adds a migration. Versions start at 1 and must be unique.
func (e *Evolution) Register(migrations ...Migration) error {
	for _, m := range migrations {
		if m.Version < 1 {
			return fmt.Errorf("invalid migration version %d", m.Version)
		}
		if m.Up == nil {
			return fmt.Errorf("migration %d has no Up step", m.Version)
		}
		for _, existing := range e.migrations {
			if existing.Version == m.Version {
				return fmt.Errorf("migration %d already registered", m.Version)
			}
		}
		e.migrations = append(e.migrations, m)
	}
	sort.Slice(e.migrations, func(i, j int) bool { return e.migrations[i].Version < e.migrations[j].Version })
	return nil
}

// Latest is the version the registered migrations lead to
func (e *Evolution) Latest() int {
	if len(e.migrations) == 0 {
		return 0
	}
	return e.migrations[len(e.migrations)-1].Version
}

// Migrate applies every migration newer than the stored version and
// returns how many ran
func (e *Evolution) Migrate(ctx context.Context) (int, error) {
	current, err := e.store.CurrentVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if current > e.Latest() {
		return 0, fmt.Errorf("schema version %d is newer than this build (%d)", current, e.Latest())
	}

	applied := 0
	for _, m := range e.migrations {
		if m.Version <= current {
			continue
		}
		if m.Version != current+1 {
			return applied, fmt.Errorf("no migration found from version %d to %d", current, current+1)
		}
		if err := m.Up(ctx); err != nil {
			return applied, fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
		if err := e.store.Record(ctx, SchemaVersion{Version: m.Version, Description: m.Description, AppliedAt: time.Now().UTC()}); err != nil {
			return applied, fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		e.logger.Info("Schema migration applied",
			zap.Int("version", m.Version),
			zap.String("description", m.Description))
		current = m.Version
		applied++
	}
	return applied, nil
}
