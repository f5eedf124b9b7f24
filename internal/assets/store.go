package assets

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLStore persists asset metadata in SQLite and transcoded audio files on
// disk under <dataDir>/tts. It implements Store.
type SQLStore struct {
	db     *sql.DB
	ttsDir string
}

var _ Store = (*SQLStore)(nil)

// OpenStore creates or opens the asset store under dataDir with WAL mode
// enabled and runs any pending migrations.
func OpenStore(dataDir string) (*SQLStore, error) {
	ttsDir := filepath.Join(dataDir, "tts")
	if err := os.MkdirAll(ttsDir, 0750); err != nil {
		return nil, fmt.Errorf("creating tts directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "voxflow.db")
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// SQLite performs best with a single writer connection.
	db.SetMaxOpenConns(1)

	s := &SQLStore{db: db, ttsDir: ttsDir}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("asset store opened", "path", dbPath)
	return s, nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// AssetPath returns the on-disk location for a fingerprint's transcoded audio.
func (s *SQLStore) AssetPath(fingerprint string) string {
	return filepath.Join(s.ttsDir, "tts_"+fingerprint+".ulaw")
}

// Save inserts or replaces the asset record for a fingerprint.
func (s *SQLStore) Save(ctx context.Context, asset *Asset) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO speech_assets
		 (fingerprint, text, language, media_ref, file_path, file_size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		asset.Fingerprint, asset.Text, asset.Language, asset.MediaRef,
		asset.FilePath, asset.FileSize, asset.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting speech asset: %w", err)
	}
	return nil
}

// Get returns the asset for a fingerprint, or nil if absent.
func (s *SQLStore) Get(ctx context.Context, fingerprint string) (*Asset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT fingerprint, text, language, media_ref, file_path, file_size, created_at
		 FROM speech_assets WHERE fingerprint = ?`, fingerprint)

	var a Asset
	err := row.Scan(&a.Fingerprint, &a.Text, &a.Language, &a.MediaRef,
		&a.FilePath, &a.FileSize, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning speech asset: %w", err)
	}
	return &a, nil
}

// List returns all stored assets, ordered by creation time.
func (s *SQLStore) List(ctx context.Context) ([]Asset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fingerprint, text, language, media_ref, file_path, file_size, created_at
		 FROM speech_assets ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("querying speech assets: %w", err)
	}
	defer rows.Close()

	var assets []Asset
	for rows.Next() {
		var a Asset
		if err := rows.Scan(&a.Fingerprint, &a.Text, &a.Language, &a.MediaRef,
			&a.FilePath, &a.FileSize, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning speech asset row: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// Delete removes the asset record and its audio file. Deleting an absent
// fingerprint is a no-op.
func (s *SQLStore) Delete(ctx context.Context, fingerprint string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM speech_assets WHERE fingerprint = ?`, fingerprint); err != nil {
		return fmt.Errorf("deleting speech asset: %w", err)
	}
	if err := os.Remove(s.AssetPath(fingerprint)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing asset file: %w", err)
	}
	return nil
}

// migrate runs all pending SQL migration files in order.
func (s *SQLStore) migrate() error {
	// Create migrations tracking table.
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to ensure order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		if err := s.db.QueryRow(
			"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version,
		).Scan(&count); err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %s: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}

		slog.Info("applied migration", "version", version)
	}

	return nil
}
