// Package cache persists generated tests and analysis context in SQLite so
// repeated runs over unchanged sources skip the backend entirely.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/skeehn/testpilot/internal/logging"
)

// Store is a SQLite-backed cache. SQLite allows one writer at a time, so all
// mutating calls serialize on the mutex.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
	logger *logging.Logger
}

// Entry is a cached generation result.
type Entry struct {
	SourceHash   string
	PromptHash   string
	Provider     string
	Model        string
	TestCode     string
	QualityScore float64
	CreatedAt    time.Time
}

// Stats summarizes cache contents.
type Stats struct {
	TestEntries    int
	ContextEntries int
	Path           string
}

// NewStore opens or creates the cache database at path.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	s := &Store{db: db, dbPath: path, logger: logging.Get(logging.CategoryCache)}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS test_cache (
		source_hash TEXT NOT NULL,
		prompt_hash TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		test_code TEXT NOT NULL,
		quality_score REAL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_accessed DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (source_hash, prompt_hash, provider, model)
	);
	CREATE TABLE IF NOT EXISTS context_cache (
		file_path TEXT PRIMARY KEY,
		file_hash TEXT NOT NULL,
		context_data TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create cache tables: %w", err)
	}
	return nil
}

// Hash returns the hex sha256 of data, the key form used for all lookups.
func Hash(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// GetTest looks up a cached generation keyed by source, prompt, provider and
// model. A hit refreshes last_accessed.
func (s *Store) GetTest(sourceHash, promptHash, provider, model string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`
		SELECT test_code, quality_score, created_at
		FROM test_cache
		WHERE source_hash = ? AND prompt_hash = ? AND provider = ? AND model = ?`,
		sourceHash, promptHash, provider, model)

	entry := &Entry{
		SourceHash: sourceHash,
		PromptHash: promptHash,
		Provider:   provider,
		Model:      model,
	}
	if err := row.Scan(&entry.TestCode, &entry.QualityScore, &entry.CreatedAt); err != nil {
		if err != sql.ErrNoRows {
			s.logger.Warn("test cache lookup failed: %v", err)
		}
		return nil, false
	}

	if _, err := s.db.Exec(`
		UPDATE test_cache SET last_accessed = CURRENT_TIMESTAMP
		WHERE source_hash = ? AND prompt_hash = ? AND provider = ? AND model = ?`,
		sourceHash, promptHash, provider, model); err != nil {
		s.logger.Warn("failed to refresh last_accessed: %v", err)
	}

	s.logger.Debug("test cache hit: source=%.12s provider=%s model=%s", sourceHash, provider, model)
	return entry, true
}

// PutTest stores or replaces a generation result.
func (s *Store) PutTest(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO test_cache
		(source_hash, prompt_hash, provider, model, test_code, quality_score, created_at, last_accessed)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		e.SourceHash, e.PromptHash, e.Provider, e.Model, e.TestCode, e.QualityScore)
	if err != nil {
		return fmt.Errorf("failed to store test cache entry: %w", err)
	}
	s.logger.Debug("test cache store: source=%.12s provider=%s model=%s score=%.2f",
		e.SourceHash, e.Provider, e.Model, e.QualityScore)
	return nil
}

// GetContext returns cached analysis context for a file, rejected when the
// file content has changed since it was stored.
func (s *Store) GetContext(filePath, fileHash string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var storedHash, data string
	row := s.db.QueryRow(`SELECT file_hash, context_data FROM context_cache WHERE file_path = ?`, filePath)
	if err := row.Scan(&storedHash, &data); err != nil {
		if err != sql.ErrNoRows {
			s.logger.Warn("context cache lookup failed: %v", err)
		}
		return "", false
	}
	if storedHash != fileHash {
		s.logger.Debug("context cache stale: %s", filePath)
		return "", false
	}
	return data, true
}

// PutContext stores or replaces analysis context for a file.
func (s *Store) PutContext(filePath, fileHash, contextData string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO context_cache (file_path, file_hash, context_data, created_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)`,
		filePath, fileHash, contextData)
	if err != nil {
		return fmt.Errorf("failed to store context cache entry: %w", err)
	}
	return nil
}

// Stats counts entries in both tables.
func (s *Store) Stats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{Path: s.dbPath}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM test_cache`).Scan(&stats.TestEntries); err != nil {
		return stats, fmt.Errorf("failed to count test cache: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM context_cache`).Scan(&stats.ContextEntries); err != nil {
		return stats, fmt.Errorf("failed to count context cache: %w", err)
	}
	return stats, nil
}

// Clear removes every cached entry.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM test_cache`); err != nil {
		return fmt.Errorf("failed to clear test cache: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM context_cache`); err != nil {
		return fmt.Errorf("failed to clear context cache: %w", err)
	}
	s.logger.Info("cache cleared")
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
