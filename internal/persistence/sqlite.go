package persistence

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS guidance_entries (
	key        TEXT PRIMARY KEY,
	namespace  TEXT NOT NULL,
	content    TEXT NOT NULL,
	embedding  BLOB,
	tags       TEXT NOT NULL DEFAULT '[]',
	metadata   TEXT NOT NULL DEFAULT '{}',
	seq        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_namespace ON guidance_entries(namespace, seq);
`

// SQLite stores entries in a single table, embeddings as little-endian
// float32 BLOBs.
type SQLite struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLite opens the database at path, creating parent directories and
// the schema as needed. ":memory:" is accepted for tests.
func NewSQLite(path string, logger *zap.Logger) (*SQLite, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", ErrInvalidConfig)
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating directory for %s: %w", path, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("sqlite persistence initialized", zap.String("path", path))
	return &SQLite{db: db, logger: logger}, nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Store(ctx context.Context, e Entry) error {
	if err := validateEntry(e); err != nil {
		return err
	}
	tags, meta, err := encodeTagsMeta(e.Tags, e.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO guidance_entries (key, namespace, content, embedding, tags, metadata, seq)
		VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM guidance_entries))
		ON CONFLICT(key) DO UPDATE SET
			namespace = excluded.namespace,
			content   = excluded.content,
			embedding = excluded.embedding,
			tags      = excluded.tags,
			metadata  = excluded.metadata`,
		e.Key, e.Namespace, e.Content, float32SliceToBytes(e.Embedding), tags, meta)
	if err != nil {
		return fmt.Errorf("storing %s: %w", e.Key, err)
	}
	return nil
}

func (s *SQLite) Query(ctx context.Context, namespace string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, namespace, content, embedding, tags, metadata
		FROM guidance_entries WHERE namespace = ? ORDER BY seq LIMIT ?`, namespace, limit)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", namespace, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) Update(ctx context.Context, key string, p Patch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning update of %s: %w", key, err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, `
		SELECT key, namespace, content, embedding, tags, metadata
		FROM guidance_entries WHERE key = ?`, key)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return err
	}

	e = p.apply(e)
	tags, meta, err := encodeTagsMeta(e.Tags, e.Metadata)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE guidance_entries SET content = ?, embedding = ?, tags = ?, metadata = ?
		WHERE key = ?`,
		e.Content, float32SliceToBytes(e.Embedding), tags, meta, key); err != nil {
		return fmt.Errorf("updating %s: %w", key, err)
	}
	return tx.Commit()
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM guidance_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (Entry, error) {
	var (
		e         Entry
		embedding []byte
		tags      string
		meta      string
	)
	if err := r.Scan(&e.Key, &e.Namespace, &e.Content, &embedding, &tags, &meta); err != nil {
		if err == sql.ErrNoRows {
			return e, err
		}
		return e, fmt.Errorf("scanning entry: %w", err)
	}
	e.Embedding = bytesToFloat32Slice(embedding)
	if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
		return e, fmt.Errorf("decoding tags of %s: %w", e.Key, err)
	}
	if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
		return e, fmt.Errorf("decoding metadata of %s: %w", e.Key, err)
	}
	return e, nil
}

func encodeTagsMeta(tags []string, meta map[string]string) (string, string, error) {
	if tags == nil {
		tags = []string{}
	}
	if meta == nil {
		meta = map[string]string{}
	}
	t, err := json.Marshal(tags)
	if err != nil {
		return "", "", fmt.Errorf("encoding tags: %w", err)
	}
	m, err := json.Marshal(meta)
	if err != nil {
		return "", "", fmt.Errorf("encoding metadata: %w", err)
	}
	return string(t), string(m), nil
}

func float32SliceToBytes(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToFloat32Slice(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

var _ Delegate = (*SQLite)(nil)
