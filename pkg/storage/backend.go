package storage

import (
	"database/sql"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"sisort/pkg/logger"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no stored model matches.
var ErrNotFound = errors.New("model not found")

// ModelInfo describes one stored model snapshot.
type ModelInfo struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
	Positions int
	Intervals int
	Rounds    int
	Builder   string
	Entropy   float64 // sum of H_i
}

// ModelStore keeps trained model snapshots in SQLite.
type ModelStore struct {
	db *sql.DB
	mu sync.Mutex
}

func OpenModelStore(path string) (*ModelStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}

	query := `
	CREATE TABLE IF NOT EXISTS models (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		positions  INTEGER NOT NULL,
		intervals  INTEGER NOT NULL,
		rounds     INTEGER NOT NULL,
		builder    TEXT NOT NULL,
		entropy    REAL NOT NULL,
		snapshot   BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS models_name_created ON models (name, created_at);`
	if _, err := db.Exec(query); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "init models table")
	}

	_, err = db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
	`)
	if err != nil {
		logger.Warn("failed to set sqlite pragmas", zap.Error(err))
	}

	return &ModelStore{db: db}, nil
}

// Put stores snapshot under info. A nil ID is replaced by a fresh one and a
// zero CreatedAt by the current time; the stored info is returned.
func (s *ModelStore) Put(info ModelInfo, snapshot []byte) (ModelInfo, error) {
	if info.ID == uuid.Nil {
		info.ID = uuid.New()
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT OR REPLACE INTO models
		(id, name, created_at, positions, intervals, rounds, builder, entropy, snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		info.ID.String(), info.Name, info.CreatedAt.UnixNano(),
		info.Positions, info.Intervals, info.Rounds, info.Builder, info.Entropy, snapshot)
	if err != nil {
		return info, errors.Wrapf(err, "store model %s", info.ID)
	}
	return info, nil
}

const infoColumns = "id, name, created_at, positions, intervals, rounds, builder, entropy"

type scanner interface {
	Scan(dest ...any) error
}

func scanInfo(row scanner, extra ...any) (ModelInfo, error) {
	var (
		info    ModelInfo
		id      string
		created int64
	)
	dest := append([]any{&id, &info.Name, &created, &info.Positions, &info.Intervals,
		&info.Rounds, &info.Builder, &info.Entropy}, extra...)
	if err := row.Scan(dest...); err != nil {
		return info, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return info, errors.Wrapf(err, "stored model id %q", id)
	}
	info.ID = parsed
	info.CreatedAt = time.Unix(0, created)
	return info, nil
}

func (s *ModelStore) Get(id uuid.UUID) (ModelInfo, []byte, error) {
	var snapshot []byte
	row := s.db.QueryRow("SELECT "+infoColumns+", snapshot FROM models WHERE id = ?", id.String())
	info, err := scanInfo(row, &snapshot)
	if err == sql.ErrNoRows {
		return info, nil, errors.Wrapf(ErrNotFound, "id %s", id)
	}
	return info, snapshot, err
}

// Latest returns the most recently created model named name, or the most
// recent model of any name when name is empty.
func (s *ModelStore) Latest(name string) (ModelInfo, []byte, error) {
	var snapshot []byte
	query := "SELECT " + infoColumns + ", snapshot FROM models"
	args := []any{}
	if name != "" {
		query += " WHERE name = ?"
		args = append(args, name)
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT 1"

	info, err := scanInfo(s.db.QueryRow(query, args...), &snapshot)
	if err == sql.ErrNoRows {
		return info, nil, errors.Wrapf(ErrNotFound, "name %q", name)
	}
	return info, snapshot, err
}

// List returns every stored model, oldest first, without snapshots.
func (s *ModelStore) List() ([]ModelInfo, error) {
	rows, err := s.db.Query("SELECT " + infoColumns + " FROM models ORDER BY created_at ASC, rowid ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []ModelInfo
	for rows.Next() {
		info, err := scanInfo(rows)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (s *ModelStore) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec("DELETE FROM models WHERE id = ?", id.String())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(ErrNotFound, "id %s", id)
	}
	return nil
}

func (s *ModelStore) Close() error {
	return s.db.Close()
}
