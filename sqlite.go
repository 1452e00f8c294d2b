package ouroboros

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS episodes (
	id          TEXT PRIMARY KEY,
	collection  TEXT NOT NULL,
	goal        TEXT NOT NULL,
	success     INTEGER NOT NULL,
	summary     TEXT NOT NULL DEFAULT '',
	duration_ns INTEGER NOT NULL,
	errors      TEXT NOT NULL DEFAULT '[]',
	quality     REAL NOT NULL,
	metadata    TEXT NOT NULL DEFAULT '{}',
	embedding   BLOB,
	status      TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS episodes_collection ON episodes(collection, status);
`

const sqliteColumns = `id, goal, success, summary, duration_ns, errors, quality, metadata, embedding, status, created_at`

// SQLiteEpisodeStore implements EpisodeStore on an embedded SQLite file.
// Embeddings are stored as little-endian float32 BLOBs and ranked in process.
type SQLiteEpisodeStore struct {
	db         *sql.DB
	collection string
}

// OpenSQLiteEpisodeStore opens (or creates) the database at path.
// Use ":memory:" for a private in-process database.
func OpenSQLiteEpisodeStore(ctx context.Context, path, collection string) (*SQLiteEpisodeStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// An in-memory database lives on a single connection.
	db.SetMaxOpenConns(1)

	store, err := NewSQLiteEpisodeStore(ctx, db, collection)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteEpisodeStore creates the schema on db if needed.
func NewSQLiteEpisodeStore(ctx context.Context, db *sql.DB, collection string) (*SQLiteEpisodeStore, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("failed to create episodes schema: %w", err)
	}
	return &SQLiteEpisodeStore{db: db, collection: collection}, nil
}

// Put inserts the episode.
func (s *SQLiteEpisodeStore) Put(ctx context.Context, ep Episode) error {
	errs, err := json.Marshal(ep.Outcome.Errors)
	if err != nil {
		return fmt.Errorf("failed to encode outcome errors: %w", err)
	}
	meta, err := json.Marshal(ep.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	blob, err := ep.Embedding.MarshalBinary()
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO episodes (id, collection, goal, success, summary, duration_ns, errors, quality, metadata, embedding, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ep.ID, s.collection, ep.Goal, ep.Outcome.Success, ep.Outcome.Summary,
		int64(ep.Outcome.Duration), string(errs), ep.Outcome.Quality, string(meta),
		blob, string(ep.Status), ep.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert episode: %w", err)
	}
	return nil
}

// Query loads the collection's retrievable embeddings and ranks them by
// cosine similarity.
func (s *SQLiteEpisodeStore) Query(ctx context.Context, vector Vector, topK int) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, embedding FROM episodes WHERE collection = ? AND status != ? AND embedding IS NOT NULL`,
		s.collection, string(StatusDissolved),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query episodes: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan episode: %w", err)
		}
		var emb Vector
		if err := emb.UnmarshalBinary(blob); err != nil {
			return nil, err
		}
		matches = append(matches, Match{ID: id, Similarity: Cosine(vector, emb)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read episodes: %w", err)
	}

	sortMatches(matches)
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Get loads one episode.
func (s *SQLiteEpisodeStore) Get(ctx context.Context, id string) (Episode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM episodes WHERE collection = ? AND id = ?`,
		s.collection, id,
	)
	ep, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Episode{}, fmt.Errorf("%w: %s", ErrEpisodeNotFound, id)
	}
	return ep, err
}

// Delete removes one episode.
func (s *SQLiteEpisodeStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM episodes WHERE collection = ? AND id = ?`, s.collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete episode: %w", err)
	}
	return requireAffected(res, id)
}

// List returns every episode in the collection, oldest first.
func (s *SQLiteEpisodeStore) List(ctx context.Context) ([]Episode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteColumns+` FROM episodes WHERE collection = ? ORDER BY created_at ASC, id ASC`,
		s.collection,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}
	defer rows.Close()

	var out []Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read episodes: %w", err)
	}
	return out, nil
}

// SetStatus updates the status flag.
func (s *SQLiteEpisodeStore) SetStatus(ctx context.Context, id string, status Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE episodes SET status = ? WHERE collection = ? AND id = ?`,
		string(status), s.collection, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update episode status: %w", err)
	}
	return requireAffected(res, id)
}

// Close closes the database.
func (s *SQLiteEpisodeStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row rowScanner) (Episode, error) {
	var (
		ep         Episode
		durationNS int64
		errs, meta string
		blob       []byte
		status     string
		createdNS  int64
	)
	err := row.Scan(&ep.ID, &ep.Goal, &ep.Outcome.Success, &ep.Outcome.Summary, &durationNS,
		&errs, &ep.Outcome.Quality, &meta, &blob, &status, &createdNS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Episode{}, err
		}
		return Episode{}, fmt.Errorf("failed to scan episode: %w", err)
	}

	if err := json.Unmarshal([]byte(errs), &ep.Outcome.Errors); err != nil {
		return Episode{}, fmt.Errorf("failed to decode outcome errors: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &ep.Metadata); err != nil {
		return Episode{}, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if err := ep.Embedding.UnmarshalBinary(blob); err != nil {
		return Episode{}, err
	}
	ep.Outcome.Duration = time.Duration(durationNS)
	ep.Status = Status(status)
	ep.CreatedAt = time.Unix(0, createdNS)
	return ep, nil
}

func requireAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrEpisodeNotFound, id)
	}
	return nil
}

var _ EpisodeStore = (*SQLiteEpisodeStore)(nil)
