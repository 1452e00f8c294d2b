package ouroboros

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/zoobzio/astql/postgres"
	"github.com/zoobzio/soy"
)

// episodeRecord is the PostgreSQL row for an Episode.
type episodeRecord struct {
	ID         string            `db:"id" type:"uuid" constraints:"primarykey"`
	Collection string            `db:"collection" type:"text" constraints:"notnull"`
	Goal       string            `db:"goal" type:"text" constraints:"notnull"`
	Success    bool              `db:"success" type:"boolean" constraints:"notnull"`
	Summary    string            `db:"summary" type:"text"`
	DurationMS int64             `db:"duration_ms" type:"bigint" constraints:"notnull"`
	Errors     string            `db:"errors" type:"text"`
	Quality    float64           `db:"quality" type:"double precision" constraints:"notnull"`
	Metadata   map[string]string `db:"metadata" type:"jsonb" default:"'{}'"`
	Embedding  Vector            `db:"embedding" type:"vector(1536)"`
	Status     string            `db:"status" type:"text" constraints:"notnull"`
	CreatedAt  time.Time         `db:"created_at" type:"timestamp" constraints:"notnull"`
}

func toRecord(collection string, ep Episode) (*episodeRecord, error) {
	errs, err := json.Marshal(ep.Outcome.Errors)
	if err != nil {
		return nil, fmt.Errorf("failed to encode outcome errors: %w", err)
	}
	return &episodeRecord{
		ID:         ep.ID,
		Collection: collection,
		Goal:       ep.Goal,
		Success:    ep.Outcome.Success,
		Summary:    ep.Outcome.Summary,
		DurationMS: ep.Outcome.Duration.Milliseconds(),
		Errors:     string(errs),
		Quality:    ep.Outcome.Quality,
		Metadata:   ep.Metadata,
		Embedding:  ep.Embedding,
		Status:     string(ep.Status),
		CreatedAt:  ep.CreatedAt,
	}, nil
}

func (r *episodeRecord) episode() (Episode, error) {
	var errs []string
	if r.Errors != "" {
		if err := json.Unmarshal([]byte(r.Errors), &errs); err != nil {
			return Episode{}, fmt.Errorf("failed to decode outcome errors: %w", err)
		}
	}
	return Episode{
		ID:   r.ID,
		Goal: r.Goal,
		Outcome: Outcome{
			Success:  r.Success,
			Summary:  r.Summary,
			Duration: time.Duration(r.DurationMS) * time.Millisecond,
			Errors:   errs,
			Quality:  r.Quality,
		},
		Metadata:  r.Metadata,
		Embedding: r.Embedding,
		Status:    Status(r.Status),
		CreatedAt: r.CreatedAt,
	}, nil
}

// SoyEpisodeStore implements EpisodeStore on PostgreSQL with pgvector,
// using soy for query building. Episodes are partitioned by collection.
type SoyEpisodeStore struct {
	episodes   *soy.Soy[episodeRecord]
	db         *sqlx.DB
	collection string
}

// NewSoyEpisodeStore creates a soy-backed store for the named collection.
func NewSoyEpisodeStore(db *sqlx.DB, collection string) (*SoyEpisodeStore, error) {
	episodes, err := soy.New[episodeRecord](db, "episodes", postgres.New())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize episodes table: %w", err)
	}
	return &SoyEpisodeStore{
		episodes:   episodes,
		db:         db,
		collection: collection,
	}, nil
}

// Put inserts the episode.
func (s *SoyEpisodeStore) Put(ctx context.Context, ep Episode) error {
	rec, err := toRecord(s.collection, ep)
	if err != nil {
		return err
	}
	if _, err := s.episodes.Insert().Exec(ctx, rec); err != nil {
		return fmt.Errorf("failed to insert episode: %w", err)
	}
	return nil
}

// Query orders retrievable episodes by pgvector cosine distance.
// Similarity is recomputed client-side so every store reports the same scale.
func (s *SoyEpisodeStore) Query(ctx context.Context, vector Vector, topK int) ([]Match, error) {
	limit := topK
	if limit <= 0 {
		limit = math.MaxInt32
	}
	records, err := s.episodes.Query().
		Where("collection", "=", "collection").
		Where("status", "IN", "statuses").
		WhereNotNull("embedding").
		OrderByExpr("embedding", "<=>", "query_embedding", "asc").
		Limit(limit).
		Exec(ctx, map[string]any{
			"collection":      s.collection,
			"statuses":        []string{string(StatusActive), string(StatusConsolidated)},
			"query_embedding": vector,
		})
	if err != nil {
		return nil, fmt.Errorf("failed to query episodes: %w", err)
	}

	matches := make([]Match, 0, len(records))
	for _, r := range records {
		matches = append(matches, Match{ID: r.ID, Similarity: Cosine(vector, r.Embedding)})
	}
	sortMatches(matches)
	return matches, nil
}

// Get loads one episode.
func (s *SoyEpisodeStore) Get(ctx context.Context, id string) (Episode, error) {
	rec, err := s.episodes.Select().
		Where("id", "=", "id").
		Where("collection", "=", "collection").
		Exec(ctx, map[string]any{"id": id, "collection": s.collection})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Episode{}, fmt.Errorf("%w: %s", ErrEpisodeNotFound, id)
		}
		return Episode{}, fmt.Errorf("failed to get episode: %w", err)
	}
	return rec.episode()
}

// Delete removes one episode.
func (s *SoyEpisodeStore) Delete(ctx context.Context, id string) error {
	_, err := s.episodes.Remove().
		Where("id", "=", "id").
		Where("collection", "=", "collection").
		Exec(ctx, map[string]any{"id": id, "collection": s.collection})
	if err != nil {
		return fmt.Errorf("failed to delete episode: %w", err)
	}
	return nil
}

// List returns every episode in the collection, oldest first.
func (s *SoyEpisodeStore) List(ctx context.Context) ([]Episode, error) {
	records, err := s.episodes.Query().
		Where("collection", "=", "collection").
		OrderBy("created_at", "asc").
		Exec(ctx, map[string]any{"collection": s.collection})
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}

	out := make([]Episode, 0, len(records))
	for _, r := range records {
		ep, err := r.episode()
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, nil
}

// SetStatus updates the status flag.
func (s *SoyEpisodeStore) SetStatus(ctx context.Context, id string, status Status) error {
	_, err := s.episodes.Modify().
		Set("status", "status").
		Where("id", "=", "id").
		Where("collection", "=", "collection").
		Exec(ctx, map[string]any{
			"status":     string(status),
			"id":         id,
			"collection": s.collection,
		})
	if err != nil {
		return fmt.Errorf("failed to update episode status: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SoyEpisodeStore) Close() error {
	return s.db.Close()
}

var _ EpisodeStore = (*SoyEpisodeStore)(nil)
