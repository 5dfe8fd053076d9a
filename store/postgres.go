package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"ragqa/types"
)

type PostgresConfig struct {
	ConnString string
	IndexName  string
	Dimension  int
	Ready      ReadyPolicy
}

// PostgresStore keeps one index as a pgvector table with an HNSW cosine
// index on the embedding column.
type PostgresStore struct {
	pool   *pgxpool.Pool
	name   string
	ready  ReadyPolicy
	logger *slog.Logger

	mu          sync.RWMutex
	dimension   int
	initialized bool
}

func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.IndexName == "" {
		return nil, errors.New("postgres: index name is required")
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}

	pool, err := pgxpool.New(ctx, cfg.ConnString)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{
		pool:      pool,
		name:      cfg.IndexName,
		ready:     cfg.Ready,
		dimension: cfg.Dimension,
		logger:    slog.Default().With("store", "postgres", "index", cfg.IndexName),
	}, nil
}

func (p *PostgresStore) Name() string { return p.name }

func (p *PostgresStore) table() string { return tableIdent(p.name) }

func (p *PostgresStore) EnsureIndex(ctx context.Context) (types.IndexInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	exists, err := p.tableExists(ctx)
	if err != nil {
		return types.IndexInfo{}, fmt.Errorf("check index %q: %w", p.name, err)
	}

	if exists {
		dim, err := p.columnDimension(ctx)
		if err != nil {
			return types.IndexInfo{}, fmt.Errorf("read dimension of %q: %w", p.name, err)
		}
		if dim > 0 && dim != p.dimension {
			p.logger.Warn("[STORE] existing index has a different dimension", "existing", dim, "configured", p.dimension)
			p.dimension = dim
		}
		p.logger.Info("[STORE] connecting to existing index", "dimension", p.dimension)
	} else {
		p.logger.Info("[STORE] creating index", "dimension", p.dimension, "metric", MetricCosine)
	}

	if err := p.createIndex(ctx); err != nil {
		return types.IndexInfo{}, fmt.Errorf("create index %q: %w", p.name, err)
	}

	if err := waitReady(ctx, p.name, p.ready, p.logger, p.indexReady); err != nil {
		return types.IndexInfo{}, err
	}
	p.initialized = true

	return types.IndexInfo{Name: p.name, Dimension: p.dimension, Metric: MetricCosine, Status: types.StatusReady}, nil
}

func (p *PostgresStore) createIndex(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		embedding vector(%d) NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb
	);

	CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops);
	`, p.table(), p.dimension, indexIdent(p.name), p.table())
	_, err := p.pool.Exec(ctx, query)
	return err
}

func (p *PostgresStore) tableExists(ctx context.Context) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", p.table()).Scan(&exists)
	return exists, err
}

// columnDimension reads the declared vector(n) size; pgvector stores n as the
// column typmod.
func (p *PostgresStore) columnDimension(ctx context.Context) (int, error) {
	var dim int
	err := p.pool.QueryRow(ctx, `
		SELECT a.atttypmod FROM pg_attribute a
		WHERE a.attrelid = to_regclass($1) AND a.attname = 'embedding'`, p.table()).Scan(&dim)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return dim, err
}

func (p *PostgresStore) indexReady(ctx context.Context) (bool, error) {
	var ready bool
	err := p.pool.QueryRow(ctx, `
		SELECT i.indisvalid AND i.indisready FROM pg_index i
		WHERE i.indexrelid = to_regclass($1)`, indexIdent(p.name)).Scan(&ready)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return ready, err
}

func (p *PostgresStore) Upsert(ctx context.Context, records []types.VectorRecord, batchSize int) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.initialized {
		return 0, types.ErrIndexNotInitialized
	}

	valid := acceptRecords(records, p.dimension, p.logger)
	query := fmt.Sprintf(`INSERT INTO %s (id, embedding, metadata)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`, p.table())

	return upsertBatches(ctx, valid, batchSize, p.logger, func(ctx context.Context, batch []types.VectorRecord) (int, error) {
		err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
			b := &pgx.Batch{}
			for _, r := range batch {
				meta, err := json.Marshal(r.Metadata)
				if err != nil {
					return fmt.Errorf("marshal metadata of %s: %w", r.ID, err)
				}
				b.Queue(query, r.ID, pgvector.NewVector(r.Values), string(meta))
			}
			return tx.SendBatch(ctx, b).Close()
		})
		if err != nil {
			return 0, err
		}
		return len(batch), nil
	})
}

func (p *PostgresStore) Query(ctx context.Context, vector []float32, topK int, filter types.Filter) ([]types.Match, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.initialized {
		return nil, types.ErrIndexNotInitialized
	}
	if len(vector) == 0 {
		return nil, errors.New("empty query vector")
	}
	if topK <= 0 {
		return []types.Match{}, nil
	}

	args := []any{pgvector.NewVector(vector), topK}
	filterArg, err := filterJSON(filter)
	if err != nil {
		return nil, err
	}
	if filterArg != "" {
		args = append(args, filterArg)
	}

	rows, err := p.pool.Query(ctx, searchSQL(p.table(), filterArg != ""), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	matches := []types.Match{}
	for rows.Next() {
		var (
			m    types.Match
			meta []byte
		)
		if err := rows.Scan(&m.ID, &meta, &m.Score); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &m.Metadata); err != nil {
			p.logger.Warn("[SEARCH] unreadable metadata", "id", m.ID, "error", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (p *PostgresStore) Stats(ctx context.Context) (types.IndexStats, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.initialized {
		return types.IndexStats{}, types.ErrIndexNotInitialized
	}

	var count int64
	if err := p.pool.QueryRow(ctx, "SELECT count(*) FROM "+p.table()).Scan(&count); err != nil {
		return types.IndexStats{}, err
	}
	return types.IndexStats{VectorCount: count, Dimension: p.dimension}, nil
}

func (p *PostgresStore) Describe(ctx context.Context) (types.IndexInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	info := types.IndexInfo{Name: p.name, Dimension: p.dimension, Metric: MetricCosine, Status: types.StatusNotFound}
	exists, err := p.tableExists(ctx)
	if err != nil || !exists {
		return info, err
	}
	if dim, err := p.columnDimension(ctx); err == nil && dim > 0 {
		info.Dimension = dim
	}
	ready, err := p.indexReady(ctx)
	if err != nil {
		return info, err
	}
	info.Status = types.StatusInitializing
	if ready {
		info.Status = types.StatusReady
	}
	return info, nil
}

func (p *PostgresStore) DeleteIndex(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	exists, err := p.tableExists(ctx)
	if err != nil {
		return err
	}
	p.initialized = false
	if !exists {
		p.logger.Info("[STORE] index does not exist, nothing to delete")
		return nil
	}
	if _, err := p.pool.Exec(ctx, "DROP TABLE IF EXISTS "+p.table()+" CASCADE"); err != nil {
		return fmt.Errorf("drop index %q: %w", p.name, err)
	}
	p.logger.Info("[STORE] index deleted")
	return nil
}

// Close closes the connection pool.
func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		p.logger.Info("Postgres connection pool is closed")
	}
	return nil
}

func tableIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func indexIdent(name string) string {
	return pgx.Identifier{name + "_embedding_idx"}.Sanitize()
}

func searchSQL(table string, filtered bool) string {
	where := ""
	if filtered {
		where = "WHERE metadata @> $3::jsonb"
	}
	return fmt.Sprintf(`
		SELECT id, metadata, 1 - (embedding <=> $1) AS score
		FROM %s
		%s
		ORDER BY embedding <=> $1
		LIMIT $2`, table, where)
}

func filterJSON(filter types.Filter) (string, error) {
	if len(filter) == 0 {
		return "", nil
	}
	b, err := json.Marshal(filter)
	if err != nil {
		return "", fmt.Errorf("marshal filter: %w", err)
	}
	return string(b), nil
}
