package persist

import (
	"context"
	"fmt"

	"github.com/golang/glog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kevinxiao27/seqcrdt/ol"
	"github.com/kevinxiao27/seqcrdt/wire"
)

const schema = `
CREATE TABLE IF NOT EXISTS seqcrdt_elements (
	doc            TEXT    NOT NULL,
	replica        TEXT    NOT NULL,
	counter        BIGINT  NOT NULL,
	value          TEXT    NOT NULL,
	parent_replica TEXT    NOT NULL,
	parent_counter BIGINT  NOT NULL,
	deleted        BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (doc, replica, counter)
)`

const upsert = `
INSERT INTO seqcrdt_elements (doc, replica, counter, value, parent_replica, parent_counter, deleted)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (doc, replica, counter)
DO UPDATE SET deleted = seqcrdt_elements.deleted OR excluded.deleted`

const selectDoc = `
SELECT replica, counter, value, parent_replica, parent_counter, deleted
FROM seqcrdt_elements WHERE doc = $1
ORDER BY counter, replica`

// Postgres keeps every document in one table keyed by (doc, id).
type Postgres struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("persist: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persist: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persist: schema: %w", err)
	}
	glog.Infof("[postgres] connected")
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Save(ctx context.Context, doc string, recs []wire.Record) error {
	if err := checkName(doc); err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range recs {
		batch.Queue(upsert, doc, r.ID.Replica, int64(r.ID.Counter), r.Value,
			r.Parent.Replica, int64(r.Parent.Counter), r.Deleted)
	}
	br := p.pool.SendBatch(ctx, batch)
	for range recs {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("persist: save %s: %w", doc, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("persist: save %s: %w", doc, err)
	}
	glog.V(1).Infof("[postgres] saved %d records for %s", len(recs), doc)
	return nil
}

func (p *Postgres) Load(ctx context.Context, doc string) ([]wire.Record, error) {
	if err := checkName(doc); err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, selectDoc, doc)
	if err != nil {
		return nil, fmt.Errorf("persist: load %s: %w", doc, err)
	}
	defer rows.Close()

	recs := []wire.Record{}
	for rows.Next() {
		var (
			r              wire.Record
			counter, pcnt  int64
			replica, prepl string
		)
		if err := rows.Scan(&replica, &counter, &r.Value, &prepl, &pcnt, &r.Deleted); err != nil {
			return nil, fmt.Errorf("persist: load %s: %w", doc, err)
		}
		r.ID = ol.ID{Replica: replica, Counter: uint64(counter)}
		r.Parent = ol.ID{Replica: prepl, Counter: uint64(pcnt)}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (p *Postgres) Documents(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT DISTINCT doc FROM seqcrdt_elements ORDER BY doc`)
	if err != nil {
		return nil, err
	}
	docs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
