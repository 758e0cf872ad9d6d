package persist

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/golang/glog"
	"github.com/kevinxiao27/seqcrdt/wire"
)

// Pebble stores records under E<doc>\0<replica>\0<counter>.
type Pebble struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) a store in dir. A nil fs means the OS
// filesystem.
func OpenPebble(dir string, fs vfs.FS) (*Pebble, error) {
	if fs == nil {
		fs = vfs.Default
	}
	opts := pebble.Options{
		FS: fs,
		Merger: &pebble.Merger{
			Name:  "seqcrdt.tombstone",
			Merge: tombstoneMerger,
		},
	}
	db, err := pebble.Open(dir, &opts)
	if err != nil {
		return nil, fmt.Errorf("persist: open %s: %w", dir, err)
	}
	return &Pebble{db: db}, nil
}

func docPrefix(doc string) []byte {
	key := make([]byte, 0, len(doc)+2)
	key = append(key, 'E')
	key = append(key, doc...)
	return append(key, 0)
}

func recordKey(doc string, r wire.Record) []byte {
	key := docPrefix(doc)
	key = append(key, r.ID.Replica...)
	key = append(key, 0)
	return binary.BigEndian.AppendUint64(key, r.ID.Counter)
}

func (p *Pebble) Save(ctx context.Context, doc string, recs []wire.Record) error {
	if err := checkName(doc); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := p.db.NewBatch()
	defer batch.Close()
	for _, r := range recs {
		val, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if err := batch.Merge(recordKey(doc, r), val, nil); err != nil {
			return err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("persist: save %s: %w", doc, err)
	}
	glog.V(1).Infof("[pebble] saved %d records for %s", len(recs), doc)
	return nil
}

func (p *Pebble) Load(ctx context.Context, doc string) ([]wire.Record, error) {
	if err := checkName(doc); err != nil {
		return nil, err
	}
	lower := docPrefix(doc)
	upper := append(bytes.Clone(lower[:len(lower)-1]), 1)
	it, err := p.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	recs := []wire.Record{}
	for it.First(); it.Valid(); it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var r wire.Record
		if err := json.Unmarshal(it.Value(), &r); err != nil {
			return nil, fmt.Errorf("persist: load %s key %q: %w", doc, it.Key(), err)
		}
		recs = append(recs, r)
	}
	return recs, it.Error()
}

func (p *Pebble) Documents(ctx context.Context) ([]string, error) {
	it, err := p.db.NewIter(&pebble.IterOptions{LowerBound: []byte{'E'}, UpperBound: []byte{'F'}})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	docs := []string{}
	for valid := it.First(); valid; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := it.Key()
		end := bytes.IndexByte(key, 0)
		if end < 0 {
			valid = it.Next()
			continue
		}
		doc := string(key[1:end])
		docs = append(docs, doc)
		next := append(bytes.Clone(key[:end]), 1)
		valid = it.SeekGE(next)
	}
	return docs, it.Error()
}

func (p *Pebble) Close() error {
	return p.db.Close()
}

// tombstoneMerger folds every stored copy of a record into one, keeping the
// first copy's fields and OR-ing the deleted flag.
func tombstoneMerger(key, value []byte) (pebble.ValueMerger, error) {
	m := &recordMerger{}
	if err := m.add(value); err != nil {
		return nil, err
	}
	return m, nil
}

type recordMerger struct {
	rec  wire.Record
	seen bool
}

func (m *recordMerger) add(value []byte) error {
	var r wire.Record
	if err := json.Unmarshal(value, &r); err != nil {
		return err
	}
	if !m.seen {
		m.rec = r
		m.seen = true
		return nil
	}
	m.rec.Deleted = m.rec.Deleted || r.Deleted
	return nil
}

func (m *recordMerger) MergeNewer(value []byte) error {
	return m.add(value)
}

func (m *recordMerger) MergeOlder(value []byte) error {
	return m.add(value)
}

func (m *recordMerger) Finish(includesBase bool) ([]byte, io.Closer, error) {
	val, err := json.Marshal(m.rec)
	return val, nil, err
}
