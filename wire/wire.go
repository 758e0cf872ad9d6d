// Package wire encodes a document's exported operations for transport and
// storage. Values are single characters.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/kevinxiao27/seqcrdt/ol"
	"github.com/kevinxiao27/seqcrdt/util"
	"github.com/oklog/ulid/v2"
)

var ErrBadRecord = errors.New("wire: bad record")

// Record is one element as it travels between replicas.
type Record struct {
	ID      ol.ID  `json:"id"`
	Value   string `json:"value"`
	Parent  ol.ID  `json:"parent"`
	Deleted bool   `json:"deleted,omitempty"`
}

func FromElement(e ol.Element[rune]) Record {
	return Record{ID: e.ID, Value: string(e.Value), Parent: e.Parent, Deleted: e.Deleted}
}

func (r Record) Element() (ol.Element[rune], error) {
	if !utf8.ValidString(r.Value) || utf8.RuneCountInString(r.Value) != 1 {
		return ol.Element[rune]{}, fmt.Errorf("%w: %v value %q is not one character", ErrBadRecord, r.ID, r.Value)
	}
	v, _ := utf8.DecodeRuneInString(r.Value)
	return ol.Element[rune]{ID: r.ID, Value: v, Parent: r.Parent, Deleted: r.Deleted}, nil
}

// Records materialises an operation log.
func Records(ops iter.Seq2[ol.ID, ol.Element[rune]]) []Record {
	recs := []Record{}
	for _, e := range ops {
		recs = append(recs, FromElement(e))
	}
	return recs
}

// Decode checks every record up front and returns them as an operation log
// ready for seq.Document.Merge.
func Decode(recs []Record) (iter.Seq2[ol.ID, ol.Element[rune]], error) {
	els, err := util.MapN(recs, Record.Element)
	if err != nil {
		return nil, err
	}
	return func(yield func(ol.ID, ol.Element[rune]) bool) {
		for _, e := range els {
			if !yield(e.ID, e) {
				return
			}
		}
	}, nil
}

// Digest fingerprints a set of records. Two replicas holding the same
// elements, tombstones included, get the same digest whatever the order.
func Digest(recs []Record) uint64 {
	sorted := slices.Clone(recs)
	slices.SortFunc(sorted, func(a, b Record) int { return a.ID.Compare(b.ID) })

	h := xxhash.New()
	var num [8]byte
	writeID := func(id ol.ID) {
		_, _ = h.WriteString(id.Replica)
		_, _ = h.Write([]byte{0})
		binary.BigEndian.PutUint64(num[:], id.Counter)
		_, _ = h.Write(num[:])
	}
	for _, r := range sorted {
		writeID(r.ID)
		writeID(r.Parent)
		_, _ = h.WriteString(r.Value)
		_, _ = h.Write([]byte{util.Choose[byte](r.Deleted, 1, 0)})
	}
	return h.Sum64()
}

// Envelope is one batch of operations sent by a replica.
type Envelope struct {
	Batch    ulid.ULID `json:"batch"`
	Document string    `json:"document"`
	Replica  string    `json:"replica"`
	Records  []Record  `json:"records"`
	Digest   uint64    `json:"digest"`
}

func NewEnvelope(document, replica string, recs []Record) Envelope {
	return Envelope{
		Batch:    ulid.Make(),
		Document: document,
		Replica:  replica,
		Records:  recs,
		Digest:   Digest(recs),
	}
}

func (env Envelope) Marshal() ([]byte, error) {
	return json.Marshal(env)
}

func Unmarshal(data []byte) (env Envelope, err error) {
	if err = json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	if env.Digest != 0 && env.Digest != Digest(env.Records) {
		return env, fmt.Errorf("%w: batch %s digest mismatch", ErrBadRecord, env.Batch)
	}
	return env, nil
}
