// Package seq implements a replicated sequence. Every element is anchored at
// the element it was typed after; concurrent siblings are ordered by id, so
// replicas holding the same elements render the same sequence no matter how
// the elements reached them.
package seq

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/kevinxiao27/seqcrdt/ol"
	"github.com/kevinxiao27/seqcrdt/util"
)

// Document is one replica's copy of a sequence. It does no locking of its own:
// callers sharing a Document between goroutines must serialise access.
type Document[T comparable] struct {
	replica string
	counter uint64
	store   *ol.Store[T]

	// merged elements whose parent has not arrived yet
	orphans map[ol.ID]*ol.Element[T]
	waiting map[ol.ID]mapset.Set[ol.ID] // missing parent -> orphan ids
}

// NewDocument creates an empty document owned by replica. Replica ids must be
// unique among every document that will ever be merged together.
func NewDocument[T comparable](replica string) *Document[T] {
	if replica == "" {
		panic("seq: empty replica id")
	}
	return &Document[T]{
		replica: replica,
		store:   ol.NewStore[T](),
		orphans: make(map[ol.ID]*ol.Element[T]),
		waiting: make(map[ol.ID]mapset.Set[ol.ID]),
	}
}

func (d *Document[T]) Replica() string {
	return d.replica
}

// Counter is the last counter minted (or observed) for this replica.
func (d *Document[T]) Counter() uint64 {
	return d.counter
}

func (d *Document[T]) Get(id ol.ID) (ol.Element[T], error) {
	return d.store.Get(id)
}

// Contains reports whether id is stored and can be used as an anchor.
func (d *Document[T]) Contains(id ol.ID) bool {
	return id.IsRoot() || d.store.Has(id)
}

// Insert places value right after the element after (or at the start, for
// ol.Root) and returns the new element's id.
func (d *Document[T]) Insert(value T, after ol.ID) (ol.ID, error) {
	if !d.Contains(after) {
		return ol.Root, fmt.Errorf("%w: insert after %v", ol.ErrInvalidAnchor, after)
	}

	d.counter++
	id := ol.ID{Replica: d.replica, Counter: d.counter}
	if _, err := d.store.Put(ol.Element[T]{ID: id, Value: value, Parent: after}); err != nil {
		return ol.Root, err
	}
	return id, nil
}

// InsertText inserts a run of values, each one anchored at the previous.
func (d *Document[T]) InsertText(after ol.ID, values ...T) ([]ol.ID, error) {
	if !d.Contains(after) {
		return nil, fmt.Errorf("%w: insert after %v", ol.ErrInvalidAnchor, after)
	}
	ids := make([]ol.ID, 0, len(values))
	for _, v := range values {
		id, err := d.Insert(v, after)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
		after = id
	}
	return ids, nil
}

// Delete tombstones id. Deleting twice is fine.
func (d *Document[T]) Delete(id ol.ID) error {
	_, err := d.store.MarkDeleted(id)
	return err
}

// DeleteAt tombstones n visible elements starting at index.
func (d *Document[T]) DeleteAt(index, n int) error {
	ids := d.Visible()
	if index < 0 || n < 0 || index+n > len(ids) {
		return fmt.Errorf("%w: delete %d at %d of %d", ol.ErrOutOfRange, n, index, len(ids))
	}
	for _, id := range ids[index : index+n] {
		if err := d.Delete(id); err != nil {
			return err
		}
	}
	return nil
}

// Stats counts elements by state.
type Stats struct {
	Live       int
	Tombstoned int
	Pending    int
}

func (d *Document[T]) Stats() Stats {
	elements := d.Elements()
	live := util.Filter(elements, func(e ol.Element[T]) bool { return !e.Deleted })
	return Stats{
		Live:       len(live),
		Tombstoned: len(elements) - len(live),
		Pending:    len(d.orphans),
	}
}

// Elements lists stored elements in arrival order. Buffered orphans are not
// included.
func (d *Document[T]) Elements() []ol.Element[T] {
	ids := d.store.IDs()
	out := make([]ol.Element[T], 0, len(ids))
	for _, id := range ids {
		if e, err := d.store.Get(id); err == nil {
			out = append(out, e)
		}
	}
	return out
}

func outOfRange(index, n int) error {
	return fmt.Errorf("%w: index %d of %d", ol.ErrOutOfRange, index, n)
}
