package seq

import (
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/kevinxiao27/seqcrdt/ol"
)

// ExportOperations enumerates every element this document knows, buffered
// orphans included, with its current tombstone. Each pass takes a fresh
// snapshot of the ids, so the sequence can be ranged over any number of times.
func (d *Document[T]) ExportOperations() iter.Seq2[ol.ID, ol.Element[T]] {
	return func(yield func(ol.ID, ol.Element[T]) bool) {
		ids := d.store.IDs()
		ids = append(ids, slices.SortedFunc(maps.Keys(d.orphans), ol.ID.Compare)...)
		for _, id := range ids {
			e, ok := d.lookup(id)
			if !ok {
				continue
			}
			if !yield(id, e) {
				return
			}
		}
	}
}

func (d *Document[T]) lookup(id ol.ID) (ol.Element[T], bool) {
	if e, err := d.store.Get(id); err == nil {
		return e, true
	}
	if o, ok := d.orphans[id]; ok {
		return *o, true
	}
	return ol.Element[T]{}, false
}

// Merge folds a peer's operations into this document. Unknown elements are
// adopted as they are; for known ones only the tombstone is taken, and only
// in the live -> deleted direction. Replaying, reordering or splitting the
// input does not change the outcome.
//
// Elements whose parent is still unknown are held back and adopted once the
// parent is merged. Errors are only returned for input that breaks the id
// contract (reused ids, malformed pairs); everything else is still applied.
func (d *Document[T]) Merge(ops iter.Seq2[ol.ID, ol.Element[T]]) error {
	var errs []error
	for id, e := range ops {
		if err := d.integrate(id, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MergeInto merges everything src knows into dest.
func MergeInto[T comparable](dest, src *Document[T]) error {
	return dest.Merge(src.ExportOperations())
}

func (d *Document[T]) integrate(id ol.ID, e ol.Element[T]) error {
	if id != e.ID {
		return fmt.Errorf("%w: key %v carries element %v", ol.ErrMalformed, id, e.ID)
	}
	if id.IsRoot() || e.Parent == id {
		return fmt.Errorf("%w: %v", ol.ErrMalformed, e)
	}

	if have, err := d.store.Get(id); err == nil {
		if !have.SameAs(e) {
			return fmt.Errorf("%w: %v stored as %v, got %v", ol.ErrDuplicateID, id, have, e)
		}
		if e.Deleted {
			_, err = d.store.MarkDeleted(id)
		}
		return err
	}

	if o, ok := d.orphans[id]; ok {
		if !o.SameAs(e) {
			return fmt.Errorf("%w: %v held as %v, got %v", ol.ErrDuplicateID, id, *o, e)
		}
		o.Deleted = o.Deleted || e.Deleted
		return nil
	}

	d.observe(id)
	d.observe(e.Parent)
	if !d.Contains(e.Parent) {
		held := e
		d.orphans[id] = &held
		kids, ok := d.waiting[e.Parent]
		if !ok {
			kids = mapset.NewThreadUnsafeSet[ol.ID]()
			d.waiting[e.Parent] = kids
		}
		kids.Add(id)
		return nil
	}
	return d.adopt(e)
}

// adopt stores e and then every orphan that was waiting on it, transitively.
func (d *Document[T]) adopt(e ol.Element[T]) error {
	queue := []ol.Element[T]{e}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if _, err := d.store.Put(next); err != nil {
			return err
		}
		kids, ok := d.waiting[next.ID]
		if !ok {
			continue
		}
		delete(d.waiting, next.ID)
		for _, kid := range kids.ToSlice() {
			if o, ok := d.orphans[kid]; ok {
				queue = append(queue, *o)
				delete(d.orphans, kid)
			}
		}
	}
	return nil
}

// observe keeps the counter ahead of anything this replica minted before,
// e.g. elements reloaded from disk or echoed back by a peer.
func (d *Document[T]) observe(id ol.ID) {
	if id.Replica == d.replica && id.Counter > d.counter {
		d.counter = id.Counter
	}
}
