package seq

import (
	"slices"

	"github.com/kevinxiao27/seqcrdt/ol"
	"github.com/sanity-io/litter"
)

type dumpView[T comparable] struct {
	Replica  string
	Counter  uint64
	Elements []ol.Element[T]
	Pending  []ol.Element[T]
	Rendered []T
}

// Dump renders the full state for debugging.
func (d *Document[T]) Dump() string {
	pending := make([]ol.Element[T], 0, len(d.orphans))
	for _, o := range d.orphans {
		pending = append(pending, *o)
	}
	slices.SortFunc(pending, func(a, b ol.Element[T]) int { return a.ID.Compare(b.ID) })

	return litter.Sdump(dumpView[T]{
		Replica:  d.replica,
		Counter:  d.counter,
		Elements: d.Elements(),
		Pending:  pending,
		Rendered: d.Render(),
	})
}
