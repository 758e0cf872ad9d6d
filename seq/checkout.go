package seq

import (
	"github.com/kevinxiao27/seqcrdt/ol"
	"github.com/kevinxiao27/seqcrdt/util"
)

// walk visits stored elements in document order: pre-order from the root,
// siblings by ol.ID.Compare. It stops early when visit returns false.
func (d *Document[T]) walk(visit func(ol.Element[T]) bool) {
	// explicit stack, a long typed run is a long chain
	stack := util.Reverse(d.store.ChildrenOf(ol.Root))
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		e, err := d.store.Get(id)
		if err != nil {
			continue
		}
		if !visit(e) {
			return
		}
		stack = append(stack, util.Reverse(d.store.ChildrenOf(id))...)
	}
}

// Render returns the live values in document order.
func (d *Document[T]) Render() []T {
	out := []T{}
	d.walk(func(e ol.Element[T]) bool {
		if !e.Deleted {
			out = append(out, e.Value)
		}
		return true
	})
	return out
}

// Visible returns the ids of the live values, aligned with Render.
func (d *Document[T]) Visible() []ol.ID {
	ids := []ol.ID{}
	d.walk(func(e ol.Element[T]) bool {
		if !e.Deleted {
			ids = append(ids, e.ID)
		}
		return true
	})
	return ids
}

// Len is the number of live values.
func (d *Document[T]) Len() int {
	n := 0
	d.walk(func(e ol.Element[T]) bool {
		if !e.Deleted {
			n++
		}
		return true
	})
	return n
}

// IDAt returns the id of the live value at index.
func (d *Document[T]) IDAt(index int) (ol.ID, error) {
	found := ol.Root
	i := 0
	d.walk(func(e ol.Element[T]) bool {
		if e.Deleted {
			return true
		}
		if i == index {
			found = e.ID
			return false
		}
		i++
		return true
	})
	if found.IsRoot() {
		return ol.Root, outOfRange(index, i)
	}
	return found, nil
}

// Text renders a character document.
func Text(d *Document[rune]) string {
	return string(d.Render())
}
