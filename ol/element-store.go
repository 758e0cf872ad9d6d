package ol

import (
	"fmt"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
)

// Store maps ids to elements and keeps a parent -> children index.
// The index is derived: every stored element is filed under its Parent and
// nothing else goes into it.
type Store[T comparable] struct {
	elements map[ID]*Element[T]
	children map[ID]mapset.Set[ID]
	order    []ID // arrival order, for stable export
}

func NewStore[T comparable]() *Store[T] {
	return &Store[T]{
		elements: make(map[ID]*Element[T]),
		children: make(map[ID]mapset.Set[ID]),
		order:    []ID{},
	}
}

// Put stores e under its id. Re-putting an identical element is a no-op and
// reports added=false.
func (s *Store[T]) Put(e Element[T]) (added bool, err error) {
	if e.ID.IsRoot() {
		return false, fmt.Errorf("%w: element uses the root id", ErrMalformed)
	}
	if e.Parent == e.ID {
		return false, fmt.Errorf("%w: %v is anchored at itself", ErrMalformed, e.ID)
	}

	if have, ok := s.elements[e.ID]; ok {
		if !have.SameAs(e) {
			return false, fmt.Errorf("%w: %v stored as %v, got %v", ErrDuplicateID, e.ID, *have, e)
		}
		return false, nil
	}

	stored := e
	s.elements[e.ID] = &stored
	s.order = append(s.order, e.ID)

	kids, ok := s.children[e.Parent]
	if !ok {
		kids = mapset.NewThreadUnsafeSet[ID]()
		s.children[e.Parent] = kids
	}
	kids.Add(e.ID)
	return true, nil
}

func (s *Store[T]) Get(id ID) (Element[T], error) {
	e, ok := s.elements[id]
	if !ok {
		return Element[T]{}, fmt.Errorf("%w: %v", ErrNotFound, id)
	}
	return *e, nil
}

func (s *Store[T]) Has(id ID) bool {
	_, ok := s.elements[id]
	return ok
}

// MarkDeleted tombstones id. changed is false if it already was.
func (s *Store[T]) MarkDeleted(id ID) (changed bool, err error) {
	e, ok := s.elements[id]
	if !ok {
		return false, fmt.Errorf("%w: %v", ErrNotFound, id)
	}
	if e.Deleted {
		return false, nil
	}
	e.Deleted = true
	return true, nil
}

// ChildrenOf lists the ids anchored directly at anchor, in sibling order.
func (s *Store[T]) ChildrenOf(anchor ID) []ID {
	kids, ok := s.children[anchor]
	if !ok {
		return nil
	}
	ids := kids.ToSlice()
	slices.SortFunc(ids, ID.Compare)
	return ids
}

func (s *Store[T]) Len() int {
	return len(s.order)
}

// IDs returns a copy of the known ids in arrival order.
func (s *Store[T]) IDs() []ID {
	return slices.Clone(s.order)
}
