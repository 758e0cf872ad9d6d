package ol

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
)

// ID is a globally unique element id. Each replica mints its own counters, so
// (Replica, Counter) never collides between well-behaved replicas.
type ID struct {
	Replica string `json:"replica"`
	Counter uint64 `json:"counter"`
}

// Root is the anchor of elements inserted at the very beginning.
var Root = ID{}

func (id ID) IsRoot() bool {
	return id == Root
}

func (id ID) Unpack() (string, uint64) {
	return id.Replica, id.Counter
}

// Compare orders siblings: counter numerically, then replica.
func (id ID) Compare(other ID) int {
	if c := cmp.Compare(id.Counter, other.Counter); c != 0 {
		return c
	}
	return strings.Compare(id.Replica, other.Replica)
}

func (id ID) Less(other ID) bool {
	return id.Compare(other) < 0
}

func (id ID) String() string {
	if id.IsRoot() {
		return "root"
	}
	return id.Replica + ":" + strconv.FormatUint(id.Counter, 10)
}

// ParseID reads the "replica:counter" form produced by String.
func ParseID(s string) (ID, error) {
	if s == "" || s == "root" {
		return Root, nil
	}
	i := strings.LastIndexByte(s, ':')
	if i <= 0 {
		return Root, fmt.Errorf("%w: id %q", ErrMalformed, s)
	}
	counter, err := strconv.ParseUint(s[i+1:], 10, 64)
	if err != nil || counter == 0 {
		return Root, fmt.Errorf("%w: id %q", ErrMalformed, s)
	}
	return ID{Replica: s[:i], Counter: counter}, nil
}

// Element is the atomic unit of a sequence. Everything but Deleted is fixed
// at creation.
type Element[T comparable] struct {
	ID      ID   `json:"id"`
	Value   T    `json:"value"`
	Parent  ID   `json:"parent"`
	Deleted bool `json:"deleted"`
}

// SameAs reports whether both copies agree on the immutable fields.
func (e Element[T]) SameAs(other Element[T]) bool {
	return e.ID == other.ID && e.Parent == other.Parent && e.Value == other.Value
}

func (e Element[T]) String() string {
	del := ""
	if e.Deleted {
		del = " DEL"
	}
	return fmt.Sprintf("%v(%v<-%v%s)", e.Value, e.ID, e.Parent, del)
}
