package main

import (
	"errors"
	"fmt"

	"github.com/kevinxiao27/seqcrdt/ol"
	"github.com/kevinxiao27/seqcrdt/seq"
	"github.com/sanity-io/litter"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func main() {
	litter.Config.HidePrivateFields = false

	// two replicas typing at the start of an empty document
	r1 := seq.NewDocument[rune]("r1")
	r2 := seq.NewDocument[rune]("r2")
	h := must(r1.Insert('h', ol.Root))
	must(r1.Insert('i', h))
	fmt.Printf("r1 alone: %q\n", seq.Text(r1))

	must(r2.Insert('x', ol.Root))
	if err := seq.MergeInto(r2, r1); err != nil {
		panic(err)
	}
	if err := seq.MergeInto(r1, r2); err != nil {
		panic(err)
	}
	fmt.Printf("merged:   r1=%q r2=%q\n", seq.Text(r1), seq.Text(r2))

	// a deletion travels like any other element
	if err := r1.Delete(h); err != nil {
		panic(err)
	}
	if err := seq.MergeInto(r2, r1); err != nil {
		panic(err)
	}
	fmt.Printf("deleted:  r1=%q r2=%q\n", seq.Text(r1), seq.Text(r2))

	// an anchor only becomes usable once its element has arrived
	r3 := seq.NewDocument[rune]("r3")
	x := ol.ID{Replica: "r2", Counter: 1}
	_, err := r3.Insert('!', x)
	fmt.Printf("r3 before merge: invalid anchor=%v\n", errors.Is(err, ol.ErrInvalidAnchor))
	if err := seq.MergeInto(r3, r2); err != nil {
		panic(err)
	}
	must(r3.Insert('!', x))
	fmt.Printf("r3 after merge: %q\n", seq.Text(r3))

	fmt.Println(r3.Dump())
}
