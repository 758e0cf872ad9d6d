// Package persist keeps documents' element logs on disk. Writes are merges:
// saving the same record twice is harmless and a stored tombstone is never
// cleared by a later save of a live copy.
package persist

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kevinxiao27/seqcrdt/wire"
)

var ErrBadName = errors.New("persist: bad document name")

type Store interface {
	Save(ctx context.Context, doc string, recs []wire.Record) error
	Load(ctx context.Context, doc string) ([]wire.Record, error)
	Documents(ctx context.Context) ([]string, error)
	Close() error
}

func checkName(doc string) error {
	if doc == "" || strings.ContainsRune(doc, 0) {
		return fmt.Errorf("%w: %q", ErrBadName, doc)
	}
	return nil
}
