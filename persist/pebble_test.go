package persist

import (
	"context"
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/kevinxiao27/seqcrdt/ol"
	"github.com/kevinxiao27/seqcrdt/seq"
	"github.com/kevinxiao27/seqcrdt/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMem(t *testing.T) *Pebble {
	p, err := OpenPebble("", vfs.NewMem())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func typedDoc(t *testing.T, replica, text string) (*seq.Document[rune], []ol.ID) {
	d := seq.NewDocument[rune](replica)
	ids, err := d.InsertText(ol.Root, []rune(text)...)
	require.NoError(t, err)
	return d, ids
}

func TestPebbleSaveLoad(t *testing.T) {
	ctx := context.Background()
	p := openMem(t)
	d, _ := typedDoc(t, "r1", "hello")

	require.NoError(t, p.Save(ctx, "notes", wire.Records(d.ExportOperations())))
	recs, err := p.Load(ctx, "notes")
	require.NoError(t, err)
	require.Len(t, recs, 5)

	ops, err := wire.Decode(recs)
	require.NoError(t, err)
	back := seq.NewDocument[rune]("r1")
	require.NoError(t, back.Merge(ops))
	assert.Equal(t, "hello", seq.Text(back))
	assert.Equal(t, uint64(5), back.Counter())

	empty, err := p.Load(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPebbleKeepsTombstones(t *testing.T) {
	ctx := context.Background()
	p := openMem(t)
	d, ids := typedDoc(t, "r1", "abc")
	live := wire.Records(d.ExportOperations())

	require.NoError(t, d.Delete(ids[1]))
	require.NoError(t, p.Save(ctx, "doc", wire.Records(d.ExportOperations())))
	// a stale live copy saved later does not resurrect b
	require.NoError(t, p.Save(ctx, "doc", live))
	require.NoError(t, p.Save(ctx, "doc", live))

	recs, err := p.Load(ctx, "doc")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	deleted := 0
	for _, r := range recs {
		if r.Deleted {
			deleted++
			assert.Equal(t, ids[1], r.ID)
		}
	}
	assert.Equal(t, 1, deleted)
}

func TestPebbleDocuments(t *testing.T) {
	ctx := context.Background()
	p := openMem(t)
	for _, name := range []string{"b", "a", "ab"} {
		d, _ := typedDoc(t, "r1", "xy")
		require.NoError(t, p.Save(ctx, name, wire.Records(d.ExportOperations())))
	}
	docs, err := p.Documents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "ab", "b"}, docs)

	assert.ErrorIs(t, p.Save(ctx, "", nil), ErrBadName)
	_, err = p.Load(ctx, "a\x00b")
	assert.ErrorIs(t, err, ErrBadName)
}
