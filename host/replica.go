// Package host owns the live documents of a process: one Replica per named
// document, each guarding its seq.Document with a mutex, and a Registry that
// loads and saves them through a persist.Store.
package host

import (
	"sync"

	"github.com/golang/glog"
	"github.com/kevinxiao27/seqcrdt/ol"
	"github.com/kevinxiao27/seqcrdt/seq"
	"github.com/kevinxiao27/seqcrdt/wire"
)

type Replica struct {
	name string

	mu      sync.Mutex
	doc     *seq.Document[rune]
	version uint64 // bumped on every change
	saved   uint64 // version last written to the store
}

func NewReplica(name, replica string) *Replica {
	return &Replica{name: name, doc: seq.NewDocument[rune](replica)}
}

func (r *Replica) Name() string {
	return r.name
}

func (r *Replica) ReplicaID() string {
	return r.doc.Replica()
}

func (r *Replica) Version() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// Insert types text after the element after.
func (r *Replica) Insert(after ol.ID, text string) ([]ol.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insert(after, text)
}

// InsertAfterPos anchors text at the visible character just before pos (the
// document start when pos is 0). Characters already anchored there with
// smaller ids stay in front of the new text.
func (r *Replica) InsertAfterPos(pos int, text string) ([]ol.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	after := ol.Root
	if pos != 0 {
		id, err := r.doc.IDAt(pos - 1)
		if err != nil {
			return nil, err
		}
		after = id
	}
	return r.insert(after, text)
}

func (r *Replica) insert(after ol.ID, text string) ([]ol.ID, error) {
	ids, err := r.doc.InsertText(after, []rune(text)...)
	if len(ids) > 0 {
		r.version++
	}
	glog.V(2).Infof("INSERT: doc=%s replica=%s after=%v text=%q", r.name, r.doc.Replica(), after, text)
	return ids, err
}

func (r *Replica) Delete(id ol.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.doc.Delete(id); err != nil {
		return err
	}
	r.version++
	glog.V(2).Infof("DELETE: doc=%s replica=%s id=%v", r.name, r.doc.Replica(), id)
	return nil
}

func (r *Replica) DeleteAt(pos, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.doc.DeleteAt(pos, n); err != nil {
		return err
	}
	r.version++
	glog.V(2).Infof("DELETE: doc=%s replica=%s pos=%d len=%d", r.name, r.doc.Replica(), pos, n)
	return nil
}

func (r *Replica) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return seq.Text(r.doc)
}

// Snapshot returns the rendered text and the digest of the element log, both
// taken at the returned version.
func (r *Replica) Snapshot() (text string, digest uint64, version uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return seq.Text(r.doc), wire.Digest(wire.Records(r.doc.ExportOperations())), r.version
}

// Visible lists the ids of the rendered characters in order.
func (r *Replica) Visible() []ol.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Visible()
}

func (r *Replica) Records() []wire.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return wire.Records(r.doc.ExportOperations())
}

// Envelope packs the whole element log for a peer.
func (r *Replica) Envelope() wire.Envelope {
	recs := r.Records()
	return wire.NewEnvelope(r.name, r.ReplicaID(), recs)
}

// Apply merges a peer's envelope. The merge is idempotent, so redelivered
// envelopes are harmless.
func (r *Replica) Apply(env wire.Envelope) error {
	ops, err := wire.Decode(env.Records)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	err = r.doc.Merge(ops)
	r.version++
	glog.V(2).Infof("MERGE: doc=%s replica=%s from=%s batch=%s records=%d", r.name, r.doc.Replica(), env.Replica, env.Batch, len(env.Records))
	return err
}

func (r *Replica) Stats() seq.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Stats()
}

func (r *Replica) Dump() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Dump()
}

func (r *Replica) dirty() ([]wire.Record, uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.version == r.saved {
		return nil, r.version, false
	}
	return wire.Records(r.doc.ExportOperations()), r.version, true
}

func (r *Replica) markSaved(version uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if version > r.saved {
		r.saved = version
	}
}
