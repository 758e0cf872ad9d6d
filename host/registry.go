package host

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/kevinxiao27/seqcrdt/persist"
	"github.com/kevinxiao27/seqcrdt/wire"
	"github.com/puzpuzpuz/xsync/v3"
)

// Registry hands out the Replica for a document name, loading it from the
// store the first time it is asked for. Every document in a registry is
// edited under the same replica id.
type Registry struct {
	replica string
	store   persist.Store // nil keeps everything in memory

	docs   *xsync.MapOf[string, *Replica]
	loadMu sync.Mutex
}

func NewRegistry(replica string, store persist.Store) *Registry {
	return &Registry{
		replica: replica,
		store:   store,
		docs:    xsync.NewMapOf[string, *Replica](),
	}
}

func (g *Registry) Replica() string {
	return g.replica
}

// Open returns the named document, loading or creating it.
func (g *Registry) Open(ctx context.Context, name string) (*Replica, error) {
	if r, ok := g.docs.Load(name); ok {
		return r, nil
	}
	if name == "" {
		return nil, fmt.Errorf("%w: empty", persist.ErrBadName)
	}

	g.loadMu.Lock()
	defer g.loadMu.Unlock()
	if r, ok := g.docs.Load(name); ok {
		return r, nil
	}

	r := NewReplica(name, g.replica)
	if g.store != nil {
		recs, err := g.store.Load(ctx, name)
		if err != nil {
			return nil, err
		}
		if len(recs) > 0 {
			if err := r.Apply(wire.Envelope{Document: name, Records: recs}); err != nil {
				return nil, fmt.Errorf("host: load %s: %w", name, err)
			}
			r.saved = r.version
		}
		glog.Infof("[host] opened %s with %d records", name, len(recs))
	}
	g.docs.Store(name, r)
	return r, nil
}

func (g *Registry) Lookup(name string) (*Replica, bool) {
	return g.docs.Load(name)
}

func (g *Registry) Names() []string {
	names := make([]string, 0, g.docs.Size())
	g.docs.Range(func(name string, _ *Replica) bool {
		names = append(names, name)
		return true
	})
	slices.Sort(names)
	return names
}

// OpenAll loads every document the store knows about.
func (g *Registry) OpenAll(ctx context.Context) error {
	if g.store == nil {
		return nil
	}
	names, err := g.store.Documents(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if _, err := g.Open(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Save writes one document if it changed since the last save.
func (g *Registry) Save(ctx context.Context, name string) error {
	r, ok := g.docs.Load(name)
	if !ok || g.store == nil {
		return nil
	}
	recs, version, dirty := r.dirty()
	if !dirty {
		return nil
	}
	if err := g.store.Save(ctx, name, recs); err != nil {
		return err
	}
	r.markSaved(version)
	return nil
}

func (g *Registry) SaveAll(ctx context.Context) error {
	var errs []error
	for _, name := range g.Names() {
		if err := g.Save(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("host: save %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Autosave saves changed documents every interval until ctx is done, then
// makes one last pass.
func (g *Registry) Autosave(ctx context.Context, every time.Duration) {
	if every <= 0 || g.store == nil {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := g.SaveAll(context.Background()); err != nil {
				glog.Errorf("[autosave] %v", err)
			}
			return
		case <-ticker.C:
			if err := g.SaveAll(ctx); err != nil {
				glog.Errorf("[autosave] %v", err)
			}
		}
	}
}
