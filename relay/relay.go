// Package relay fans envelopes out to other processes over Redis pub/sub.
// Every document has its own channel; a process publishes after each local
// change and merges whatever its peers publish.
package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang/glog"
	"github.com/kevinxiao27/seqcrdt/host"
	"github.com/kevinxiao27/seqcrdt/wire"
	"github.com/redis/go-redis/v9"
)

const prefix = "seqcrdt:"

func Channel(doc string) string {
	return prefix + doc
}

type Relay struct {
	rdb *redis.Client
	reg *host.Registry

	// OnApply, when set, is called with the document name after a peer
	// envelope has been merged.
	OnApply func(doc string)
}

func New(rdb *redis.Client, reg *host.Registry) *Relay {
	return &Relay{rdb: rdb, reg: reg}
}

// Dial connects to addr and checks the connection.
func Dial(ctx context.Context, addr string, reg *host.Registry) (*Relay, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("relay: redis %s: %w", addr, err)
	}
	return New(rdb, reg), nil
}

func (r *Relay) Publish(ctx context.Context, env wire.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, Channel(env.Document), data).Err()
}

// Run merges peer envelopes into the registry until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.rdb.PSubscribe(ctx, prefix+"*")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("relay: subscribe: %w", err)
	}
	glog.Infof("[relay] subscribed as %s", r.reg.Replica())

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := r.handle(ctx, msg.Channel, msg.Payload); err != nil {
				glog.Warningf("[relay] %s: %v", msg.Channel, err)
			}
		}
	}
}

func (r *Relay) handle(ctx context.Context, channel, payload string) error {
	env, err := wire.Unmarshal([]byte(payload))
	if err != nil {
		return err
	}
	if env.Replica == r.reg.Replica() {
		return nil
	}
	if doc := strings.TrimPrefix(channel, prefix); doc != env.Document {
		return fmt.Errorf("%w: envelope for %q on channel %q", wire.ErrBadRecord, env.Document, channel)
	}
	doc, err := r.reg.Open(ctx, env.Document)
	if err != nil {
		return err
	}
	glog.V(1).Infof("[relay] batch %s from %s: %d records", env.Batch, env.Replica, len(env.Records))
	err = doc.Apply(env)
	if r.OnApply != nil {
		r.OnApply(env.Document)
	}
	return err
}

func (r *Relay) Close() error {
	return r.rdb.Close()
}
