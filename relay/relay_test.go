package relay

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/kevinxiao27/seqcrdt/host"
	"github.com/kevinxiao27/seqcrdt/ol"
	"github.com/kevinxiao27/seqcrdt/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payload(t *testing.T, env wire.Envelope) string {
	data, err := env.Marshal()
	require.NoError(t, err)
	return string(data)
}

func TestHandleAppliesPeerEnvelopes(t *testing.T) {
	ctx := context.Background()
	peer := host.NewReplica("notes", "r2")
	_, err := peer.Insert(ol.Root, "yo")
	require.NoError(t, err)

	reg := host.NewRegistry("r1", nil)
	r := New(nil, reg)
	var applied []string
	r.OnApply = func(doc string) { applied = append(applied, doc) }
	require.NoError(t, r.handle(ctx, Channel("notes"), payload(t, peer.Envelope())))
	assert.Equal(t, []string{"notes"}, applied)

	doc, ok := reg.Lookup("notes")
	require.True(t, ok)
	assert.Equal(t, "yo", doc.Text())

	// redelivery changes nothing
	require.NoError(t, r.handle(ctx, Channel("notes"), payload(t, peer.Envelope())))
	assert.Equal(t, "yo", doc.Text())
}

func TestHandleSkipsOwnEnvelopes(t *testing.T) {
	ctx := context.Background()
	self := host.NewReplica("notes", "r1")
	_, err := self.Insert(ol.Root, "me")
	require.NoError(t, err)

	reg := host.NewRegistry("r1", nil)
	r := New(nil, reg)
	require.NoError(t, r.handle(ctx, Channel("notes"), payload(t, self.Envelope())))
	assert.Empty(t, reg.Names())
}

func TestHandleRejectsBadPayloads(t *testing.T) {
	ctx := context.Background()
	reg := host.NewRegistry("r1", nil)
	r := New(nil, reg)

	assert.ErrorIs(t, r.handle(ctx, Channel("notes"), "{"), wire.ErrBadRecord)

	peer := host.NewReplica("notes", "r2")
	_, err := peer.Insert(ol.Root, "x")
	require.NoError(t, err)
	assert.ErrorIs(t, r.handle(ctx, Channel("other"), payload(t, peer.Envelope())), wire.ErrBadRecord)
	assert.Empty(t, reg.Names())
}

func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("SEQCRDT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SEQCRDT_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sender, err := Dial(ctx, addr, host.NewRegistry("r2", nil))
	require.NoError(t, err)
	defer sender.Close()

	reg := host.NewRegistry("r1", nil)
	receiver, err := Dial(ctx, addr, reg)
	require.NoError(t, err)
	defer receiver.Close()
	go func() { _ = receiver.Run(ctx) }()

	peer := host.NewReplica("relay-test", "r2")
	_, err = peer.Insert(ol.Root, "hi")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_ = sender.Publish(ctx, peer.Envelope())
		doc, ok := reg.Lookup("relay-test")
		return ok && doc.Text() == "hi"
	}, 5*time.Second, 100*time.Millisecond)
}
