package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"cloud.google.com/go/pubsub"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	msgs    []*pubsub.Message
	err     error
	stopped bool
}

func (f *fakeSender) send(_ context.Context, msg *pubsub.Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.msgs = append(f.msgs, msg)
	return "msg-1", nil
}

func (f *fakeSender) stop() { f.stopped = true }

func TestPublishMarshalsPayload(t *testing.T) {
	t.Parallel()

	out := &fakeSender{}
	pub := &Publisher{topicName: "probe-runs", out: out}

	id, err := pub.Publish(context.Background(), "probe-runs", map[string]int{"found_count": 2})
	require.NoError(t, err)
	require.Equal(t, "msg-1", id)
	require.Len(t, out.msgs, 1)

	var decoded map[string]int
	require.NoError(t, json.Unmarshal(out.msgs[0].Data, &decoded))
	require.Equal(t, 2, decoded["found_count"])
	require.Equal(t, "application/json", out.msgs[0].Attributes["content_type"])

	require.NoError(t, pub.Close())
	require.True(t, out.stopped)
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	pub := &Publisher{topicName: "probe-runs", out: &fakeSender{err: errors.New("unavailable")}}
	_, err := pub.Publish(context.Background(), "", "x")
	require.ErrorContains(t, err, "unavailable")

	_, err = pub.Publish(context.Background(), "other", "x")
	require.Error(t, err)

	_, err = pub.Publish(context.Background(), "", make(chan int))
	require.Error(t, err)

	var nilPub *Publisher
	_, err = nilPub.Publish(context.Background(), "", "x")
	require.Error(t, err)
}

func TestNewRequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{ProjectID: "p"})
	require.Error(t, err)
}
