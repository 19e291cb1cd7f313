package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kgraph/internal/config"
	"kgraph/internal/kgerrors"
)

func TestLocalDispatchesToAllSubscribers(t *testing.T) {
	local := NewLocal(zap.NewNop())

	var first, second []string
	local.Subscribe(func(ev Event) { first = append(first, ev.Type) })
	local.Subscribe(func(ev Event) { second = append(second, ev.Aggregate) })

	err := local.Publish(context.Background(),
		Event{Type: TypeJobSubmitted, Aggregate: "j_1"},
		Event{Type: TypeJobApproved, Aggregate: "j_1"},
	)
	require.NoError(t, err)

	assert.Equal(t, []string{TypeJobSubmitted, TypeJobApproved}, first)
	assert.Equal(t, []string{"j_1", "j_1"}, second)
}

func TestLocalWithoutSubscribersIsANoOp(t *testing.T) {
	local := NewLocal(zap.NewNop())
	require.NoError(t, local.Publish(context.Background(), Event{Type: TypeJobStarted, Aggregate: "j_2"}))
}

type fakeEventBridge struct {
	calls  []*eventbridge.PutEventsInput
	failed int32
	err    error
}

func (f *fakeEventBridge) PutEvents(_ context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	f.calls = append(f.calls, in)
	if f.err != nil {
		return nil, f.err
	}
	return &eventbridge.PutEventsOutput{FailedEntryCount: f.failed}, nil
}

func TestBridgeBatchesEntries(t *testing.T) {
	fake := &fakeEventBridge{}
	bridge := newBridge(fake, config.Events{EventBusName: "kg-events", Source: "kgraph-test"}, zap.NewNop())

	evs := make([]Event, 0, 23)
	for i := 0; i < 23; i++ {
		evs = append(evs, Event{Type: TypeJobCompleted, Aggregate: "j_batch", At: time.Now().UTC()})
	}
	require.NoError(t, bridge.Publish(context.Background(), evs...))

	require.Len(t, fake.calls, 3)
	assert.Len(t, fake.calls[0].Entries, 10)
	assert.Len(t, fake.calls[1].Entries, 10)
	assert.Len(t, fake.calls[2].Entries, 3)

	entry := fake.calls[0].Entries[0]
	assert.Equal(t, "kg-events", *entry.EventBusName)
	assert.Equal(t, "kgraph-test", *entry.Source)
	assert.Equal(t, TypeJobCompleted, *entry.DetailType)
	assert.Equal(t, []string{"j_batch"}, entry.Resources)

	var decoded Event
	require.NoError(t, json.Unmarshal([]byte(*entry.Detail), &decoded))
	assert.Equal(t, TypeJobCompleted, decoded.Type)
	assert.Equal(t, "j_batch", decoded.Aggregate)
}

func TestBridgeDefaultsBusAndSource(t *testing.T) {
	fake := &fakeEventBridge{}
	bridge := newBridge(fake, config.Events{}, zap.NewNop())

	require.NoError(t, bridge.Publish(context.Background(), Event{Type: TypeJobFailed, Aggregate: "j_3"}))
	require.Len(t, fake.calls, 1)
	entry := fake.calls[0].Entries[0]
	assert.Equal(t, "default", *entry.EventBusName)
	assert.Equal(t, "kgraph", *entry.Source)
	assert.False(t, entry.Time.IsZero())
}

func TestBridgeReportsPartialFailure(t *testing.T) {
	fake := &fakeEventBridge{failed: 2}
	bridge := newBridge(fake, config.Events{EventBusName: "kg-events"}, zap.NewNop())

	err := bridge.Publish(context.Background(), Event{Type: TypeJobExpired, Aggregate: "j_4"})
	require.Error(t, err)
	assert.Equal(t, kgerrors.KindProvider, kgerrors.KindOf(err))
	assert.True(t, kgerrors.IsRetryable(err))
}

func TestFanoutDeliversToEveryPublisherPastFailures(t *testing.T) {
	local := NewLocal(zap.NewNop())
	var seen []string
	local.Subscribe(func(ev Event) { seen = append(seen, ev.Aggregate) })

	fake := &fakeEventBridge{err: kgerrors.Provider(true, nil, "bus down")}
	bridge := newBridge(fake, config.Events{EventBusName: "kg-events"}, zap.NewNop())

	// The bridge fails first but the local dispatcher still gets the event.
	err := Fanout{bridge, local}.Publish(context.Background(), Event{Type: TypeJobCompleted, Aggregate: "j_5"})
	require.Error(t, err)
	assert.Equal(t, kgerrors.KindProvider, kgerrors.KindOf(err))
	assert.Equal(t, []string{"j_5"}, seen)
}

func TestNopDiscardsEvents(t *testing.T) {
	require.NoError(t, Nop{}.Publish(context.Background(), Event{Type: TypeDocumentIngested, Aggregate: "d_1"}))
}
