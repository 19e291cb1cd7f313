// Package events publishes job lifecycle notifications. The local
// dispatcher serves single-process deployments; the EventBridge publisher
// fans the same envelope out to AWS for downstream automation.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"

	"kgraph/internal/config"
	"kgraph/internal/kgerrors"
)

// Event types emitted by the engine.
const (
	TypeJobSubmitted     = "job.submitted"
	TypeJobApproved      = "job.approved"
	TypeJobStarted       = "job.started"
	TypeJobCompleted     = "job.completed"
	TypeJobFailed        = "job.failed"
	TypeJobCancelled     = "job.cancelled"
	TypeJobExpired       = "job.expired"
	TypeDocumentIngested = "document.ingested"
	TypeDocumentDeleted  = "document.deleted"
	TypeOntologyRenamed  = "ontology.renamed"
	TypeOntologyDeleted  = "ontology.deleted"
	TypeConfigActivated  = "config.activated"
)

// Event is one notification envelope.
type Event struct {
	Type      string         `json:"type"`
	Aggregate string         `json:"aggregate_id"` // job or document id
	Ontology  string         `json:"ontology,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	At        time.Time      `json:"at"`
}

// Publisher delivers events somewhere. Implementations must tolerate being
// called from worker goroutines.
type Publisher interface {
	Publish(ctx context.Context, evs ...Event) error
}

// Local fans events out to in-process subscribers, synchronously and in
// subscription order.
type Local struct {
	mu       sync.RWMutex
	handlers []func(Event)
	logger   *zap.Logger
}

func NewLocal(logger *zap.Logger) *Local {
	return &Local{logger: logger}
}

// Subscribe registers a handler for every subsequent event.
func (l *Local) Subscribe(fn func(Event)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, fn)
}

func (l *Local) Publish(_ context.Context, evs ...Event) error {
	l.mu.RLock()
	handlers := make([]func(Event), len(l.handlers))
	copy(handlers, l.handlers)
	l.mu.RUnlock()
	for _, ev := range evs {
		if ev.At.IsZero() {
			ev.At = time.Now().UTC()
		}
		for _, fn := range handlers {
			fn(ev)
		}
		l.logger.Debug("event dispatched",
			zap.String("type", ev.Type), zap.String("aggregate", ev.Aggregate))
	}
	return nil
}

// putEventsAPI is the slice of the EventBridge client the publisher needs.
type putEventsAPI interface {
	PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// putEventsBatchLimit is the EventBridge cap on entries per PutEvents call.
const putEventsBatchLimit = 10

// Bridge publishes events to an AWS EventBridge bus.
type Bridge struct {
	client putEventsAPI
	bus    string
	source string
	logger *zap.Logger
}

func NewBridge(client *eventbridge.Client, cfg config.Events, logger *zap.Logger) *Bridge {
	return newBridge(client, cfg, logger)
}

func newBridge(client putEventsAPI, cfg config.Events, logger *zap.Logger) *Bridge {
	bus := cfg.EventBusName
	if bus == "" {
		bus = "default"
	}
	source := cfg.Source
	if source == "" {
		source = "kgraph"
	}
	return &Bridge{client: client, bus: bus, source: source, logger: logger}
}

func (b *Bridge) Publish(ctx context.Context, evs ...Event) error {
	for start := 0; start < len(evs); start += putEventsBatchLimit {
		end := start + putEventsBatchLimit
		if end > len(evs) {
			end = len(evs)
		}
		if err := b.publishBatch(ctx, evs[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bridge) publishBatch(ctx context.Context, evs []Event) error {
	entries := make([]types.PutEventsRequestEntry, 0, len(evs))
	for _, ev := range evs {
		if ev.At.IsZero() {
			ev.At = time.Now().UTC()
		}
		detail, err := json.Marshal(ev)
		if err != nil {
			return kgerrors.Internal(err, "marshal event %s", ev.Type)
		}
		entries = append(entries, types.PutEventsRequestEntry{
			EventBusName: aws.String(b.bus),
			Source:       aws.String(b.source),
			DetailType:   aws.String(ev.Type),
			Detail:       aws.String(string(detail)),
			Time:         aws.Time(ev.At),
			Resources:    []string{ev.Aggregate},
		})
	}

	out, err := b.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: entries})
	if err != nil {
		return kgerrors.Provider(true, err, "eventbridge publish failed")
	}
	if out.FailedEntryCount > 0 {
		b.logger.Warn("eventbridge rejected entries",
			zap.Int32("failed", out.FailedEntryCount), zap.Int("sent", len(entries)))
		return kgerrors.Provider(true, nil, "%d of %d events failed to publish",
			out.FailedEntryCount, len(entries))
	}
	return nil
}

// Fanout delivers each batch to every publisher in order. Wiring the local
// dispatcher in front of an external bus keeps in-process subscribers working
// when EventBridge is configured. Delivery continues past failures; the first
// error is returned.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, evs ...Event) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, evs...); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Nop drops every event. Used when publishing is disabled.
type Nop struct{}

func (Nop) Publish(context.Context, ...Event) error { return nil }
