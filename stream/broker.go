package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/kegsync/batch"
	"github.com/xraph/kegsync/ext"
	"github.com/xraph/kegsync/retryq"
)

// Compile-time interface checks.
var (
	_ ext.Extension       = (*Broker)(nil)
	_ ext.BatchCaptured   = (*Broker)(nil)
	_ ext.BatchProcessing = (*Broker)(nil)
	_ ext.BatchSent       = (*Broker)(nil)
	_ ext.BatchFailed     = (*Broker)(nil)
	_ ext.BatchDuplicate  = (*Broker)(nil)
	_ ext.AttentionRaised = (*Broker)(nil)
	_ ext.BatchResolved   = (*Broker)(nil)
	_ ext.RetryExhausted  = (*Broker)(nil)
	_ ext.NetworkChanged  = (*Broker)(nil)
	_ ext.Shutdown        = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 64

// Broker receives lifecycle hooks and publishes them to subscribers.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[string]*Subscriber
	closed      bool

	nextID    atomic.Int64
	seq       atomic.Int64
	published atomic.Int64

	bufferSize int
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) {
		if size > 0 {
			b.bufferSize = size
		}
	}
}

// NewBroker creates a broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:      NewTopicRegistry(),
		logger:      logger,
		subscribers: make(map[string]*Subscriber),
		bufferSize:  DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Subscribe registers a subscriber on topics. After shutdown the returned
// subscriber's channel is already closed.
func (b *Broker) Subscribe(topics ...string) *Subscriber {
	sub := newSubscriber("sub-"+strconv.FormatInt(b.nextID.Add(1), 10), b.bufferSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.close()
		return sub
	}
	b.subscribers[sub.ID()] = sub
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.topics.UnsubscribeAll(sub.ID())
	b.mu.Lock()
	delete(b.subscribers, sub.ID())
	b.mu.Unlock()
	sub.close()
}

// Stats returns broker counters.
func (b *Broker) Stats() BrokerStats {
	b.mu.Lock()
	n := len(b.subscribers)
	b.mu.Unlock()
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: n,
		Published:       b.published.Load(),
	}
}

// BrokerStats contains broker counters.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	Published       int64 `json:"published"`
}

func (b *Broker) publish(typ EventType, topic string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		b.logger.Warn("stream: marshal event data",
			slog.String("type", string(typ)),
			slog.String("error", err.Error()),
		)
		return
	}
	evt := &Event{
		Seq:       b.seq.Add(1),
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Topic:     topic,
		Data:      raw,
	}
	b.topics.Broadcast(resolveTopics(evt), evt)
	b.published.Add(1)
}

func batchData(bt *batch.Batch) BatchEventData {
	return BatchEventData{
		SessionID:   bt.SessionID,
		Status:      string(bt.Status),
		Label:       bt.Label,
		CodeCount:   len(bt.Codes),
		TargetCount: bt.TargetCount,
		PalletID:    bt.PalletID,
	}
}

// OnBatchCaptured implements ext.BatchCaptured.
func (b *Broker) OnBatchCaptured(_ context.Context, bt *batch.Batch) error {
	b.publish(EventBatchCaptured, BatchTopic(bt.SessionID), batchData(bt))
	return nil
}

// OnBatchProcessing implements ext.BatchProcessing.
func (b *Broker) OnBatchProcessing(_ context.Context, bt *batch.Batch) error {
	b.publish(EventBatchProcessing, BatchTopic(bt.SessionID), batchData(bt))
	return nil
}

// OnBatchSent implements ext.BatchSent.
func (b *Broker) OnBatchSent(_ context.Context, bt *batch.Batch, elapsed time.Duration) error {
	d := batchData(bt)
	d.ElapsedMs = elapsed.Milliseconds()
	b.publish(EventBatchSent, BatchTopic(bt.SessionID), d)
	return nil
}

// OnBatchFailed implements ext.BatchFailed.
func (b *Broker) OnBatchFailed(_ context.Context, bt *batch.Batch, cause error) error {
	d := batchData(bt)
	if cause != nil {
		d.Error = cause.Error()
	}
	b.publish(EventBatchFailed, BatchTopic(bt.SessionID), d)
	return nil
}

// OnBatchDuplicate implements ext.BatchDuplicate.
func (b *Broker) OnBatchDuplicate(_ context.Context, bt *batch.Batch, existingPallet string) error {
	d := batchData(bt)
	d.ExistingPallet = existingPallet
	b.publish(EventBatchDuplicate, BatchTopic(bt.SessionID), d)
	return nil
}

// OnAttentionRaised implements ext.AttentionRaised.
func (b *Broker) OnAttentionRaised(_ context.Context, bt *batch.Batch, reason string) error {
	d := batchData(bt)
	d.Reason = reason
	b.publish(EventBatchAttention, BatchTopic(bt.SessionID), d)
	return nil
}

// OnBatchResolved implements ext.BatchResolved.
func (b *Broker) OnBatchResolved(_ context.Context, bt *batch.Batch) error {
	b.publish(EventBatchResolved, BatchTopic(bt.SessionID), batchData(bt))
	return nil
}

// OnRetryExhausted implements ext.RetryExhausted.
func (b *Broker) OnRetryExhausted(_ context.Context, e *retryq.Entry, cause error) error {
	d := RetryEventData{
		SessionID:   e.SessionID,
		Attempts:    e.Attempts,
		MaxAttempts: e.MaxAttempts,
	}
	if cause != nil {
		d.Error = cause.Error()
	}
	b.publish(EventRetryExhausted, BatchTopic(e.SessionID), d)
	return nil
}

// OnNetworkChanged implements ext.NetworkChanged.
func (b *Broker) OnNetworkChanged(_ context.Context, online bool) error {
	b.publish(EventNetworkChanged, "", NetworkEventData{Online: online})
	return nil
}

// OnShutdown closes every subscriber so that streaming responses end.
func (b *Broker) OnShutdown(_ context.Context) error {
	b.mu.Lock()
	b.closed = true
	subs := b.subscribers
	b.subscribers = make(map[string]*Subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		b.topics.UnsubscribeAll(sub.ID())
		sub.close()
	}
	b.logger.Info("stream broker shut down", slog.Int("subscribers", len(subs)))
	return nil
}
