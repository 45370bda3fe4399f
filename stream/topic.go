package stream

import (
	"fmt"
	"strings"
	"sync"
)

// Topic names:
//
//	batch:<sessionID>  events of one batch
//	batches            every batch event
//	retries            retry queue events
//	network            connectivity changes
//	firehose           everything
const (
	TopicBatches  = "batches"
	TopicRetries  = "retries"
	TopicNetwork  = "network"
	TopicFirehose = "firehose"
)

// BatchTopic returns the topic of one batch.
func BatchTopic(sessionID string) string { return "batch:" + sessionID }

// TopicRegistry maps topics to their subscribers. It is safe for
// concurrent use.
type TopicRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber
}

// NewTopicRegistry creates an empty registry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{topics: make(map[string]map[string]*Subscriber)}
}

// Subscribe adds sub to topic.
func (tr *TopicRegistry) Subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	subs, ok := tr.topics[topic]
	if !ok {
		subs = make(map[string]*Subscriber)
		tr.topics[topic] = subs
	}
	subs[sub.ID()] = sub
}

// UnsubscribeAll removes a subscriber from every topic and drops topics
// left empty.
func (tr *TopicRegistry) UnsubscribeAll(subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for topic, subs := range tr.topics {
		delete(subs, subscriberID)
		if len(subs) == 0 {
			delete(tr.topics, topic)
		}
	}
}

// Broadcast delivers evt once to every subscriber of any of topics and
// returns how many accepted it.
func (tr *TopicRegistry) Broadcast(topics []string, evt *Event) int {
	tr.mu.RLock()
	targets := make(map[string]*Subscriber)
	for _, topic := range topics {
		for id, sub := range tr.topics[topic] {
			targets[id] = sub
		}
	}
	tr.mu.RUnlock()

	delivered := 0
	for _, sub := range targets {
		if sub.send(evt) {
			delivered++
		}
	}
	return delivered
}

// TopicCount returns the number of topics with at least one subscriber.
func (tr *TopicRegistry) TopicCount() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}

// SubscriberCount returns the number of subscribers on topic.
func (tr *TopicRegistry) SubscriberCount(topic string) int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics[topic])
}

func resolveTopics(evt *Event) []string {
	topics := []string{TopicFirehose}
	switch t := string(evt.Type); {
	case strings.HasPrefix(t, "batch."):
		topics = append(topics, TopicBatches)
	case strings.HasPrefix(t, "retry."):
		topics = append(topics, TopicRetries)
	case strings.HasPrefix(t, "network."):
		topics = append(topics, TopicNetwork)
	}
	if evt.Topic != "" {
		topics = append(topics, evt.Topic)
	}
	return topics
}

// ValidateTopic checks whether a topic name can be subscribed to.
func ValidateTopic(topic string) error {
	switch topic {
	case TopicBatches, TopicRetries, TopicNetwork, TopicFirehose:
		return nil
	}
	kind, ref, ok := strings.Cut(topic, ":")
	if !ok || ref == "" {
		return fmt.Errorf("stream: invalid topic %q", topic)
	}
	if kind != "batch" {
		return fmt.Errorf("stream: unknown topic entity type %q", kind)
	}
	return nil
}
