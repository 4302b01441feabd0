package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
)

// PubSubBus wraps the in-memory Bus and additionally publishes every event to
// a Google Cloud Pub/Sub topic for durable delivery to downstream auditors.
//
// Fan-out:
//   - Pub/Sub: durable, at-least-once, may reorder across sessions
//   - in-memory: immediate push to the operator websocket stream
type PubSubBus struct {
	*Bus

	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubBus connects to the project and topic, creating the topic if it
// does not exist.
func NewPubSubBus(projectID, topicID string) (*PubSubBus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("topic.Exists: %w", err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("CreateTopic: %w", err)
		}
		slog.Info("Created Pub/Sub topic", "topic", topicID)
	}

	slog.Info("Pub/Sub connected", "topic", topic.String())
	return &PubSubBus{Bus: NewBus(), client: client, topic: topic}, nil
}

// Emit publishes to Pub/Sub and fans out to in-memory subscribers.
func (pb *PubSubBus) Emit(eventType, subject string, data map[string]interface{}) {
	event := NewCloudEvent(eventType, subject, data)
	pb.publish(event)
	pb.Bus.Publish(event)
}

// publish serialises the event and hands it to the topic. Attributes mirror
// the CloudEvents metadata for server-side filtering. Failures are logged and
// swallowed; the login outcome must not depend on the audit path.
func (pb *PubSubBus) publish(event *CloudEvent) {
	payload, err := event.JSON()
	if err != nil {
		slog.Error("Failed to marshal audit event", "event_id", event.ID, "error", err)
		return
	}

	result := pb.topic.Publish(context.Background(), &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"ce-specversion": event.SpecVersion,
			"ce-type":        event.Type,
			"ce-source":      event.Source,
			"ce-id":          event.ID,
			"ce-time":        event.Time.Format(time.RFC3339Nano),
		},
	})

	// Resolve off the hot path; a publish failure only costs an audit line.
	go func() {
		if _, err := result.Get(context.Background()); err != nil {
			slog.Error("Pub/Sub publish failed", "event_id", event.ID, "type", event.Type, "error", err)
		}
	}()
}

// HealthCheck verifies the topic is reachable.
func (pb *PubSubBus) HealthCheck(ctx context.Context) error {
	exists, err := pb.topic.Exists(ctx)
	if err != nil {
		return fmt.Errorf("topic health check: %w", err)
	}
	if !exists {
		return fmt.Errorf("topic does not exist")
	}
	return nil
}

// Close stops the topic publisher and shuts down the client.
func (pb *PubSubBus) Close() error {
	pb.topic.Stop()
	if err := pb.client.Close(); err != nil {
		return fmt.Errorf("pubsub client close: %w", err)
	}
	return nil
}

var _ Emitter = (*PubSubBus)(nil)
