// Package notify publishes persist-cycle summaries so downstream systems can
// react to dataset updates without polling the CSV files or the export
// table.
package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/certpull/certpull/internal/scrape"
)

// Publisher delivers one JSON-serializable payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// IDGenerator stamps outgoing messages with client-side IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Message is the persist-cycle summary payload.
type Message struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Dataset   string    `json:"dataset"`
	Records   int       `json:"records"`
	Processed int       `json:"processed"`
	Resolved  int       `json:"resolved"`
	Failed    int       `json:"failed"`
	Digest    string    `json:"digest,omitempty"`
	MirrorURI string    `json:"mirror_uri,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier publishes Messages to a fixed topic.
type Notifier struct {
	publisher Publisher
	topic     string
	idGen     IDGenerator
	clock     scrape.Clock
	logger    *zap.Logger
}

// New wires a Notifier to its publisher and topic.
func New(publisher Publisher, topic string, idGen IDGenerator, clock scrape.Clock, logger *zap.Logger) (*Notifier, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if idGen == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		publisher: publisher,
		topic:     topic,
		idGen:     idGen,
		clock:     clock,
		logger:    logger,
	}, nil
}

// PersistCycle stamps msg with an ID and timestamp and publishes it.
func (n *Notifier) PersistCycle(ctx context.Context, msg Message) error {
	id, err := n.idGen.NewID()
	if err != nil {
		return fmt.Errorf("stamp message id: %w", err)
	}
	msg.ID = id
	if msg.At.IsZero() {
		msg.At = n.clock.Now()
	}

	serverID, err := n.publisher.Publish(ctx, n.topic, msg)
	if err != nil {
		return fmt.Errorf("publish persist cycle: %w", err)
	}
	n.logger.Debug("persist cycle published",
		zap.String("message_id", id),
		zap.String("server_id", serverID),
		zap.Int("records", msg.Records),
	)
	return nil
}
