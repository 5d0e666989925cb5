// Package queue carries observation batches between the collector and the
// store over a redis stream.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"raincast/internal/models"
)

// DefaultGroup is the consumer group the store service reads with
const DefaultGroup = "weather_consumers"

// Message is one published batch. Type is models.SourceCurrent or
// models.SourceHistorical.
type Message struct {
	Location     models.Location      `json:"location"`
	Type         string               `json:"type"`
	Observations []models.Observation `json:"observations"`
	PublishedAt  time.Time            `json:"published_at"`
}

// NewClient creates a redis client
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Publisher appends messages to a stream
type Publisher struct {
	client *redis.Client
	stream string
}

func NewPublisher(client *redis.Client, stream string) *Publisher {
	return &Publisher{client: client, stream: stream}
}

// Publish serializes msg and adds it to the stream, returning the entry id
func (p *Publisher) Publish(ctx context.Context, msg Message) (string, error) {
	if msg.PublishedAt.IsZero() {
		msg.PublishedAt = time.Now().UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to serialize message for %s: %w", msg.Location.Name, err)
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to stream %s: %w", p.stream, err)
	}

	slog.Info("published observations", "type", msg.Type, "city", msg.Location.Name, "count", len(msg.Observations), "id", id)
	return id, nil
}

// Handler processes one message. A nil return acknowledges it.
type Handler func(ctx context.Context, msg Message) error

// Consumer reads a stream as a member of a consumer group. It is not safe
// for concurrent use; run one Consumer per goroutine.
type Consumer struct {
	client *redis.Client
	stream string
	group  string
	name   string
	count  int64
	block  time.Duration

	// retryDelay is the minimum time between passes over this consumer's
	// pending entries while the handler keeps rejecting them
	retryDelay   time.Duration
	retryPending bool
	lastRetry    time.Time
	now          func() time.Time
}

func NewConsumer(client *redis.Client, stream, group, name string) *Consumer {
	return &Consumer{
		client: client,
		stream: stream,
		group:  group,
		name:   name,
		count:  10,
		block:  5 * time.Second,

		retryDelay: 30 * time.Second,
		// A restarted consumer may own entries a previous run left unacknowledged
		retryPending: true,
		now:          time.Now,
	}
}

// EnsureGroup creates the consumer group, and the stream if needed. An
// existing group is not an error.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s: %w", c.group, err)
	}
	return nil
}

// Run reads and handles messages until ctx is canceled
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}

	for {
		if _, err := c.ReadOnce(ctx, handle); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("error reading from stream", "stream", c.stream, "err", err)
			time.Sleep(time.Second)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// ReadOnce handles one batch of messages. Entries this consumer left
// pending (a handler rejected them, or a previous run stopped before acking)
// are retried first, at most once per retryDelay; otherwise up to one batch
// of new messages is read. Handled and undecodable messages are
// acknowledged; messages the handler rejects stay pending. It returns the
// number of messages handled successfully.
func (c *Consumer) ReadOnce(ctx context.Context, handle Handler) (int, error) {
	if c.retryPending && c.now().Sub(c.lastRetry) >= c.retryDelay {
		handled, failed, err := c.drainPending(ctx, handle)
		if err != nil {
			return handled, err
		}
		c.retryPending = failed > 0
		if failed > 0 {
			c.lastRetry = c.now()
		}
		if handled > 0 || failed > 0 {
			return handled, nil
		}
	}

	handled, failed, _, err := c.readPage(ctx, ">", c.block, handle)
	if failed > 0 {
		c.retryPending = true
	}
	return handled, err
}

// drainPending walks every entry pending for this consumer once
func (c *Consumer) drainPending(ctx context.Context, handle Handler) (handled, failed int, err error) {
	cursor := "0"
	for {
		var n, f int
		var last string
		n, f, last, err = c.readPage(ctx, cursor, -1, handle)
		handled += n
		failed += f
		if err != nil || last == "" || ctx.Err() != nil {
			return handled, failed, err
		}
		cursor = last
	}
}

// readPage reads one batch after id and returns the last ID seen, empty when
// the batch was empty. A negative block sends no BLOCK argument.
func (c *Consumer) readPage(ctx context.Context, id string, block time.Duration, handle Handler) (handled, failed int, last string, err error) {
	args := &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{c.stream, id},
		Count:    c.count,
		Block:    block,
	}

	streams, err := c.client.XReadGroup(ctx, args).Result()
	if errors.Is(err, redis.Nil) {
		return 0, 0, "", nil
	}
	if err != nil {
		return 0, 0, "", err
	}

	for _, stream := range streams {
		for _, m := range stream.Messages {
			if ctx.Err() != nil {
				return handled, failed, "", nil
			}
			last = m.ID

			msg, err := decode(m)
			if err != nil {
				slog.Error("dropping undecodable message", "id", m.ID, "err", err)
				c.ack(m.ID)
				continue
			}

			if err := handle(ctx, msg); err != nil {
				slog.Error("failed to handle message", "id", m.ID, "type", msg.Type, "city", msg.Location.Name, "err", err)
				failed++
				continue
			}

			c.ack(m.ID)
			handled++
		}
	}

	return handled, failed, last, nil
}

func (c *Consumer) ack(id string) {
	// Acknowledge even when ctx is done; the message was already processed
	if err := c.client.XAck(context.Background(), c.stream, c.group, id).Err(); err != nil {
		slog.Error("failed to acknowledge message", "id", id, "err", err)
	}
}

func decode(m redis.XMessage) (Message, error) {
	var msg Message

	raw, ok := m.Values["data"].(string)
	if !ok {
		return msg, fmt.Errorf("message %s has no data field", m.ID)
	}

	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return msg, fmt.Errorf("failed to unmarshal message %s: %w", m.ID, err)
	}

	switch msg.Type {
	case models.SourceCurrent, models.SourceHistorical:
	default:
		return msg, fmt.Errorf("message %s has unknown type %q", m.ID, msg.Type)
	}

	return msg, nil
}
