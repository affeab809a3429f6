// Package consumer bridges provider webhook events delivered over AMQP into
// the inbound correlation flow.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	businessflow "github.com/zapcast/zapcast/business_flow"

	"github.com/streadway/amqp"
	"github.com/zapcast/zapcast/app/dto"
	"github.com/zapcast/zapcast/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// InboundConsumer consumes provider inbound-message events from a queue and
// feeds them to the correlator. Events are acked once handled; malformed
// payloads are dropped with a log line because redelivery cannot fix them.
type InboundConsumer struct {
	cfg         config.AMQPConfig
	inboundFlow businessflow.InboundFlow
	logger      *log.Logger
}

func NewInboundConsumer(cfg config.AMQPConfig, inboundFlow businessflow.InboundFlow, logDir string) *InboundConsumer {
	return &InboundConsumer{
		cfg:         cfg,
		inboundFlow: inboundFlow,
		logger:      newConsumerLogger(logDir),
	}
}

// Start runs the consume loop in a background goroutine and returns a stop
// function. The loop reconnects with exponential backoff on any broker error.
func (c *InboundConsumer) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		backoff := time.Second
		for {
			if ctx.Err() != nil {
				return
			}
			err := c.consumeUntilClosed(ctx)
			if err != nil {
				c.logger.Printf("consumer: connection lost: %v", err)
			}
			if ctx.Err() != nil {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if max := c.cfg.ReconnectMax; max > 0 && backoff > max {
				backoff = max
			}
		}
	}()

	return cancel
}

// consumeUntilClosed dials the broker, declares the queue and processes
// deliveries until the channel closes or the context is cancelled.
func (c *InboundConsumer) consumeUntilClosed(ctx context.Context) error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if c.cfg.Prefetch > 0 {
		if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
			return fmt.Errorf("set prefetch: %w", err)
		}
	}

	queue, err := ch.QueueDeclare(c.cfg.InboundQueue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %q: %w", c.cfg.InboundQueue, err)
	}

	deliveries, err := ch.Consume(queue.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consume: %w", err)
	}
	c.logger.Printf("consumer: consuming inbound events from %q", queue.Name)

	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			c.handleDelivery(ctx, delivery)
		}
	}
}

func (c *InboundConsumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	var req dto.InboundEventRequest
	if err := json.Unmarshal(delivery.Body, &req); err != nil {
		c.logger.Printf("consumer: dropping malformed inbound event: %v", err)
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			c.logger.Printf("consumer: nack failed: %v", nackErr)
		}
		return
	}

	resp, err := c.inboundFlow.HandleInbound(ctx, &req)
	if err != nil {
		c.logger.Printf("consumer: handle inbound from %q failed: %v", req.RecipientAddress, err)
		// requeue once the broker redelivers; persistence errors are
		// usually transient
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			c.logger.Printf("consumer: nack failed: %v", nackErr)
		}
		return
	}

	if ackErr := delivery.Ack(false); ackErr != nil {
		c.logger.Printf("consumer: ack failed: %v", ackErr)
		return
	}
	c.logger.Printf("consumer: inbound from %q matched=%t correlated=%t stale=%t", req.RecipientAddress, resp.Matched, resp.Correlated, resp.Stale)
}

func newConsumerLogger(dir string) *log.Logger {
	flags := log.LstdFlags | log.Lmicroseconds | log.LUTC
	if dir == "" {
		return log.New(os.Stdout, "consumer ", flags)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return log.New(os.Stdout, "consumer ", flags)
	}
	rotated := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "consumer.log"),
		MaxSize:    100,
		MaxBackups: 10,
		MaxAge:     30,
		Compress:   true,
	}
	return log.New(io.MultiWriter(os.Stdout, rotated), "consumer ", flags)
}
