// Package amqp publishes ledger change events to a RabbitMQ exchange.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"unitledger/internal/ledger"
	"unitledger/internal/log"
)

// Circuit breaker states.
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	publishTimeout = 5 * time.Second
	maxBackoff     = 30 * time.Second
	dialAttempts   = 3
	dialTimeout    = 5 * time.Second
	heartbeat      = 10 * time.Second
	queueSize      = 256
)

var (
	ErrCircuitOpen  = errors.New("circuit breaker is open")
	ErrQueueFull    = errors.New("event queue is full")
	ErrClientClosed = errors.New("amqp client is closed")
)

// Client publishes events to a durable direct exchange. It implements
// ledger.Notifier: Notify only queues the event and a single publisher
// goroutine sends it, so callers never wait on the broker.
type Client struct {
	url          string
	exchangeName string
	routingKey   string
	logger       *log.Logger

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	state        int32
	failureCount int64
	lastFailure  time.Time

	queue     chan *EventMessage
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newClient(url, exchangeName, routingKey string, logger *log.Logger, size int) *Client {
	if logger == nil {
		logger = log.Discard()
	}
	return &Client{
		url:          url,
		exchangeName: exchangeName,
		routingKey:   routingKey,
		logger:       logger.WithComponent(log.ComponentAMQP),
		queue:        make(chan *EventMessage, size),
		done:         make(chan struct{}),
	}
}

var _ ledger.Notifier = (*Client)(nil)

// NewClient connects to url, retrying with backoff, and declares the exchange
// and a durable queue bound under routingKey.
func NewClient(ctx context.Context, url, exchangeName, routingKey string, logger *log.Logger) (*Client, error) {
	c := newClient(url, exchangeName, routingKey, logger, queueSize)

	var err error
	for attempt := 0; attempt < dialAttempts; attempt++ {
		if attempt > 0 {
			wait := exponentialBackoff(attempt - 1)
			c.logger.WarnContext(ctx, "AMQP connect failed, retrying", "attempt", attempt, "wait", wait, log.FieldError, err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
		c.mu.Lock()
		err = c.connectLocked()
		c.mu.Unlock()
		if err == nil {
			c.start()
			c.logger.InfoContext(ctx, "AMQP publisher ready", "exchange", exchangeName, "routing_key", routingKey)
			return c, nil
		}
	}
	return nil, err
}

// connectLocked must be called with mu held.
func (c *Client) connectLocked() error {
	c.closeLocked()

	conn, err := amqp091.DialConfig(c.url, amqp091.Config{
		Heartbeat: heartbeat,
		Locale:    "en_US",
		Dial:      amqp091.DefaultDial(dialTimeout),
	})
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	c.conn, c.channel = conn, channel

	if err := c.setup(); err != nil {
		c.closeLocked()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}
	return nil
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		c.routingKey, // name
		true,         // durable
		false,        // delete when unused
		false,        // exclusive
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	err = c.channel.QueueBind(
		c.routingKey,   // queue name
		c.routingKey,   // routing key
		c.exchangeName, // exchange
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// Notify queues e for publishing and returns at once. It fails when the
// queue is full or the client is closed; the event is then dropped.
func (c *Client) Notify(_ context.Context, e ledger.Event) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.queue <- NewEventMessage(e):
		return nil
	default:
		return fmt.Errorf("queue %s event for expense %d: %w", e.Kind, e.Record.ID, ErrQueueFull)
	}
}

func (c *Client) start() {
	c.wg.Add(1)
	go c.run()
}

// run publishes queued events until Close.
func (c *Client) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			if n := len(c.queue); n > 0 {
				c.logger.Warn("Dropping unpublished ledger events", "pending", n)
			}
			return
		case msg := <-c.queue:
			if err := c.Publish(context.Background(), msg); err != nil {
				c.logger.Warn("Ledger event not published",
					log.FieldExpenseID, msg.ExpenseID,
					"kind", msg.Kind,
					log.FieldError, err,
					log.FieldErrorType, log.ErrorTypeNetwork)
			}
		}
	}
}

// Publish sends msg as persistent JSON. While the circuit is open it fails
// fast without touching the network.
func (c *Client) Publish(ctx context.Context, msg *EventMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isCircuitOpen() {
		return fmt.Errorf("publish %s event: %w", msg.Kind, ErrCircuitOpen)
	}

	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel == nil || c.channel.IsClosed() {
		if err := c.connectLocked(); err != nil {
			c.recordFailure()
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = c.channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		c.routingKey,   // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    msg.At,
			Type:         string(msg.Kind),
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.closeLocked()
		}
		return fmt.Errorf("publish message: %w", err)
	}
	c.recordSuccess()

	c.logger.DebugContext(ctx, "Published ledger event",
		log.FieldExpenseID, msg.ExpenseID,
		"kind", msg.Kind,
		"exchange", c.exchangeName)
	return nil
}

func (c *Client) isCircuitOpen() bool {
	switch atomic.LoadInt32(&c.state) {
	case StateOpen:
		if time.Since(c.lastFailure) > openTimeout {
			atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
			return false
		}
		return true
	default:
		return false
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	n := atomic.AddInt64(&c.failureCount, 1)
	c.lastFailure = time.Now()
	if n >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		if atomic.SwapInt32(&c.state, StateOpen) != StateOpen {
			c.logger.Warn("AMQP circuit opened", "failures", n)
		}
	}
}

// exponentialBackoff returns 1s, 2s, 4s... capped at maxBackoff.
func exponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection", "eof", "broken pipe", "channel/connection is not open"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Close stops the publisher goroutine, then shuts the channel and the
// connection. Events still queued are dropped.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	var err error
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	return err
}
