package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/htquang/jobcore/internal/job"
)

// Dead-letter destinations shared by every work queue. Exhausted-retry,
// non-retryable, and TTL-expired messages all end up on DeadQueue.
const (
	DeadExchange = "jobs.dlx"
	DeadQueue    = "jobs.dead"
)

// Config holds RabbitMQ connection and topology configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string

	// Exchange is the durable direct exchange all job traffic flows
	// through.
	Exchange string

	RetryAttempts  int
	RetryInterval  time.Duration
	Heartbeat      time.Duration
	ConfirmTimeout time.Duration

	// DefaultQueueTTL bounds how long a message may sit on a shared
	// priority queue. Dedicated queues use the type's timeout times
	// TTLSafetyFactor instead.
	DefaultQueueTTL time.Duration
	TTLSafetyFactor float64

	// WaitBuckets are the fixed delay tiers available for scheduled
	// re-publish (retries and rate-limit deferrals).
	WaitBuckets []time.Duration
}

// Client represents a RabbitMQ client. The publish channel runs in
// confirm mode and is guarded by a mutex; the consume channel is owned
// by the worker dispatcher.
type Client struct {
	config *Config
	logger *slog.Logger

	conn      *amqp.Connection
	pubMu     sync.Mutex
	pubCh     *amqp.Channel
	consumeCh *amqp.Channel

	closeChan   chan *amqp.Error
	isConnected bool

	waitBuckets  []time.Duration
	declaredWait map[string]struct{}
}

// NewClient connects to RabbitMQ with retry and opens the publish
// (confirm-mode) and consume channels.
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	buckets := append([]time.Duration(nil), config.WaitBuckets...)
	if len(buckets) == 0 {
		buckets = []time.Duration{time.Second, 5 * time.Second, 15 * time.Second, time.Minute, 5 * time.Minute}
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })

	client := &Client{
		config:       config,
		logger:       logger,
		waitBuckets:  buckets,
		declaredWait: make(map[string]struct{}),
	}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

// connect establishes connection to RabbitMQ with retry logic
func (c *Client) connect() error {
	var err error

	dsn := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.config.User,
		c.config.Password,
		c.config.Host,
		c.config.Port,
		c.config.VHost,
	)

	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}

	attempts := c.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		c.conn, err = amqp.DialConfig(dsn, amqpConfig)
		if err == nil {
			break
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < attempts {
			time.Sleep(c.config.RetryInterval)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	c.pubCh, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to create publish channel: %w", err)
	}

	// Publisher confirms: a successful Publish means the broker has
	// durably accepted the message, so a crash immediately after a
	// confirmed submit cannot lose the job.
	if err := c.pubCh.Confirm(false); err != nil {
		c.pubCh.Close()
		c.conn.Close()
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	c.consumeCh, err = c.conn.Channel()
	if err != nil {
		c.pubCh.Close()
		c.conn.Close()
		return fmt.Errorf("failed to create consume channel: %w", err)
	}

	c.closeChan = make(chan *amqp.Error)
	c.conn.NotifyClose(c.closeChan)
	c.isConnected = true

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", c.config.Exchange),
	)

	return nil
}

// DeclareTopology declares the work exchange, the shared priority
// queues, dedicated per-type queues, and the dead-letter destination.
// Safe to call from every service at startup; declarations are
// idempotent.
func (c *Client) DeclareTopology(defs []*job.Definition) error {
	err := c.pubCh.ExchangeDeclare(
		c.config.Exchange, // name
		"direct",          // type
		true,              // durable
		false,             // auto-deleted
		false,             // internal
		false,             // no-wait
		nil,               // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare work exchange: %w", err)
	}

	err = c.pubCh.ExchangeDeclare(DeadExchange, "fanout", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare dead-letter exchange: %w", err)
	}

	_, err = c.pubCh.QueueDeclare(DeadQueue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare dead-letter queue: %w", err)
	}

	if err := c.pubCh.QueueBind(DeadQueue, "", DeadExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead-letter queue: %w", err)
	}

	// One durable queue per priority tier.
	for _, p := range job.Priorities {
		queueName := "jobs." + p.String()
		if err := c.declareWorkQueue(queueName, "priority."+p.String(), c.config.DefaultQueueTTL); err != nil {
			return err
		}
	}

	// Dedicated queues for isolated job types, with a TTL derived from
	// the type's timeout so abandoned messages do not linger.
	for _, def := range defs {
		if !def.DedicatedQueue {
			continue
		}
		ttl := c.config.DefaultQueueTTL
		if factor := c.config.TTLSafetyFactor; factor > 0 {
			ttl = time.Duration(float64(def.Timeout) * factor)
		}
		if err := c.declareWorkQueue("jobs."+def.Type, "type."+def.Type, ttl); err != nil {
			return err
		}
	}

	return nil
}

func (c *Client) declareWorkQueue(queueName, routingKey string, ttl time.Duration) error {
	args := amqp.Table{
		"x-dead-letter-exchange": DeadExchange,
	}
	if ttl > 0 {
		args["x-message-ttl"] = int64(ttl / time.Millisecond)
	}

	_, err := c.pubCh.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // auto-delete
		false,     // exclusive
		false,     // no-wait
		args,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}

	if err := c.pubCh.QueueBind(queueName, routingKey, c.config.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", queueName, err)
	}

	c.logger.Debug("Queue declared",
		slog.String("queue", queueName),
		slog.String("routing_key", routingKey),
		slog.Duration("ttl", ttl),
	)
	return nil
}

// Publish publishes a persistent message to the work exchange and waits
// for the broker confirm.
func (c *Client) Publish(ctx context.Context, routingKey string, body []byte, headers amqp.Table) error {
	return c.publish(ctx, c.config.Exchange, routingKey, body, headers)
}

// PublishDead publishes a terminal-failure envelope straight to the
// dead-letter exchange. Used instead of a bare reject so the final
// error text travels with the message.
func (c *Client) PublishDead(ctx context.Context, body []byte, headers amqp.Table) error {
	return c.publish(ctx, DeadExchange, "", body, headers)
}

// PublishDelayed schedules a message to re-enter the work exchange
// under routingKey after approximately delay. The message parks on a
// wait queue whose TTL matches the smallest configured bucket covering
// the delay; expiry dead-letters it back to the work exchange. The
// delay therefore survives worker crashes.
func (c *Client) PublishDelayed(ctx context.Context, delay time.Duration, routingKey string, body []byte, headers amqp.Table) error {
	bucket := c.pickBucket(delay)
	waitQueue := fmt.Sprintf("jobs.wait.%s.%s", bucket, routingKey)

	if err := c.ensureWaitQueue(waitQueue, bucket, routingKey); err != nil {
		return err
	}

	// Default exchange routes directly to the wait queue by name.
	return c.publish(ctx, "", waitQueue, body, headers)
}

func (c *Client) ensureWaitQueue(waitQueue string, bucket time.Duration, routingKey string) error {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	if _, ok := c.declaredWait[waitQueue]; ok {
		return nil
	}

	_, err := c.pubCh.QueueDeclare(
		waitQueue, // name
		true,      // durable
		false,     // auto-delete
		false,     // exclusive
		false,     // no-wait
		amqp.Table{
			"x-message-ttl":             int64(bucket / time.Millisecond),
			"x-dead-letter-exchange":    c.config.Exchange,
			"x-dead-letter-routing-key": routingKey,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to declare wait queue %s: %w", waitQueue, err)
	}

	c.declaredWait[waitQueue] = struct{}{}
	return nil
}

// pickBucket returns the smallest bucket that covers delay, or the
// largest bucket when the delay exceeds all tiers.
func (c *Client) pickBucket(delay time.Duration) time.Duration {
	for _, b := range c.waitBuckets {
		if b >= delay {
			return b
		}
	}
	return c.waitBuckets[len(c.waitBuckets)-1]
}

func (c *Client) publish(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error {
	if !c.isConnected {
		return fmt.Errorf("not connected to RabbitMQ")
	}

	if c.config.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConfirmTimeout)
		defer cancel()
	}

	c.pubMu.Lock()
	confirmation, err := c.pubCh.PublishWithDeferredConfirmWithContext(
		ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			Headers:      headers,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	c.pubMu.Unlock()

	if err != nil {
		c.logger.Error("Failed to publish message to RabbitMQ",
			slog.String("exchange", exchange),
			slog.String("routing_key", routingKey),
			slog.Any("error", err),
		)
		return fmt.Errorf("failed to publish message: %w", err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to confirm publish: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker rejected publish to %s/%s", exchange, routingKey)
	}

	c.logger.Debug("Message published to RabbitMQ",
		slog.String("exchange", exchange),
		slog.String("routing_key", routingKey),
		slog.Int("body_size", len(body)),
	)

	return nil
}

// SetPrefetch applies the per-consumer prefetch (QoS) on the consume
// channel. This is the primary backpressure control: a saturated
// consumer stops receiving deliveries until it acknowledges in-flight
// work.
func (c *Client) SetPrefetch(count int) error {
	if err := c.consumeCh.Qos(count, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	c.logger.Info("RabbitMQ QoS configured",
		slog.Int("prefetch_count", count),
	)
	return nil
}

// Consume starts consuming messages from the given queue with manual
// acknowledgment.
func (c *Client) Consume(queueName, consumerTag string) (<-chan amqp.Delivery, error) {
	if !c.isConnected {
		return nil, fmt.Errorf("not connected to RabbitMQ")
	}

	deliveries, err := c.consumeCh.Consume(
		queueName,   // queue
		consumerTag, // consumer tag
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume from %s: %w", queueName, err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", queueName),
		slog.String("consumer_tag", consumerTag),
	)

	return deliveries, nil
}

// QueueDepth returns the number of ready messages on a queue via a
// passive declare on a throwaway channel (a passive declare error
// poisons its channel).
func (c *Client) QueueDepth(queueName string) (int, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return 0, fmt.Errorf("failed to open channel for depth check: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclarePassive(queueName, true, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue %s: %w", queueName, err)
	}
	return q.Messages, nil
}

// NotifyClose returns the channel signalled when the connection drops.
func (c *Client) NotifyClose() <-chan *amqp.Error {
	return c.closeChan
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	return c.isConnected && c.conn != nil && !c.conn.IsClosed()
}

// Close closes the RabbitMQ connection
func (c *Client) Close() error {
	c.logger.Info("Closing RabbitMQ connection")

	c.isConnected = false

	if c.pubCh != nil {
		if err := c.pubCh.Close(); err != nil {
			c.logger.Error("Failed to close publish channel",
				slog.Any("error", err),
			)
		}
	}

	if c.consumeCh != nil {
		if err := c.consumeCh.Close(); err != nil {
			c.logger.Error("Failed to close consume channel",
				slog.Any("error", err),
			)
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ connection",
				slog.Any("error", err),
			)
			return err
		}
	}

	return nil
}
