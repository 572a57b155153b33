package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog/log"
)

// ErrPermanent marks a message that will never succeed. It is deleted instead
// of being left for redelivery.
var ErrPermanent = errors.New("permanent message failure")

// Message is a detection request read from the queue:
// {"imageUrl": "http://example.com/image.jpg", "use_ocr": true}
type Message struct {
	ImageURL string `json:"imageUrl"`
	UseOCR   *bool  `json:"use_ocr,omitempty"`
}

// OCREnabled defaults to true when use_ocr is absent.
func (m Message) OCREnabled() bool {
	return m.UseOCR == nil || *m.UseOCR
}

// ParseMessage decodes a body. Bad JSON or a missing imageUrl is permanent.
func ParseMessage(body string) (Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return msg, fmt.Errorf("%w: invalid json: %v", ErrPermanent, err)
	}
	msg.ImageURL = strings.TrimSpace(msg.ImageURL)
	if msg.ImageURL == "" {
		return msg, fmt.Errorf("%w: message without imageUrl", ErrPermanent)
	}
	return msg, nil
}

// HandlerFunc processes one message. Returning an error wrapping ErrPermanent
// deletes the message; any other error leaves it for redelivery.
type HandlerFunc func(ctx context.Context, msg Message) error

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Config tunes the long-poll loop.
type Config struct {
	QueueURL        string
	MaxMessages     int32
	WaitTimeSeconds int32
	// VisibilityTimeout is in seconds. Messages of a batch that are still
	// waiting or running get it renewed every HeartbeatInterval.
	VisibilityTimeout int32
	HeartbeatInterval time.Duration
	ErrorBackoff      time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxMessages <= 0 || c.MaxMessages > 10 {
		c.MaxMessages = 10
	}
	if c.WaitTimeSeconds <= 0 {
		c.WaitTimeSeconds = 20
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 60
	}
	if c.VisibilityTimeout > MaxVisibilityTimeout {
		c.VisibilityTimeout = MaxVisibilityTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = time.Duration(c.VisibilityTimeout) * time.Second / 2
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 5 * time.Second
	}
	return c
}

// MaxVisibilityTimeout is the SQS limit of 12 hours, in seconds.
const MaxVisibilityTimeout = 43200

type SQSConsumer struct {
	client  sqsAPI
	cfg     Config
	handler HandlerFunc
}

func NewSQSConsumer(client *sqs.Client, cfg Config, handler HandlerFunc) *SQSConsumer {
	return newSQSConsumer(client, cfg, handler)
}

func newSQSConsumer(client sqsAPI, cfg Config, handler HandlerFunc) *SQSConsumer {
	return &SQSConsumer{
		client:  client,
		cfg:     cfg.withDefaults(),
		handler: handler,
	}
}

// Start polls until ctx is cancelled.
func (c *SQSConsumer) Start(ctx context.Context) {
	log.Info().Str("queue", c.cfg.QueueURL).Int32("visibility_timeout", c.cfg.VisibilityTimeout).Msg("📥 SQS consumer listening")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("🛑 SQS consumer stopped")
			return
		default:
		}

		if err := c.poll(ctx); err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("🛑 SQS consumer stopped")
				return
			}
			log.Warn().Err(err).Dur("retry_in", c.cfg.ErrorBackoff).Msg("⚠️ Failed to receive messages")
			select {
			case <-time.After(c.cfg.ErrorBackoff):
			case <-ctx.Done():
				log.Info().Msg("🛑 SQS consumer stopped while waiting to retry")
				return
			}
		}
	}
}

// poll receives one batch and handles every message in it.
func (c *SQSConsumer) poll(ctx context.Context) error {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.cfg.QueueURL),
		MaxNumberOfMessages: c.cfg.MaxMessages,
		WaitTimeSeconds:     c.cfg.WaitTimeSeconds,
		VisibilityTimeout:   c.cfg.VisibilityTimeout,
	})
	if err != nil {
		return err
	}
	if len(out.Messages) == 0 {
		return nil
	}

	log.Info().Int("count", len(out.Messages)).Msg("📨 Received messages")

	pending := newPendingSet(out.Messages)
	hbCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.heartbeat(hbCtx, pending)
	}()

	for _, m := range out.Messages {
		c.handle(ctx, m)
		pending.remove(aws.ToString(m.ReceiptHandle))
	}
	stop()
	wg.Wait()
	return nil
}

// heartbeat keeps every message that has not finished invisible until the
// batch is done. A failed message is no longer extended and comes back after
// the timeout.
func (c *SQSConsumer) heartbeat(ctx context.Context, pending *pendingSet) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, rh := range pending.handles() {
			_, err := c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
				QueueUrl:          aws.String(c.cfg.QueueURL),
				ReceiptHandle:     aws.String(rh),
				VisibilityTimeout: c.cfg.VisibilityTimeout,
			})
			if err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("⚠️ Failed to extend message visibility")
			}
		}
	}
}

type pendingSet struct {
	mu  sync.Mutex
	set map[string]struct{}
}

func newPendingSet(msgs []types.Message) *pendingSet {
	p := &pendingSet{set: make(map[string]struct{}, len(msgs))}
	for _, m := range msgs {
		if m.ReceiptHandle != nil {
			p.set[*m.ReceiptHandle] = struct{}{}
		}
	}
	return p
}

func (p *pendingSet) remove(rh string) {
	p.mu.Lock()
	delete(p.set, rh)
	p.mu.Unlock()
}

func (p *pendingSet) handles() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.set))
	for rh := range p.set {
		out = append(out, rh)
	}
	return out
}

func (c *SQSConsumer) handle(ctx context.Context, m types.Message) {
	id := aws.ToString(m.MessageId)

	msg, err := ParseMessage(aws.ToString(m.Body))
	if err == nil {
		err = c.handler(ctx, msg)
	}

	switch {
	case err == nil:
		c.delete(ctx, m.ReceiptHandle)
	case errors.Is(err, ErrPermanent):
		log.Warn().Err(err).Str("message_id", id).Msg("⚠️ Dropping message")
		c.delete(ctx, m.ReceiptHandle)
	default:
		log.Error().Err(err).Str("message_id", id).Msg("❌ Message failed, will be redelivered after visibility timeout")
	}
}

func (c *SQSConsumer) delete(ctx context.Context, receiptHandle *string) {
	if receiptHandle == nil {
		log.Warn().Msg("⚠️ Message has no receipt handle, cannot delete")
		return
	}
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.cfg.QueueURL),
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		log.Error().Err(err).Msg("❌ Failed to delete message")
	}
}
