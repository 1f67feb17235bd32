// Package providerclient wraps the AWS SES v2 API behind a circuit breaker
// and the dispatch pipeline's error taxonomy, so the Dispatcher Worker never
// talks to the SDK directly.
package providerclient

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/sony/gobreaker"

	"github.com/ignite/sparkpost-monitor/internal/config"
	"github.com/ignite/sparkpost-monitor/internal/domain"
	"github.com/ignite/sparkpost-monitor/internal/pkg/logger"
)

// Client sends a single message through SES, gated by a circuit breaker
// that trips on sustained service/network errors and rejects new sends
// while open rather than piling up against a failing provider.
//
// gobreaker's own Counts only ever resets ConsecutiveFailures to 0 on a
// callback success or increments it by 1 on a callback failure; it has no
// way to decrement. Client-fault errors need to decrement the
// consecutive-service-failure count (floored at 0) rather than reset it,
// so that count is tracked here instead of read from gobreaker's Counts.
// ReadyToTrip consults consecutiveServiceFailures directly; gobreaker
// still owns the open/half-open/closed state machine, cooldown timer, and
// half-open probe accounting.
type Client struct {
	ses                        *sesv2.Client
	breaker                    *gobreaker.CircuitBreaker
	consecutiveServiceFailures int64
}

// New builds a Client from SES credentials and the dispatch pipeline's
// circuit breaker tunables. Returns an error if the SDK client cannot be
// initialized; a missing client is a startup failure, not a degraded mode.
func New(ctx context.Context, ses config.SESConfig, dispatch config.DispatchConfig) (*Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(ses.Region))
	if ses.AccessKey != "" && ses.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ses.AccessKey, ses.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("providerclient: load AWS config: %w", err)
	}

	c := &Client{ses: sesv2.NewFromConfig(cfg)}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ses",
		MaxRequests: dispatch.CircuitSuccThreshold,
		Timeout:     dispatch.CircuitCooldown(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return atomic.LoadInt64(&c.consecutiveServiceFailures) >= int64(dispatch.CircuitFailThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("providerclient circuit state change", "circuit", name, "from", from.String(), "to", to.String())
			if to == gobreaker.StateClosed {
				atomic.StoreInt64(&c.consecutiveServiceFailures, 0)
			}
		},
	})

	return c, nil
}

// State reports the circuit breaker's current state (closed, open, or
// half-open), exposed for the admin API's health check.
func (c *Client) State() string {
	return c.breaker.State().String()
}

// Send delivers one message. The returned error, when non-nil, is always a
// *ClassifiedError so callers can branch on Kind without a second call to
// Classify. Only errors whose Kind.CountsAsBreakerFailure is true count
// toward tripping the circuit; gobreaker's Execute treats every non-nil
// callback error as a failure, so client-fault kinds are swallowed inside
// the callback and re-raised after Execute returns. consecutiveServiceFailures
// is what ReadyToTrip actually consults: a service/network failure
// increments it, a successful send resets it to 0, and a client fault
// decrements it by one, floored at 0, rather than resetting it, since a
// bad recipient or malformed request says nothing about provider health.
func (c *Client) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	var classified *ClassifiedError

	out, err := c.breaker.Execute(func() (interface{}, error) {
		result, sendErr := c.send(ctx, msg)
		if sendErr == nil {
			atomic.StoreInt64(&c.consecutiveServiceFailures, 0)
			return result, nil
		}
		kind := Classify(sendErr)
		if !kind.CountsAsBreakerFailure() {
			decrementFloored(&c.consecutiveServiceFailures)
			classified = &ClassifiedError{Kind: kind, Err: sendErr}
			return nil, nil
		}
		atomic.AddInt64(&c.consecutiveServiceFailures, 1)
		return nil, sendErr
	})

	if classified != nil {
		return nil, classified
	}
	if err != nil {
		return nil, &ClassifiedError{Kind: Classify(err), Err: err}
	}
	return out.(*domain.SendResult), nil
}

// decrementFloored decrements an atomic counter by one, never below zero.
func decrementFloored(n *int64) {
	for {
		cur := atomic.LoadInt64(n)
		if cur <= 0 {
			return
		}
		if atomic.CompareAndSwapInt64(n, cur, cur-1) {
			return
		}
	}
}

func (c *Client) send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{msg.Email}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLContent), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID)},
			{Name: aws.String("customer_id"), Value: aws.String(msg.CustomerID)},
		},
	}

	if msg.TextContent != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.TextContent), Charset: aws.String("UTF-8")}
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	for k, v := range msg.Headers {
		input.Content.Simple.Headers = append(input.Content.Simple.Headers, types.MessageHeader{
			Name: aws.String(k), Value: aws.String(v),
		})
	}

	result, err := c.ses.SendEmail(ctx, input)
	if err != nil {
		logger.Warn("providerclient send failed", "email", msg.Email, "error", err)
		return nil, err
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}

	return &domain.SendResult{
		Success:           true,
		ProviderMessageID: messageID,
		SentAt:            time.Now(),
	}, nil
}
