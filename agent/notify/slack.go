package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	slackapi "github.com/slack-go/slack"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
)

const maxRetries = 3

type SlackConfig struct {
	BotToken string `envconfig:"BOT_TOKEN"`
	APIURL   string `envconfig:"API_URL"`
}

type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Slack posts advisor messages to the advisor's Slack contact (a user or channel id).
// Customers are not on Slack, so customer messages are skipped.
type Slack struct {
	client slackClient
}

func NewSlack(cfg SlackConfig) (*Slack, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("%w: slack bot token is required", contractx.ErrValidation)
	}
	var opts []slackapi.Option
	if cfg.APIURL != "" {
		opts = append(opts, slackapi.OptionAPIURL(cfg.APIURL))
	}
	return &Slack{client: slackapi.New(cfg.BotToken, opts...)}, nil
}

func (s *Slack) OfferLead(ctx context.Context, advisor contractx.Advisor, offer contractx.Offer) error {
	return s.post(ctx, advisorAddress(advisor), offer.Text)
}

func (s *Slack) NotifyAdvisor(ctx context.Context, advisor contractx.Advisor, text string) error {
	return s.post(ctx, advisorAddress(advisor), text)
}

func (s *Slack) NotifyCustomer(context.Context, string, string) error { return nil }

func (s *Slack) post(ctx context.Context, channelID, text string) error {
	err := retrySlack(ctx, func() error {
		_, _, err := s.client.PostMessageContext(ctx, channelID, slackapi.MsgOptionText(text, false))
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: slack post message: %v", contractx.ErrCollaboratorUnavailable, err)
	}
	return nil
}

func retrySlack(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}
		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(1<<attempt) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
