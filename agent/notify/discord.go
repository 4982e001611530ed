package notify

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
)

type DiscordConfig struct {
	BotToken string `envconfig:"BOT_TOKEN"`
}

type discordSession interface {
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord sends advisor messages as direct messages; the advisor contact is a Discord user id.
type Discord struct {
	sess    discordSession
	backoff time.Duration

	mu       sync.Mutex
	channels map[string]string
}

func NewDiscord(cfg DiscordConfig) (*Discord, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("%w: discord bot token is required", contractx.ErrValidation)
	}
	dg, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return newDiscord(dg), nil
}

func newDiscord(sess discordSession) *Discord {
	return &Discord{sess: sess, backoff: time.Second, channels: make(map[string]string)}
}

func (d *Discord) OfferLead(ctx context.Context, advisor contractx.Advisor, offer contractx.Offer) error {
	return d.send(ctx, advisorAddress(advisor), offer.Text)
}

func (d *Discord) NotifyAdvisor(ctx context.Context, advisor contractx.Advisor, text string) error {
	return d.send(ctx, advisorAddress(advisor), text)
}

func (d *Discord) NotifyCustomer(context.Context, string, string) error { return nil }

func (d *Discord) send(ctx context.Context, userID, text string) error {
	channelID, err := d.dmChannel(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: discord dm channel: %v", contractx.ErrCollaboratorUnavailable, err)
	}
	err = d.retry(ctx, func() error {
		_, err := d.sess.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: discord send: %v", contractx.ErrCollaboratorUnavailable, err)
	}
	return nil
}

func (d *Discord) dmChannel(ctx context.Context, userID string) (string, error) {
	d.mu.Lock()
	id, ok := d.channels[userID]
	d.mu.Unlock()
	if ok {
		return id, nil
	}
	ch, err := d.sess.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	d.channels[userID] = ch.ID
	d.mu.Unlock()
	return ch.ID, nil
}

func (d *Discord) retry(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != http.StatusTooManyRequests || attempt == maxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(1<<attempt) * d.backoff):
		}
	}
}
