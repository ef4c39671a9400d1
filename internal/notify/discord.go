package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Discord delivers messages to a Discord channel. It is the fallback channel
// when Telegram is unreachable.
type Discord struct {
	session   *discordgo.Session
	channelID string
}

var _ Notifier = (*Discord)(nil)

// NewDiscord creates a Discord notifier authenticated with the given bot
// token. The session is REST-only: no gateway connection is opened for
// sending channel messages.
func NewDiscord(token, channelID string) (*Discord, error) {
	if token == "" {
		return nil, fmt.Errorf("notify: discord requires a bot token")
	}
	if channelID == "" {
		return nil, fmt.Errorf("notify: discord requires a channel ID")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("notify: discord session: %w", err)
	}
	return &Discord{session: session, channelID: channelID}, nil
}

// Name implements [Notifier].
func (d *Discord) Name() string { return "discord" }

// Send implements [Notifier].
func (d *Discord) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := d.session.ChannelMessageSend(d.channelID, text, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("notify: discord send: %w", err)
	}
	return nil
}
