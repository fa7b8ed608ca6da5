package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	colorOnline  = 0x00CC66
	colorError   = 0xCC3333
	colorOffline = 0xFF9900
	colorInfo    = 0x3399FF
)

// StatusNotifier is told about gateway health transitions.
type StatusNotifier interface {
	NotifyStatusChange(ctx context.Context, gw Gateway, previous GatewayStatus, cause error) error
}

// DiscordSession abstracts the discordgo.Session methods used by
// DiscordNotifier so tests never reach the Discord API.
type DiscordSession interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier posts one embed per gateway health transition.
type DiscordNotifier struct {
	session   DiscordSession
	channelID string
	logger    *zap.Logger
}

func NewDiscordNotifier(token, channelID string, logger *zap.Logger) (*DiscordNotifier, error) {
	if token == "" {
		return nil, fmt.Errorf("discord bot token is required")
	}
	if channelID == "" {
		return nil, fmt.Errorf("discord channel id is required")
	}

	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return NewDiscordNotifierWithSession(dg, channelID, logger), nil
}

// NewDiscordNotifierWithSession creates a notifier with an injected session (for testing).
func NewDiscordNotifierWithSession(session DiscordSession, channelID string, logger *zap.Logger) *DiscordNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscordNotifier{
		session:   session,
		channelID: channelID,
		logger:    logger,
	}
}

func (n *DiscordNotifier) NotifyStatusChange(ctx context.Context, gw Gateway, previous GatewayStatus, cause error) error {
	embed := statusEmbed(gw, previous, cause)
	if _, err := n.session.ChannelMessageSendEmbed(n.channelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send status embed for gateway %s: %w", gw.ID, err)
	}
	n.logger.Debug("status change posted",
		zap.String("gateway_id", gw.ID),
		zap.String("status", string(gw.Status)),
	)
	return nil
}

func statusEmbed(gw Gateway, previous GatewayStatus, cause error) *discordgo.MessageEmbed {
	color := colorInfo
	switch gw.Status {
	case GatewayStatusOnline:
		color = colorOnline
	case GatewayStatusError:
		color = colorError
	case GatewayStatusOffline:
		color = colorOffline
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Gateway", Value: gw.Name, Inline: true},
		{Name: "Status", Value: fmt.Sprintf("%s → %s", previous, gw.Status), Inline: true},
	}
	if gw.Version != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Version", Value: gw.Version, Inline: true})
	}
	if cause != nil {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Error", Value: truncate(cause.Error(), 1000)})
	}

	return &discordgo.MessageEmbed{
		Title:     "Gateway " + string(gw.Status),
		Color:     color,
		Fields:    fields,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Footer:    &discordgo.MessageEmbedFooter{Text: gw.ID},
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
