package bot

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/emotebot/telemetry"
)

// Discord is a Platform backed by a discordgo session.
type Discord struct {
	session *discordgo.Session
}

// NewDiscord creates a session for token. Bot accounts need the "Bot " token
// scheme; user tokens are sent as is.
func NewDiscord(token string, isBot bool) (*Discord, error) {
	if isBot {
		token = "Bot " + token
	}
	s, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	// Handlers run on the event loop one at a time, so events reach the
	// queue in gateway order. A blocked handler stalls the whole gateway;
	// Session.Serve hands events over with the non-blocking Bot.Offer.
	s.SyncEvents = true
	s.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent
	return &Discord{session: s}, nil
}

func (d *Discord) Edit(ctx context.Context, channelID, messageID, text string) error {
	_, err := d.session.ChannelMessageEdit(channelID, messageID, text, discordgo.WithContext(ctx))
	return err
}

func (d *Discord) Send(ctx context.Context, channelID, text string) error {
	_, err := d.session.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
	return err
}

func (d *Discord) SendFile(ctx context.Context, channelID, text, fileName string, data []byte) error {
	_, err := d.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: text,
		Files:   []*discordgo.File{{Name: fileName, Reader: bytes.NewReader(data)}},
	}, discordgo.WithContext(ctx))
	return err
}

func (d *Discord) Delete(ctx context.Context, channelID, messageID string) error {
	return d.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
}

// Run opens the gateway connection and passes every message create and edit
// event to handle until ctx is done.
func (d *Discord) Run(ctx context.Context, handle func(Message)) error {
	removeCreate := d.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if msg, ok := fromDiscord(m.Message, false); ok {
			handle(msg)
		}
	})
	defer removeCreate()
	removeUpdate := d.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageUpdate) {
		if msg, ok := fromDiscord(m.Message, true); ok {
			handle(msg)
		}
	})
	defer removeUpdate()

	if err := d.session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	telemetry.AddGauge(telemetry.ActiveSessions, 1)
	defer telemetry.AddGauge(telemetry.ActiveSessions, -1)
	if u := d.session.State.User; u != nil {
		slog.Info("discord session connected", slog.String("component", "bot"), slog.String("user_id", u.ID))
	}

	<-ctx.Done()
	if err := d.session.Close(); err != nil {
		slog.Warn("discord close failed", slog.String("component", "bot"), slog.Any("err", err))
	}
	return nil
}

// fromDiscord unifies create and update events. Updates that carry no
// author or content (embed unfurls and the like) are dropped.
func fromDiscord(m *discordgo.Message, edited bool) (Message, bool) {
	if m == nil || m.Author == nil {
		return Message{}, false
	}
	if edited && m.Content == "" {
		return Message{}, false
	}
	return Message{
		ID:             m.ID,
		ChannelID:      m.ChannelID,
		AuthorID:       m.Author.ID,
		Content:        m.Content,
		HasAttachments: len(m.Attachments) > 0,
		Edited:         edited,
	}, true
}
