package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"clip_bot/internal/model"
)

const maxDiscordHistory = 100

// discordSession is the subset of *discordgo.Session the adapter uses.
type discordSession interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	SelfID() string
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	MessageReactionRemove(channelID, messageID, emojiID, userID string, options ...discordgo.RequestOption) error
	ChannelMessageSendReply(channelID string, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// sessionWrapper exposes the session state the interface needs.
type sessionWrapper struct {
	*discordgo.Session
}

func (w sessionWrapper) SelfID() string {
	if w.State == nil || w.State.User == nil {
		return ""
	}
	return w.State.User.ID
}

// Discord watches a single text channel through the gateway.
type Discord struct {
	session   discordSession
	channelID string
	inbox     *inbox
	log       *slog.Logger
	selfID    string
}

// NewDiscord creates a Discord adapter for a bot token.
func NewDiscord(token, channelID string, log *slog.Logger) (*Discord, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentMessageContent
	return newDiscord(sessionWrapper{s}, channelID, log), nil
}

func newDiscord(s discordSession, channelID string, log *slog.Logger) *Discord {
	return &Discord{
		session:   s,
		channelID: channelID,
		inbox:     newInbox(),
		log:       log.With("platform", "discord"),
	}
}

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the gateway connection and starts delivering messages.
func (d *Discord) Connect(ctx context.Context) error {
	d.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		d.handleCreate(m.Message)
	})
	if err := connectRetry(ctx, d.log, d.Name(), d.session.Open); err != nil {
		return err
	}
	d.selfID = d.session.SelfID()
	d.log.Info("connected", "user_id", d.selfID, "channel_id", d.channelID)
	return nil
}

func (d *Discord) handleCreate(m *discordgo.Message) {
	if m == nil || m.ChannelID != d.channelID {
		return
	}
	d.inbox.push(d.convert(m))
}

// Messages returns new messages from the monitored channel.
func (d *Discord) Messages() <-chan model.InboundMessage { return d.inbox.ch }

// SelfID returns the bot user's ID.
func (d *Discord) SelfID() string { return d.selfID }

// AddReaction reacts to msg as the bot.
func (d *Discord) AddReaction(_ context.Context, msg model.InboundMessage, m model.Marker) error {
	if err := d.session.MessageReactionAdd(msg.ChannelID, msg.ID, m.Emoji()); err != nil {
		return fmt.Errorf("add reaction: %w", err)
	}
	return nil
}

// RemoveReaction removes the bot's own reaction from msg.
func (d *Discord) RemoveReaction(_ context.Context, msg model.InboundMessage, m model.Marker) error {
	if err := d.session.MessageReactionRemove(msg.ChannelID, msg.ID, m.Emoji(), "@me"); err != nil {
		return fmt.Errorf("remove reaction: %w", err)
	}
	return nil
}

// Reply posts text as a reply to msg.
func (d *Discord) Reply(_ context.Context, msg model.InboundMessage, text string) error {
	ref := &discordgo.MessageReference{MessageID: msg.ID, ChannelID: msg.ChannelID}
	if _, err := d.session.ChannelMessageSendReply(msg.ChannelID, text, ref); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// RecentHistory returns the latest messages of the channel, newest first.
// Discord serves at most 100 per request.
func (d *Discord) RecentHistory(_ context.Context, limit int) ([]model.InboundMessage, error) {
	if limit > maxDiscordHistory {
		limit = maxDiscordHistory
	}
	msgs, err := d.session.ChannelMessages(d.channelID, limit, "", "", "")
	if err != nil {
		return nil, fmt.Errorf("fetch channel messages: %w", err)
	}
	out := make([]model.InboundMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, d.convert(m))
	}
	return out, nil
}

// Close disconnects from the gateway.
func (d *Discord) Close() error {
	d.inbox.shut()
	return d.session.Close()
}

// convert maps a Discord message. Discord only tells whether the bot itself
// reacted, so reactions from other users carry no user ID.
func (d *Discord) convert(m *discordgo.Message) model.InboundMessage {
	msg := model.InboundMessage{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		Body:      m.Content,
		CreatedAt: m.Timestamp,
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
		msg.AuthorIsBot = m.Author.Bot
	}
	for _, r := range m.Reactions {
		if r == nil || r.Emoji == nil {
			continue
		}
		userID := ""
		if r.Me {
			userID = d.selfID
		}
		msg.Reactions = append(msg.Reactions, model.Reaction{Emoji: r.Emoji.Name, UserID: userID})
	}
	return msg
}
