// Package discord posts messages to a Discord text channel. Each message
// becomes an embed with the original text; the embed is edited in place when
// the translation arrives.
package discord

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/interpreta/pkg/message"
	"github.com/MrWong99/interpreta/pkg/provider"
)

const (
	embedColorPending    = 0x95A5A6
	embedColorTranslated = 0x2ECC71

	// maxDescription is Discord's embed description limit.
	maxDescription = 4096
	// maxFieldValue is Discord's embed field value limit.
	maxFieldValue = 1024
)

// ChannelAPI is the subset of *discordgo.Session used by the sink.
type ChannelAPI interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var (
	_ message.Sink               = (*Sink)(nil)
	_ provider.CredentialChecker = (*Sink)(nil)
	_ ChannelAPI                 = (*discordgo.Session)(nil)
)

// Sink implements message.Sink on a Discord channel. It is safe for
// concurrent use.
type Sink struct {
	api       ChannelAPI
	channelID string
	title     string

	mu    sync.Mutex
	posts map[int64]post
}

type post struct {
	discordID string
	original  string
	ts        time.Time
}

// Config holds the dependencies of a Sink.
type Config struct {
	// API is usually a *discordgo.Session.
	API       ChannelAPI
	ChannelID string
	// Title is shown above every embed, e.g. "German → English".
	Title string
}

// New returns a Sink posting to cfg.ChannelID.
func New(cfg Config) *Sink {
	return &Sink{
		api:       cfg.API,
		channelID: cfg.ChannelID,
		title:     cfg.Title,
		posts:     make(map[int64]post),
	}
}

// NewSession opens a REST-only discordgo session for a bot token. No gateway
// connection is made.
func NewSession(token string) (*discordgo.Session, error) {
	if token == "" {
		return nil, provider.MissingCredential("discord sink")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	return s, nil
}

// CheckCredentials implements provider.CredentialChecker.
func (s *Sink) CheckCredentials() error {
	if s.api == nil || s.channelID == "" {
		return provider.MissingCredential("discord sink")
	}
	return nil
}

// CreateMessage implements message.Sink.
func (s *Sink) CreateMessage(ctx context.Context, id int64, original string, ts time.Time) error {
	embed := s.buildEmbed(id, original, nil, ts)
	msg, err := s.api.ChannelMessageSendEmbed(s.channelID, embed, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: post message %d: %w", id, err)
	}

	s.mu.Lock()
	s.posts[id] = post{discordID: msg.ID, original: original, ts: ts}
	s.mu.Unlock()
	return nil
}

// SetTranslation implements message.Sink.
func (s *Sink) SetTranslation(ctx context.Context, id int64, translated string) error {
	s.mu.Lock()
	p, ok := s.posts[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("discord: message %d: %w", id, message.ErrNotFound)
	}

	embed := s.buildEmbed(id, p.original, &translated, p.ts)
	if _, err := s.api.ChannelMessageEditEmbed(s.channelID, p.discordID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: edit message %d: %w", id, err)
	}

	// A message is translated at most once.
	s.mu.Lock()
	delete(s.posts, id)
	s.mu.Unlock()
	return nil
}

func (s *Sink) buildEmbed(id int64, original string, translated *string, ts time.Time) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       s.title,
		Description: truncate(original, maxDescription),
		Color:       embedColorPending,
		Footer:      &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("#%d", id)},
		Timestamp:   ts.Format(time.RFC3339),
	}
	if translated != nil {
		embed.Color = embedColorTranslated
		embed.Fields = []*discordgo.MessageEmbedField{
			{Name: "Translation", Value: truncate(*translated, maxFieldValue)},
		}
	}
	return embed
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}
