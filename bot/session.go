// Package bot owns the Discord boundary: the gateway session, the channel
// reachability checks and embed delivery the dispatcher needs, and the
// owner-facing message commands.
package bot

import (
	"errors"
	"io"
	"sync"

	"github.com/bwmarrin/discordgo"
	perrors "github.com/pkg/errors"

	"github.com/audiosutras/feedbot/publisher"
	Logger "github.com/audiosutras/feedbot/utils/log"
)

// Session wraps the discordgo gateway session. It exposes a ready gate the
// poll cycles block on, and implements publisher.Notifier.
type Session struct {
	discord *discordgo.Session

	readyOnce sync.Once
	ready     chan struct{}
}

func NewSession(token string) (*Session, error) {
	d, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, perrors.Wrap(err, "fail to create discord session")
	}
	// Message commands need the content intent on top of the guild defaults.
	d.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent

	s := &Session{
		discord: d,
		ready:   make(chan struct{}),
	}
	d.AddHandler(s.onReady)
	return s, nil
}

func (s *Session) Open() error {
	return perrors.Wrap(s.discord.Open(), "fail to open discord gateway connection")
}

func (s *Session) Close() {
	if err := s.discord.Close(); err != nil {
		Logger.Log.Errorf("fail to close discord session: %v", err)
	}
}

// Ready is closed once the gateway handshake finished. Cycles must not
// deliver before this, a half-open session answers channel lookups with
// false negatives.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

func (s *Session) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	s.readyOnce.Do(func() {
		Logger.Log.Infof("logged in as %s#%s", r.User.Username, r.User.Discriminator)
		close(s.ready)
	})
}

// SendEmbeds implements publisher.Notifier. Permanent "this channel is gone"
// rejections are translated to ErrChannelUnreachable so the dispatcher can
// clean the channel up.
func (s *Session) SendEmbeds(channelId string, content string, embeds []*discordgo.MessageEmbed) error {
	_, err := s.discord.ChannelMessageSendComplex(channelId, &discordgo.MessageSend{
		Content: content,
		Embeds:  embeds,
	})
	if isChannelGone(err) {
		return perrors.Wrap(publisher.ErrChannelUnreachable, channelId)
	}
	return err
}

// HasChannel implements publisher.Notifier. The state cache answers first;
// on a miss the REST API decides, so a channel the gateway never mentioned
// is still considered reachable.
func (s *Session) HasChannel(channelId string) bool {
	if _, err := s.discord.State.Channel(channelId); err == nil {
		return true
	}
	_, err := s.discord.Channel(channelId)
	return err == nil
}

func (s *Session) sendText(channelId, content string) {
	if _, err := s.discord.ChannelMessageSend(channelId, content); err != nil {
		Logger.Log.Errorf("fail to send message to channel %s: %v", channelId, err)
	}
}

func (s *Session) sendEmbedBatches(channelId, content string, embeds []*discordgo.MessageEmbed) {
	for _, batch := range publisher.ChunkEmbeds(embeds) {
		if err := s.SendEmbeds(channelId, content, batch); err != nil {
			Logger.Log.Errorf("fail to send embeds to channel %s: %v", channelId, err)
			return
		}
		// The header only belongs on the first batch.
		content = ""
	}
}

func (s *Session) sendFile(channelId, content, filename string, reader io.Reader) {
	_, err := s.discord.ChannelMessageSendComplex(channelId, &discordgo.MessageSend{
		Content: content,
		Files: []*discordgo.File{
			{Name: filename, ContentType: "text/plain", Reader: reader},
		},
	})
	if err != nil {
		Logger.Log.Errorf("fail to send file to channel %s: %v", channelId, err)
	}
}

// isChannelGone reports whether the REST error means the channel can never be
// delivered to again, as opposed to a transient failure.
func isChannelGone(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Message == nil {
		return false
	}
	switch restErr.Message.Code {
	case discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeMissingAccess:
		return true
	}
	return false
}

var _ publisher.Notifier = (*Session)(nil)
