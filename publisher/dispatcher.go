// Package publisher delivers ingested items to their subscribed channels:
// pending reddit posts channel-by-channel with an at-least-once sent flag,
// and freshly inserted feed entries fanned out to every subscriber in
// batches of at most ten embeds.
package publisher

import (
	"errors"

	"github.com/bwmarrin/discordgo"
	perrors "github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/audiosutras/feedbot/model"
	"github.com/audiosutras/feedbot/subscription"
	Logger "github.com/audiosutras/feedbot/utils/log"
)

// ErrChannelUnreachable is returned by a Notifier when the destination
// channel no longer exists. It is a permanent failure: the dispatcher reacts
// by wiping the channel's subscriptions instead of retrying.
var ErrChannelUnreachable = errors.New("channel unreachable")

// Notifier is the output-platform boundary. The Discord session implements
// it in production; tests substitute a fake.
type Notifier interface {
	// SendEmbeds delivers one message with optional text content and up to
	// ten embeds. Returns ErrChannelUnreachable (possibly wrapped) when the
	// channel is gone for good.
	SendEmbeds(channelId string, content string, embeds []*discordgo.MessageEmbed) error

	// HasChannel reports whether the channel is currently resolvable.
	HasChannel(channelId string) bool
}

type Dispatcher struct {
	db       *gorm.DB
	store    *subscription.Store
	notifier Notifier
}

func NewDispatcher(db *gorm.DB, store *subscription.Store, notifier Notifier) *Dispatcher {
	return &Dispatcher{db: db, store: store, notifier: notifier}
}

// DispatchPendingRedditPosts delivers every undelivered post in the store,
// not just the current cycle's: posts left behind by a crash or a failed
// send get picked up here on the next cycle. Each post is marked sent only
// after its notification went out, so a crash in between redelivers rather
// than loses. Returns the number delivered.
func (d *Dispatcher) DispatchPendingRedditPosts() (int, error) {
	var pending []model.RedditPost
	err := d.db.Where("sent = ?", false).Order("created_at").Find(&pending).Error
	if err != nil {
		return 0, perrors.Wrap(err, "fail to load pending posts")
	}

	delivered := 0
	deadChannels := map[string]bool{}
	for i := range pending {
		post := &pending[i]
		if deadChannels[post.ChannelId] {
			continue
		}

		if !d.notifier.HasChannel(post.ChannelId) {
			d.cleanupDeadChannel(post.ChannelId, deadChannels)
			continue
		}

		err := d.notifier.SendEmbeds(post.ChannelId, "", []*discordgo.MessageEmbed{RenderRedditPost(post)})
		if errors.Is(err, ErrChannelUnreachable) {
			d.cleanupDeadChannel(post.ChannelId, deadChannels)
			continue
		}
		if err != nil {
			// Transient failure: leave the post unsent, the next cycle retries.
			Logger.Log.Errorf("fail to deliver post %s to channel %s: %v", post.Id, post.ChannelId, err)
			continue
		}

		if err := d.db.Model(&model.RedditPost{}).Where("id = ?", post.Id).Update("sent", true).Error; err != nil {
			return delivered, perrors.Wrap(err, "fail to mark post sent")
		}
		delivered++
	}
	return delivered, nil
}

// DispatchFeedEntries fans the freshly inserted entries of one feed out to
// every channel subscribed to it, chunked at ten embeds per message with
// entry order preserved within and across chunks. Entries carry no sent
// flag; they are delivered exactly once because ingest returns them as new
// exactly once. Returns the number of channel deliveries made.
func (d *Dispatcher) DispatchFeedEntries(feedUrl string, entries []model.FeedEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	channels, err := d.store.ChannelsForFeed(feedUrl)
	if err != nil {
		return 0, err
	}

	embeds := make([]*discordgo.MessageEmbed, 0, len(entries))
	for i := range entries {
		embeds = append(embeds, RenderFeedEntry(&entries[i]))
	}
	batches := ChunkEmbeds(embeds)

	delivered := 0
	for _, channelId := range channels {
		if !d.notifier.HasChannel(channelId) {
			d.cleanupDeadChannel(channelId, nil)
			continue
		}
		if err := d.sendBatches(channelId, batches); err != nil {
			if errors.Is(err, ErrChannelUnreachable) {
				d.cleanupDeadChannel(channelId, nil)
				continue
			}
			Logger.Log.Errorf("fail to deliver %s entries to channel %s: %v", feedUrl, channelId, err)
			continue
		}
		delivered++
	}
	return delivered, nil
}

// Broadcast sends one embed to every channel holding a subscription of
// either kind, at most once per channel. Returns the number of channels
// reached.
func (d *Dispatcher) Broadcast(embed *discordgo.MessageEmbed) (int, error) {
	channels, err := d.store.ChannelsWithAnySubscription()
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, channelId := range channels {
		if !d.notifier.HasChannel(channelId) {
			d.cleanupDeadChannel(channelId, nil)
			continue
		}
		err := d.notifier.SendEmbeds(channelId, "", []*discordgo.MessageEmbed{embed})
		if errors.Is(err, ErrChannelUnreachable) {
			d.cleanupDeadChannel(channelId, nil)
			continue
		}
		if err != nil {
			Logger.Log.Errorf("fail to broadcast to channel %s: %v", channelId, err)
			continue
		}
		sent++
	}
	return sent, nil
}

// NotifySourceError reports a source-specific failure to the channel that
// subscribed to the source, when the channel is still reachable.
func (d *Dispatcher) NotifySourceError(channelId, message string) {
	if !d.notifier.HasChannel(channelId) {
		d.cleanupDeadChannel(channelId, nil)
		return
	}
	if err := d.notifier.SendEmbeds(channelId, message, nil); err != nil {
		Logger.Log.Errorf("fail to notify channel %s of source error: %v", channelId, err)
	}
}

func (d *Dispatcher) sendBatches(channelId string, batches [][]*discordgo.MessageEmbed) error {
	for _, batch := range batches {
		if err := d.notifier.SendEmbeds(channelId, "", batch); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) cleanupDeadChannel(channelId string, deadChannels map[string]bool) {
	Logger.Log.Infof("channel removed: %s, removing related entries from db", channelId)
	if err := d.store.CleanupChannel(channelId); err != nil {
		Logger.Log.Errorf("fail to clean up channel %s: %v", channelId, err)
	}
	if deadChannels != nil {
		deadChannels[channelId] = true
	}
}
