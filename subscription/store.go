// Package subscription is the persisted mapping of (channel, source) pairs,
// for both subreddit listings and web feeds. It owns every query that plans a
// poll cycle (which sources to fetch) and every query that drives fan-out
// (which channels to deliver to).
package subscription

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	perrors "github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/audiosutras/feedbot/model"
	"github.com/audiosutras/feedbot/utils"
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AddSubreddit persists the (channel, subreddit) marker. Idempotent: returns
// created=false when the marker already exists. Whether the subreddit exists
// upstream is the caller's concern, checked before this call.
func (s *Store) AddSubreddit(channelId, subreddit string) (bool, error) {
	var existing model.RedditSubscription
	err := s.db.Where("channel_id = ? AND subreddit = ?", channelId, subreddit).First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !perrors.Is(err, gorm.ErrRecordNotFound) {
		return false, perrors.Wrap(err, "fail to probe for subreddit subscription")
	}

	sub := model.RedditSubscription{
		Id:        uuid.NewString(),
		ChannelId: channelId,
		Subreddit: subreddit,
	}
	if err := s.db.Create(&sub).Error; err != nil {
		return false, perrors.Wrap(err, "fail to create subreddit subscription")
	}
	return true, nil
}

// RemoveSubreddit deletes the marker and any undelivered posts fetched on its
// behalf. Returns the number of markers removed (0 means the channel was
// never subscribed).
func (s *Store) RemoveSubreddit(channelId, subreddit string) (int64, error) {
	res := s.db.Where("channel_id = ? AND subreddit = ?", channelId, subreddit).Delete(&model.RedditSubscription{})
	if res.Error != nil {
		return 0, perrors.Wrap(res.Error, "fail to delete subreddit subscription")
	}
	// Posts store the prefixed name as reported by the listing API.
	err := s.db.Where("channel_id = ? AND subreddit = ? AND sent = ?", channelId, "r/"+subreddit, false).
		Delete(&model.RedditPost{}).Error
	if err != nil {
		return res.RowsAffected, perrors.Wrap(err, "fail to delete pending posts")
	}
	return res.RowsAffected, nil
}

// PruneSubreddits removes every subreddit marker and pending post for a
// channel. Returns the number of markers removed.
func (s *Store) PruneSubreddits(channelId string) (int64, error) {
	res := s.db.Where("channel_id = ?", channelId).Delete(&model.RedditSubscription{})
	if res.Error != nil {
		return 0, perrors.Wrap(res.Error, "fail to prune subreddit subscriptions")
	}
	err := s.db.Where("channel_id = ? AND sent = ?", channelId, false).Delete(&model.RedditPost{}).Error
	if err != nil {
		return res.RowsAffected, perrors.Wrap(err, "fail to prune pending posts")
	}
	return res.RowsAffected, nil
}

func (s *Store) ListSubreddits(channelId string) ([]string, error) {
	var subreddits []string
	err := s.db.Model(&model.RedditSubscription{}).
		Where("channel_id = ?", channelId).
		Order("subreddit").
		Pluck("subreddit", &subreddits).Error
	if err != nil {
		return nil, perrors.Wrap(err, "fail to list subreddit subscriptions")
	}
	return subreddits, nil
}

// SubredditsByChannel groups all subreddit markers by channel. This is the
// fetch plan for a reddit poll cycle: one combined listing request per
// channel covering all of its subreddits.
func (s *Store) SubredditsByChannel() (map[string][]string, error) {
	var subs []model.RedditSubscription
	if err := s.db.Order("channel_id, subreddit").Find(&subs).Error; err != nil {
		return nil, perrors.Wrap(err, "fail to load subreddit subscriptions")
	}
	plan := make(map[string][]string)
	for _, sub := range subs {
		plan[sub.ChannelId] = append(plan[sub.ChannelId], sub.Subreddit)
	}
	return plan, nil
}

// AddFeed persists the feed marker with its cached metadata. Idempotent on
// (channel, feed url).
func (s *Store) AddFeed(channelId string, info FeedMetadata) (bool, error) {
	var existing model.RSSSubscription
	err := s.db.Where("channel_id = ? AND feed_url = ?", channelId, info.FeedUrl).First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !perrors.Is(err, gorm.ErrRecordNotFound) {
		return false, perrors.Wrap(err, "fail to probe for feed subscription")
	}

	sub := model.RSSSubscription{
		Id:        uuid.NewString(),
		ChannelId: channelId,
		FeedUrl:   info.FeedUrl,
		Title:     info.Title,
		Subtitle:  info.Subtitle,
		Summary:   info.Summary,
		Author:    info.Author,
		Link:      info.Link,
		Image:     info.Image,
	}
	if err := s.db.Create(&sub).Error; err != nil {
		return false, perrors.Wrap(err, "fail to create feed subscription")
	}
	return true, nil
}

// FeedMetadata is the cached feed-level metadata stored on the marker.
type FeedMetadata struct {
	FeedUrl  string
	Title    string
	Subtitle string
	Summary  string
	Author   string
	Link     string
	Image    string
}

// GetFeed returns the marker for (channel, feed url), or nil when the channel
// is not subscribed.
func (s *Store) GetFeed(channelId, feedUrl string) (*model.RSSSubscription, error) {
	var sub model.RSSSubscription
	err := s.db.Where("channel_id = ? AND feed_url = ?", channelId, feedUrl).First(&sub).Error
	if perrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, perrors.Wrap(err, "fail to load feed subscription")
	}
	return &sub, nil
}

// RemoveFeed deletes the marker and returns the deleted record so the caller
// can render what was unsubscribed. Returns nil when there was nothing to
// delete.
func (s *Store) RemoveFeed(channelId, feedUrl string) (*model.RSSSubscription, error) {
	sub, err := s.GetFeed(channelId, feedUrl)
	if err != nil || sub == nil {
		return nil, err
	}
	if err := s.db.Delete(&model.RSSSubscription{}, "id = ?", sub.Id).Error; err != nil {
		return nil, perrors.Wrap(err, "fail to delete feed subscription")
	}
	return sub, nil
}

// PruneFeeds removes every feed marker for a channel, returning the count.
func (s *Store) PruneFeeds(channelId string) (int64, error) {
	res := s.db.Where("channel_id = ?", channelId).Delete(&model.RSSSubscription{})
	if res.Error != nil {
		return 0, perrors.Wrap(res.Error, "fail to prune feed subscriptions")
	}
	return res.RowsAffected, nil
}

func (s *Store) ListFeeds(channelId string) ([]model.RSSSubscription, error) {
	var subs []model.RSSSubscription
	err := s.db.Where("channel_id = ?", channelId).Order("feed_url").Find(&subs).Error
	if err != nil {
		return nil, perrors.Wrap(err, "fail to list feed subscriptions")
	}
	return subs, nil
}

// DistinctFeedUrls returns every feed URL any channel subscribes to. Feeds
// are fetched once per cycle regardless of subscriber count.
func (s *Store) DistinctFeedUrls() ([]string, error) {
	var urls []string
	err := s.db.Model(&model.RSSSubscription{}).Distinct("feed_url").Order("feed_url").Pluck("feed_url", &urls).Error
	if err != nil {
		return nil, perrors.Wrap(err, "fail to load distinct feed urls")
	}
	return urls, nil
}

// ChannelsForFeed returns every channel subscribed to the feed, the fan-out
// set for newly inserted entries.
func (s *Store) ChannelsForFeed(feedUrl string) ([]string, error) {
	var channels []string
	err := s.db.Model(&model.RSSSubscription{}).
		Where("feed_url = ?", feedUrl).
		Distinct("channel_id").
		Pluck("channel_id", &channels).Error
	if err != nil {
		return nil, perrors.Wrap(err, "fail to load channels for feed")
	}
	return channels, nil
}

// ChannelsWithAnySubscription returns the union of channels holding at least
// one subscription of either kind. Used by the broadcast cycle, which must
// not double-send to a channel subscribed to both.
func (s *Store) ChannelsWithAnySubscription() ([]string, error) {
	var redditChannels []string
	err := s.db.Model(&model.RedditSubscription{}).Distinct("channel_id").Pluck("channel_id", &redditChannels).Error
	if err != nil {
		return nil, perrors.Wrap(err, "fail to load reddit channels")
	}
	var rssChannels []string
	err = s.db.Model(&model.RSSSubscription{}).Distinct("channel_id").Pluck("channel_id", &rssChannels).Error
	if err != nil {
		return nil, perrors.Wrap(err, "fail to load rss channels")
	}
	return utils.DedupStrings(append(redditChannels, rssChannels...)), nil
}

// CleanupChannel removes every trace of an unreachable channel: both marker
// kinds and any undelivered posts. Called by the dispatcher when delivery
// hits a channel that no longer exists, so dead destinations are never
// retried.
func (s *Store) CleanupChannel(channelId string) error {
	if err := s.db.Where("channel_id = ?", channelId).Delete(&model.RedditSubscription{}).Error; err != nil {
		return perrors.Wrap(err, "fail to delete subreddit subscriptions")
	}
	if err := s.db.Where("channel_id = ?", channelId).Delete(&model.RSSSubscription{}).Error; err != nil {
		return perrors.Wrap(err, "fail to delete feed subscriptions")
	}
	if err := s.db.Where("channel_id = ?", channelId).Delete(&model.RedditPost{}).Error; err != nil {
		return perrors.Wrap(err, "fail to delete posts")
	}
	return nil
}

// Export renders the channel's subscriptions as replayable commands, one line
// per source kind. Empty string when the channel has no subscriptions.
func (s *Store) Export(channelId string) (string, error) {
	feeds, err := s.ListFeeds(channelId)
	if err != nil {
		return "", err
	}
	subreddits, err := s.ListSubreddits(channelId)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if len(feeds) > 0 {
		urls := make([]string, 0, len(feeds))
		for _, feed := range feeds {
			urls = append(urls, feed.FeedUrl)
		}
		fmt.Fprintf(&b, ".rss add %s\n", strings.Join(urls, ","))
	}
	if len(subreddits) > 0 {
		fmt.Fprintf(&b, ".subreddit add %s\n", strings.Join(subreddits, ","))
	}
	return b.String(), nil
}
