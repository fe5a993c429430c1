package model

import (
	"time"
)

/*

RSSSubscription is the marker record for a channel following a web feed, plus
a cache of the feed-level metadata used to render the "about" embed for the
".rss ls" command without re-fetching the feed.

Id: primary key
CreatedAt: time when entity is created
ChannelId: the Discord channel that subscribed
FeedUrl: normalized feed URL (trailing slash), the source key
Title, Subtitle, Summary, Author, Link, Image: feed-level metadata captured
		at subscribe time

One row per (channel, feed_url) pair. FeedEntry rows are deliberately not
scoped by channel: entries are stored once per feed and fanned out to every
channel holding a marker for that feed.
*/
type RSSSubscription struct {
	Id        string    `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"<-:create"`
	ChannelId string    `gorm:"uniqueIndex:idx_channel_feed"`
	FeedUrl   string    `gorm:"uniqueIndex:idx_channel_feed"`
	Title     string
	Subtitle  string
	Summary   string
	Author    string
	Link      string
	Image     string
}
