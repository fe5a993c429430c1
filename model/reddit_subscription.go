package model

import (
	"time"
)

/*

RedditSubscription is the marker record for a channel following a subreddit's
"new" listing. It carries no content fields, unlike RedditPost which is one
fetched listing item. The original data model stored both shapes in a single
collection and told them apart by field presence, which is why they are two
physically separate tables here.

Id: primary key
CreatedAt: time when entity is created
ChannelId: the Discord channel that subscribed
Subreddit: bare subreddit name, without the "r/" prefix

One row per (channel, subreddit) pair is the subscription itself. Rows are
created by the ".subreddit add" command and deleted by ".subreddit rm",
".subreddit prune", or automatically when the channel becomes unreachable.
*/
type RedditSubscription struct {
	Id        string    `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"<-:create"`
	ChannelId string    `gorm:"uniqueIndex:idx_channel_subreddit"`
	Subreddit string    `gorm:"uniqueIndex:idx_channel_subreddit"`
}
