package model

import (
	"time"
)

/*

RedditPost is one fetched subreddit listing item, pending or already delivered
to the channel that subscribed to its subreddit.

Id: primary key
CreatedAt: time when entity is created
ChannelId: the channel this post will be (or was) delivered to
Subreddit: prefixed subreddit name as reported by the listing, e.g. "r/linux"
Title: post title in plain text
Description: the post's selftext. Empty-body posts are filtered out by the
		collector before they ever become a RedditPost, unless link posts are
		explicitly enabled.
Link: permalink path ("/r/.../comments/...") or absolute URL
Thumbnail: thumbnail URL when reddit provides a real one ("self", "default"
		and friends are kept as-is and skipped at render time)
Sent: delivery flag. false on insert, flipped to true exactly once after the
		notification for this post was successfully sent. A crash between send and
		flip causes one redelivery on the next cycle, never a loss.

The dedup key for ingestion is (ChannelId, Subreddit, Title, Description):
a re-fetch of the same listing finds the existing row and inserts nothing.
*/
type RedditPost struct {
	Id          string    `gorm:"primaryKey"`
	CreatedAt   time.Time `gorm:"<-:create"`
	ChannelId   string    `gorm:"index"`
	Subreddit   string
	Title       string
	Description string
	Link        string
	Thumbnail   string
	Sent        bool `gorm:"index"`
}
