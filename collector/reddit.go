package collector

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/audiosutras/feedbot/model"
)

const (
	// Tokens are refreshed a bit before reddit expires them so an in-flight
	// cycle never races the expiry.
	tokenExpirySlack = 2 * time.Minute

	redditListingLimit = 100
)

// RedditCollectorConfig carries credentials and endpoints for the reddit
// listing API. Endpoints are configurable so tests can point the collector at
// a local fake.
type RedditCollectorConfig struct {
	ClientId     string
	ClientSecret string
	Username     string
	Password     string
	UserAgent    string

	// AuthUrl serves the OAuth token endpoint, ApiUrl the authenticated
	// listing endpoints, PublicUrl the unauthenticated about.json used by the
	// exists check.
	AuthUrl   string
	ApiUrl    string
	PublicUrl string

	// IncludeLinkPosts keeps listing items without selftext (link/promotional
	// posts). The upstream behavior was inconsistent here, so this is an
	// explicit knob rather than an implicit filter. Default false: only
	// self-authored posts produce records.
	IncludeLinkPosts bool
}

// RedditCollector fetches "new" listings for subreddits, normalized into
// RedditPost drafts for one channel. One combined request covers all
// subreddits a channel subscribes to, reddit supports the a+b+c multi query.
type RedditCollector struct {
	config RedditCollectorConfig

	m           sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewRedditCollector(config RedditCollectorConfig) *RedditCollector {
	if config.AuthUrl == "" {
		config.AuthUrl = "https://www.reddit.com"
	}
	if config.ApiUrl == "" {
		config.ApiUrl = "https://oauth.reddit.com"
	}
	if config.PublicUrl == "" {
		config.PublicUrl = "https://www.reddit.com"
	}
	return &RedditCollector{config: config}
}

func NewRedditCollectorFromEnv() *RedditCollector {
	return NewRedditCollector(RedditCollectorConfig{
		ClientId:     os.Getenv("REDDIT_CLIENT_ID"),
		ClientSecret: os.Getenv("REDDIT_CLIENT_SECRET"),
		Username:     os.Getenv("REDDIT_USERNAME"),
		Password:     os.Getenv("REDDIT_PASSWORD"),
		UserAgent:    os.Getenv("REDDIT_USER_AGENT"),
	})
}

type redditTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type redditListing struct {
	Kind string `json:"kind"`
	Data struct {
		Children []struct {
			Data struct {
				SubredditNamePrefixed string `json:"subreddit_name_prefixed"`
				Title                 string `json:"title"`
				Selftext              string `json:"selftext"`
				Permalink             string `json:"permalink"`
				Thumbnail             string `json:"thumbnail"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// FetchNew pulls the combined "new" listing for the given subreddits and
// normalizes it into unsent RedditPost drafts for the channel. Items without
// selftext are dropped unless IncludeLinkPosts is set.
func (c *RedditCollector) FetchNew(channelId string, subreddits []string) ([]model.RedditPost, error) {
	query := strings.Join(subreddits, "+")
	token, err := c.getToken()
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("User-Agent", c.config.UserAgent)
	header.Set("Authorization", "Bearer "+token)
	client := NewHttpClient(header).DisableRedirects()

	uri := fmt.Sprintf("%s/r/%s/new?limit=%d", c.config.ApiUrl, query, redditListingLimit)
	res, err := client.Get(uri)
	if err != nil {
		return nil, NewSourceError(ErrorTransport, query, "listing request failed", err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode >= 300 && res.StatusCode < 400:
		// Nonexistent subreddits answer with a redirect to search.
		return nil, NewSourceError(ErrorNotFound, query, "subreddit does not exist", nil)
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return nil, NewSourceError(ErrorAuth, query, fmt.Sprintf("listing request rejected with status %d", res.StatusCode), nil)
	case res.StatusCode == http.StatusNotFound:
		return nil, NewSourceError(ErrorNotFound, query, "subreddit does not exist", nil)
	case res.StatusCode != http.StatusOK:
		return nil, NewSourceError(ErrorTransport, query, fmt.Sprintf("listing request failed with status %d", res.StatusCode), nil)
	}

	var listing redditListing
	if err := json.NewDecoder(res.Body).Decode(&listing); err != nil {
		return nil, NewSourceError(ErrorMalformed, query, "cannot decode listing response", err)
	}

	posts := []model.RedditPost{}
	for _, child := range listing.Data.Children {
		d := child.Data
		if d.Permalink == "" {
			continue
		}
		if d.Selftext == "" && !c.config.IncludeLinkPosts {
			continue
		}
		posts = append(posts, model.RedditPost{
			ChannelId:   channelId,
			Subreddit:   d.SubredditNamePrefixed,
			Title:       d.Title,
			Description: d.Selftext,
			Link:        d.Permalink,
			Thumbnail:   d.Thumbnail,
			Sent:        false,
		})
	}
	return posts, nil
}

// SubredditExists checks whether a subreddit exists before a subscription is
// persisted. Redirects and 404s both mean "no such subreddit"; transport
// failures are reported as errors so the caller can ask the user to retry.
func (c *RedditCollector) SubredditExists(name string) (bool, error) {
	header := http.Header{}
	header.Set("User-Agent", c.config.UserAgent)
	client := NewHttpClient(header).DisableRedirects()

	res, err := client.Get(fmt.Sprintf("%s/r/%s/about.json", c.config.PublicUrl, url.PathEscape(name)))
	if err != nil {
		return false, NewSourceError(ErrorTransport, name, "exists check failed", err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode >= 300 && res.StatusCode < 400:
		return false, nil
	case res.StatusCode == http.StatusNotFound:
		return false, nil
	case res.StatusCode != http.StatusOK:
		return false, NewSourceError(ErrorTransport, name, fmt.Sprintf("exists check failed with status %d", res.StatusCode), nil)
	}

	var about struct {
		Kind string `json:"kind"`
	}
	if err := json.NewDecoder(res.Body).Decode(&about); err != nil {
		return false, NewSourceError(ErrorMalformed, name, "cannot decode about response", err)
	}
	// A real subreddit answers with a t5 thing; search results do not.
	return about.Kind == "t5", nil
}

// getToken returns a cached password-grant token, refreshing it when expired.
func (c *RedditCollector) getToken() (string, error) {
	c.m.Lock()
	defer c.m.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", c.config.Username)
	form.Set("password", c.config.Password)

	basic := base64.StdEncoding.EncodeToString([]byte(c.config.ClientId + ":" + c.config.ClientSecret))
	header := http.Header{}
	header.Set("User-Agent", c.config.UserAgent)
	header.Set("Authorization", "Basic "+basic)
	client := NewHttpClient(header)

	res, err := client.Post(c.config.AuthUrl+"/api/v1/access_token", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return "", NewSourceError(ErrorTransport, "reddit", "token request failed", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", NewSourceError(ErrorAuth, "reddit", fmt.Sprintf("token request rejected with status %d", res.StatusCode), nil)
	}

	var token redditTokenResponse
	if err := json.NewDecoder(res.Body).Decode(&token); err != nil {
		return "", NewSourceError(ErrorMalformed, "reddit", "cannot decode token response", err)
	}
	if token.AccessToken == "" {
		return "", NewSourceError(ErrorAuth, "reddit", "token response contains no access token", nil)
	}

	c.token = token.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn)*time.Second - tokenExpirySlack)
	return c.token, nil
}
