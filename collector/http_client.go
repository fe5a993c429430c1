package collector

import (
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 30 * time.Second

// HttpClient is a thin wrapper holding the headers every request to one
// upstream should carry (user agent, authorization). Both collectors go
// through it so timeouts and header handling live in one place.
type HttpClient struct {
	header http.Header

	client *http.Client
}

func NewDefaultHttpClient() *HttpClient {
	return &HttpClient{header: http.Header{}, client: &http.Client{Timeout: defaultTimeout}}
}

func NewHttpClient(header http.Header) *HttpClient {
	return &HttpClient{header: header, client: &http.Client{Timeout: defaultTimeout}}
}

// DisableRedirects makes the client surface 3xx responses instead of
// following them. The reddit exists-check relies on this: a listing request
// for a nonexistent subreddit answers with a redirect to search.
func (c *HttpClient) DisableRedirects() *HttpClient {
	c.client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return c
}

func (c *HttpClient) Get(uri string) (*http.Response, error) {
	req, err := http.NewRequest("GET", uri, nil)
	if err != nil {
		return nil, err
	}
	req.Header = c.header
	return c.client.Do(req)
}

func (c *HttpClient) Post(uri string, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest("POST", uri, body)
	if err != nil {
		return nil, err
	}
	req.Header = c.header.Clone()
	req.Header.Set("Content-Type", contentType)
	return c.client.Do(req)
}
