// Package publisher posts replies to the social platform.
package publisher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/developingchet/replybot/internal/apiclient"
	"github.com/rs/zerolog"
)

const endpointTweets = "tweets"

// Publisher posts text as a reply to postID.
type Publisher interface {
	Publish(ctx context.Context, postID, text string) error
}

// XConfig holds parameters for the X API v2 client.
type XConfig struct {
	BaseURL     string
	// BearerToken is an OAuth 2.0 user access token; POST /2/tweets
	// rejects app-only tokens.
	BearerToken string
	Timeout     time.Duration
	Debug       bool
}

// XClient publishes replies with the X API v2.
type XClient struct {
	api *apiclient.Client
	log zerolog.Logger
}

type replyTarget struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

type createTweetRequest struct {
	Text  string       `json:"text"`
	Reply *replyTarget `json:"reply,omitempty"`
}

type createTweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

// NewX builds an XClient.
func NewX(cfg XConfig, log zerolog.Logger) *XClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twitter.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	log = log.With().Str("component", "publisher").Logger()
	api := apiclient.New(apiclient.Config{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		Debug:   cfg.Debug,
		Headers: map[string]string{"Authorization": "Bearer " + cfg.BearerToken},
	}, log)
	return &XClient{api: api, log: log}
}

// Publish posts text in reply to postID.
func (c *XClient) Publish(ctx context.Context, postID, text string) error {
	req := createTweetRequest{Text: text, Reply: &replyTarget{InReplyToTweetID: postID}}
	var resp createTweetResponse
	if err := c.api.DoJSON(ctx, http.MethodPost, "/2/tweets", endpointTweets, req, &resp); err != nil {
		return fmt.Errorf("publish reply to %s: %w", postID, err)
	}
	c.log.Info().Str("post_id", postID).Str("reply_id", resp.Data.ID).Msg("reply published")
	return nil
}

// Noop logs replies instead of publishing them. It is used in test mode.
type Noop struct {
	log zerolog.Logger
}

// NewNoop returns a Noop publisher.
func NewNoop(log zerolog.Logger) *Noop {
	return &Noop{log: log.With().Str("component", "publisher").Logger()}
}

// Publish logs the reply and returns nil.
func (n *Noop) Publish(_ context.Context, postID, text string) error {
	n.log.Info().Str("post_id", postID).Str("reply", text).Msg("[TEST MODE] reply not published")
	return nil
}
