package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/echofix/echofix/internal/models"
)

const defaultUserAgent = "EchoFix/1.0"

// RedditClient reads public Reddit JSON endpoints (append .json to any
// permalink, no OAuth needed). Posting replies requires an OAuth bearer
// token; read paths work without one.
type RedditClient struct {
	baseURL    string
	oauthURL   string
	userAgent  string
	token      string
	httpClient *http.Client

	// Scores are cached briefly so a refresh pass over many items in the
	// same thread does not refetch the same listing.
	scoreCache *cache.Cache
}

// RedditOption configures a RedditClient.
type RedditOption func(*RedditClient)

// WithToken sets the OAuth bearer token used for posting replies.
func WithToken(token string) RedditOption {
	return func(c *RedditClient) { c.token = token }
}

// WithUserAgent overrides the request User-Agent.
func WithUserAgent(ua string) RedditOption {
	return func(c *RedditClient) { c.userAgent = ua }
}

// WithBaseURL overrides the Reddit endpoints, used by tests.
func WithBaseURL(base string) RedditOption {
	return func(c *RedditClient) {
		c.baseURL = base
		c.oauthURL = base
	}
}

// WithScoreCacheTTL controls how long fetched scores are reused.
func WithScoreCacheTTL(ttl time.Duration) RedditOption {
	return func(c *RedditClient) { c.scoreCache = cache.New(ttl, 2*ttl) }
}

// NewRedditClient builds a client for Reddit's public JSON API.
func NewRedditClient(opts ...RedditOption) *RedditClient {
	c := &RedditClient{
		baseURL:    "https://www.reddit.com",
		oauthURL:   "https://oauth.reddit.com",
		userAgent:  defaultUserAgent,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		scoreCache: cache.New(time.Minute, 2*time.Minute),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// listing mirrors the subset of Reddit's JSON we read.
type listing struct {
	Kind string `json:"kind"`
	Data struct {
		Children []child `json:"children"`
	} `json:"data"`
}

type child struct {
	Kind string    `json:"kind"`
	Data childData `json:"data"`
}

type childData struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Selftext    string          `json:"selftext"`
	Body        string          `json:"body"`
	Author      string          `json:"author"`
	Subreddit   string          `json:"subreddit"`
	Permalink   string          `json:"permalink"`
	Score       int             `json:"score"`
	NumComments int             `json:"num_comments"`
	CreatedUTC  float64         `json:"created_utc"`
	Replies     json.RawMessage `json:"replies"`
}

func (c *RedditClient) FetchThread(ctx context.Context, threadURL string, maxItems int) ([]*models.FeedbackItem, error) {
	if maxItems <= 0 {
		maxItems = 50
	}
	jsonURL, err := c.toJSONURL(threadURL)
	if err != nil {
		return nil, err
	}

	var listings []listing
	if err := c.getJSON(ctx, jsonURL, &listings); err != nil {
		return nil, err
	}
	if len(listings) < 2 {
		return nil, fmt.Errorf("unexpected thread response from %s", jsonURL)
	}

	var items []*models.FeedbackItem
	posts := listings[0].Data.Children
	if len(posts) == 0 {
		return nil, ErrNotFound
	}
	post := posts[0].Data
	items = append(items, c.itemFromPost(post))

	remaining := maxItems - 1
	for _, comment := range flattenComments(listings[1].Data.Children, remaining) {
		items = append(items, c.itemFromComment(comment, post.Subreddit, post.Title))
	}
	return items, nil
}

func (c *RedditClient) FetchScore(ctx context.Context, permalink, externalID string) (int, error) {
	if cached, ok := c.scoreCache.Get(externalID); ok {
		return cached.(int), nil
	}

	jsonURL, err := c.toJSONURL(permalink)
	if err != nil {
		return 0, err
	}

	var listings []listing
	if err := c.getJSON(ctx, jsonURL, &listings); err != nil {
		return 0, err
	}

	score, found := extractScore(listings, externalID)
	if !found {
		return 0, ErrNotFound
	}
	c.scoreCache.SetDefault(externalID, score)
	return score, nil
}

// PostReply submits a comment under the given fullname (t1_/t3_ prefixed ID).
func (c *RedditClient) PostReply(ctx context.Context, parentExternalID, text string) (string, error) {
	if c.token == "" {
		return "", fmt.Errorf("post reply: no reddit token configured")
	}

	form := url.Values{}
	form.Set("api_type", "json")
	form.Set("thing_id", fullname(parentExternalID))
	form.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.oauthURL+"/api/comment", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post reply: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("post reply: status %d", resp.StatusCode)
	}

	var payload struct {
		JSON struct {
			Data struct {
				Things []struct {
					Data struct {
						ID string `json:"id"`
					} `json:"data"`
				} `json:"things"`
			} `json:"data"`
			Errors [][]any `json:"errors"`
		} `json:"json"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode reply response: %w", err)
	}
	if len(payload.JSON.Errors) > 0 {
		return "", fmt.Errorf("post reply rejected: %v", payload.JSON.Errors[0])
	}
	if len(payload.JSON.Data.Things) == 0 {
		return "", fmt.Errorf("post reply: empty response")
	}
	return payload.JSON.Data.Things[0].Data.ID, nil
}

func (c *RedditClient) getJSON(ctx context.Context, jsonURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jsonURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", jsonURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("fetch %s: status %d", jsonURL, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", jsonURL, err)
	}
	return nil
}

// toJSONURL normalizes a permalink or full URL and appends .json.
func (c *RedditClient) toJSONURL(link string) (string, error) {
	if link == "" {
		return "", fmt.Errorf("empty permalink")
	}
	if !strings.HasPrefix(link, "http") {
		if !strings.HasPrefix(link, "/") {
			link = "/" + link
		}
		link = c.baseURL + link
	}

	parsed, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parse permalink: %w", err)
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	clean := parsed.String()
	if !strings.HasSuffix(clean, ".json") {
		clean += ".json"
	}
	return clean, nil
}

func (c *RedditClient) itemFromPost(data childData) *models.FeedbackItem {
	item := &models.FeedbackItem{
		ExternalID:  data.ID,
		Kind:        models.KindPost,
		Title:       data.Title,
		Body:        data.Selftext,
		Author:      orDeleted(data.Author),
		Forum:       data.Subreddit,
		Permalink:   data.Permalink,
		Score:       data.Score,
		NumComments: data.NumComments,
	}
	if data.CreatedUTC > 0 {
		t := time.Unix(int64(data.CreatedUTC), 0).UTC()
		item.SourceCreatedAt = &t
	}
	return item
}

func (c *RedditClient) itemFromComment(data childData, forum, postTitle string) *models.FeedbackItem {
	if data.Subreddit != "" {
		forum = data.Subreddit
	}
	item := &models.FeedbackItem{
		ExternalID: data.ID,
		Kind:       models.KindComment,
		Title:      postTitle,
		Body:       data.Body,
		Author:     orDeleted(data.Author),
		Forum:      forum,
		Permalink:  data.Permalink,
		Score:      data.Score,
	}
	if data.CreatedUTC > 0 {
		t := time.Unix(int64(data.CreatedUTC), 0).UTC()
		item.SourceCreatedAt = &t
	}
	return item
}

func orDeleted(author string) string {
	if author == "" {
		return "[deleted]"
	}
	return author
}

// flattenComments walks the comment tree breadth-first up to limit entries.
func flattenComments(children []child, limit int) []childData {
	var out []childData
	queue := append([]child(nil), children...)

	for len(queue) > 0 && len(out) < limit {
		node := queue[0]
		queue = queue[1:]
		if node.Kind != "t1" {
			continue
		}
		out = append(out, node.Data)

		if len(node.Data.Replies) > 0 && node.Data.Replies[0] == '{' {
			var nested listing
			if err := json.Unmarshal(node.Data.Replies, &nested); err == nil {
				queue = append(queue, nested.Data.Children...)
			}
		}
	}
	return out
}

// extractScore searches the post then the comment tree for externalID.
func extractScore(listings []listing, externalID string) (int, bool) {
	if len(listings) > 0 {
		for _, post := range listings[0].Data.Children {
			if post.Data.ID == externalID {
				return post.Data.Score, true
			}
		}
	}
	if len(listings) > 1 {
		return findCommentScore(listings[1].Data.Children, externalID)
	}
	return 0, false
}

func findCommentScore(children []child, externalID string) (int, bool) {
	for _, node := range children {
		if node.Kind != "t1" {
			continue
		}
		if node.Data.ID == externalID {
			return node.Data.Score, true
		}
		if len(node.Data.Replies) > 0 && node.Data.Replies[0] == '{' {
			var nested listing
			if err := json.Unmarshal(node.Data.Replies, &nested); err == nil {
				if score, ok := findCommentScore(nested.Data.Children, externalID); ok {
					return score, true
				}
			}
		}
	}
	return 0, false
}

// fullname prefixes a bare ID with its thing type. IDs already carrying a
// prefix pass through unchanged. Comments are t1, posts t3; bare IDs here
// are always posts because replies attach to the insight's source post.
func fullname(externalID string) string {
	if strings.HasPrefix(externalID, "t1_") || strings.HasPrefix(externalID, "t3_") {
		return externalID
	}
	return "t3_" + externalID
}
