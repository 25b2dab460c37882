package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"feedpilot/internal/logging"
	"feedpilot/internal/retry"
)

// XClient implements Client against the X API v2.
type XClient struct {
	bearerToken string
	userID      string
	baseURL     string
	httpClient  *http.Client
	retryPolicy retry.Policy
}

// XConfig holds configuration for the X client.
type XConfig struct {
	BearerToken string
	UserID      string
	BaseURL     string
	Timeout     time.Duration
}

// DefaultXConfig returns sensible defaults.
func DefaultXConfig(bearerToken, userID string) XConfig {
	return XConfig{
		BearerToken: bearerToken,
		UserID:      userID,
		BaseURL:     "https://api.twitter.com/2",
		Timeout:     30 * time.Second,
	}
}

// NewXClient creates a new X client with default config.
func NewXClient(bearerToken, userID string) *XClient {
	return NewXClientWithConfig(DefaultXConfig(bearerToken, userID))
}

// NewXClientWithConfig creates a new X client with custom config.
func NewXClientWithConfig(cfg XConfig) *XClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.twitter.com/2"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &XClient{
		bearerToken: cfg.BearerToken,
		userID:      cfg.UserID,
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: timeout},
		retryPolicy: retry.DefaultPolicy(),
	}
}

// =============================================================================
// API TYPES
// =============================================================================

type xItem struct {
	ID             string  `json:"id"`
	Text           string  `json:"text"`
	AuthorID       string  `json:"author_id"`
	ConversationID string  `json:"conversation_id"`
	CreatedAt      string  `json:"created_at"`
	PublicMetrics  Metrics `json:"public_metrics"`
}

type xSearchResponse struct {
	Data []xItem `json:"data"`
}

type xLikeRequest struct {
	TweetID string `json:"tweet_id"`
}

type xLikeResponse struct {
	Data struct {
		Liked bool `json:"liked"`
	} `json:"data"`
}

type xReplyRequest struct {
	Text  string `json:"text"`
	Reply struct {
		InReplyToTweetID string `json:"in_reply_to_tweet_id"`
	} `json:"reply"`
}

func (it xItem) toItem() Item {
	item := Item{
		ID:             it.ID,
		Text:           it.Text,
		AuthorID:       it.AuthorID,
		ConversationID: it.ConversationID,
		Metrics:        it.PublicMetrics,
	}
	if it.CreatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, it.CreatedAt); err == nil {
			item.CreatedAt = ts
		}
	}
	return item
}

// =============================================================================
// CLIENT OPERATIONS
// =============================================================================

// Search returns recent items matching the query. Transient failures are
// retried with backoff before surfacing.
func (c *XClient) Search(ctx context.Context, query string, maxResults int) ([]Item, error) {
	return c.recentSearch(ctx, "search", query, maxResults)
}

// FetchThread returns items in the given conversation.
func (c *XClient) FetchThread(ctx context.Context, conversationID string, maxResults int) ([]Item, error) {
	return c.recentSearch(ctx, "fetch_thread", "conversation_id:"+conversationID, maxResults)
}

func (c *XClient) recentSearch(ctx context.Context, op, query string, maxResults int) ([]Item, error) {
	if maxResults < 1 {
		maxResults = 10
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("max_results", fmt.Sprintf("%d", maxResults))
	params.Set("tweet.fields", "conversation_id,author_id,created_at,public_metrics")
	endpoint := c.baseURL + "/tweets/search/recent?" + params.Encode()

	var result xSearchResponse
	err := retry.Do(ctx, c.retryPolicy, op, func() error {
		err := c.getJSON(ctx, op, endpoint, &result)
		if err != nil && !IsTransient(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(result.Data))
	for _, it := range result.Data {
		items = append(items, it.toItem())
	}
	logging.API("%s: query=%q returned %d items", op, query, len(items))
	return items, nil
}

// Like likes the item on behalf of the configured user. Not retried: the
// call is side-effecting and treated as at-most-once.
func (c *XClient) Like(ctx context.Context, itemID string) (bool, error) {
	if c.userID == "" {
		return false, fmt.Errorf("like: user id not configured")
	}

	endpoint := fmt.Sprintf("%s/users/%s/likes", c.baseURL, c.userID)
	var result xLikeResponse
	if err := c.postJSON(ctx, "like", endpoint, xLikeRequest{TweetID: itemID}, &result); err != nil {
		return false, err
	}
	logging.API("like: item=%s liked=%v", itemID, result.Data.Liked)
	return result.Data.Liked, nil
}

// Reply posts text as a reply to the item. Not retried (at-most-once).
func (c *XClient) Reply(ctx context.Context, itemID string, text string) (bool, error) {
	req := xReplyRequest{Text: text}
	req.Reply.InReplyToTweetID = itemID

	endpoint := c.baseURL + "/tweets"
	if err := c.postJSON(ctx, "reply", endpoint, req, nil); err != nil {
		return false, err
	}
	logging.API("reply: item=%s chars=%d", itemID, len(text))
	return true, nil
}

// ValidateCredentials verifies the bearer token against /users/me.
func (c *XClient) ValidateCredentials(ctx context.Context) error {
	if c.bearerToken == "" {
		return fmt.Errorf("bearer token not configured")
	}
	var out json.RawMessage
	return c.getJSON(ctx, "validate_credentials", c.baseURL+"/users/me", &out)
}

// =============================================================================
// HTTP PLUMBING
// =============================================================================

func (c *XClient) getJSON(ctx context.Context, op, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	return c.do(op, req, out)
}

func (c *XClient) postJSON(ctx context.Context, op, endpoint string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: failed to marshal request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(op, req, out)
}

func (c *XClient) do(op string, req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+c.bearerToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Transient(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		body, _ := io.ReadAll(resp.Body)
		return Transient(op, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, truncate(string(body), 200))
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
