// Package historyapi is the client for the persisted chat history served by
// the marketplace backend.
package historyapi

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"tutorlink/chat/internal/config"
	"tutorlink/chat/internal/errs"
	"tutorlink/chat/internal/models"
	"tutorlink/chat/pkg/logger"
	"tutorlink/chat/pkg/metrics"
)

// TokenSource returns the current bearer token, empty when logged out.
type TokenSource func() string

// Client fetches conversations, messages and the current user over REST.
type Client struct {
	http  *resty.Client
	token TokenSource
	log   *logger.Logger
}

// New creates a client rooted at baseURL (for example http://localhost:5000/api).
func New(baseURL string, timeout time.Duration, token TokenSource, log *logger.Logger) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	http.JSONMarshal = json.Marshal
	http.JSONUnmarshal = json.Unmarshal

	return &Client{
		http:  http,
		token: token,
		log:   log.Named("historyapi"),
	}
}

// Conversations returns the current user's conversation summaries.
func (c *Client) Conversations(ctx context.Context) ([]models.Conversation, error) {
	var out []models.Conversation
	err := c.get(ctx, "conversations", config.PathConversations, nil, &out)
	metrics.RecordFetch("conversations", err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Messages returns the ordered history of one conversation.
func (c *Client) Messages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	var out []models.Message
	params := map[string]string{"id": strconv.FormatInt(conversationID, 10)}
	err := c.get(ctx, "messages", config.PathMessages, params, &out)
	metrics.RecordFetch("messages", err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Me returns the user the bearer token belongs to.
func (c *Client) Me(ctx context.Context) (*models.Identity, error) {
	var out models.Identity
	if err := c.get(ctx, "me", config.PathMe, nil, &out); err != nil {
		return nil, err
	}
	if out.ID == 0 {
		return nil, &errs.FetchError{Op: "me", Err: errs.ErrNoIdentity}
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, op, path string, params map[string]string, out any) error {
	req := c.http.R().
		SetContext(ctx).
		SetPathParams(params).
		SetResult(out)
	if token := c.token(); token != "" {
		req.SetAuthToken(token)
	}

	resp, err := req.Get(path)
	if err != nil {
		c.log.Warn("history request failed", zap.String("op", op), zap.Error(err))
		return &errs.FetchError{Op: op, Err: err}
	}
	if resp.IsError() {
		c.log.Warn("history request rejected",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode()),
		)
		return &errs.FetchError{Op: op, Err: fmt.Errorf("unexpected status %d", resp.StatusCode())}
	}
	return nil
}
