package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/Syncre-App/chatcore/pkg/types"
)

// ListChats returns the current user's chats.
func (c *Client) ListChats(ctx context.Context) ([]types.ChatSummary, error) {
	var resp struct {
		Chats []any `json:"chats"`
	}
	if err := call[none](ctx, c, http.MethodGet, "/chat", nil, &resp); err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	chats := make([]types.ChatSummary, 0, len(resp.Chats))
	for _, raw := range resp.Chats {
		chats = append(chats, c.mapper.Chat(raw))
	}
	return chats, nil
}

// GetChat returns one chat.
func (c *Client) GetChat(ctx context.Context, chatID string) (types.ChatSummary, error) {
	var resp struct {
		Chat any `json:"chat"`
	}
	endpoint := "/chat/" + url.PathEscape(chatID)
	if err := call[none](ctx, c, http.MethodGet, endpoint, nil, &resp); err != nil {
		return types.ChatSummary{}, fmt.Errorf("get chat %s: %w", chatID, err)
	}
	return c.mapper.Chat(resp.Chat), nil
}

// PageQuery selects a page of messages. Zero values are omitted.
type PageQuery struct {
	Before   string
	Limit    int
	DeviceID string
}

func (q PageQuery) encode() string {
	v := url.Values{}
	if q.Before != "" {
		v.Set("before", q.Before)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.DeviceID != "" {
		v.Set("deviceId", q.DeviceID)
	}
	return v.Encode()
}

// GetMessages returns one page of a chat timeline.
func (c *Client) GetMessages(ctx context.Context, chatID string, q PageQuery) (types.MessagePage, error) {
	var resp struct {
		Messages   []any   `json:"messages"`
		HasMore    bool    `json:"hasMore"`
		NextCursor *string `json:"nextCursor"`
		Timezone   string  `json:"timezone"`
	}
	endpoint := "/chat/" + url.PathEscape(chatID) + "/messages"
	if query := q.encode(); query != "" {
		endpoint += "?" + query
	}
	if err := call[none](ctx, c, http.MethodGet, endpoint, nil, &resp); err != nil {
		return types.MessagePage{}, fmt.Errorf("get messages %s: %w", chatID, err)
	}

	page := types.MessagePage{
		Messages: make([]types.ChatMessage, 0, len(resp.Messages)),
		HasMore:  resp.HasMore,
		Timezone: resp.Timezone,
	}
	if resp.NextCursor != nil {
		page.NextCursor = *resp.NextCursor
	}
	for _, raw := range resp.Messages {
		msg := c.mapper.Message(raw)
		if msg.ChatID == "0" {
			msg.ChatID = chatID
		}
		page.Messages = append(page.Messages, msg)
	}
	return page, nil
}

// UnreadSummary returns per-chat unread counters.
func (c *Client) UnreadSummary(ctx context.Context) (types.UnreadSummary, error) {
	var resp types.UnreadSummary
	if err := call[none](ctx, c, http.MethodGet, "/chat/unread/summary", nil, &resp); err != nil {
		return types.UnreadSummary{}, fmt.Errorf("unread summary: %w", err)
	}
	if resp.Chats == nil {
		resp.Chats = map[string]int{}
	}
	return resp, nil
}

// MarkSeen marks every message of a chat as seen and returns how many were
// updated.
func (c *Client) MarkSeen(ctx context.Context, chatID string) (int, error) {
	var resp struct {
		Updated int `json:"updated"`
	}
	endpoint := "/chat/" + url.PathEscape(chatID) + "/seen"
	if err := call(ctx, c, http.MethodPost, endpoint, &struct{}{}, &resp); err != nil {
		return 0, fmt.Errorf("mark seen %s: %w", chatID, err)
	}
	return resp.Updated, nil
}
