// Package gateway talks to the chat-platform gateway: it creates applicant
// channels and reviewer prompts, delivers notices, mutates member roles and
// nicknames, and answers reviewer-capability checks. All calls are JSON over
// HTTP with a bearer token and are traced through otelhttp.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tbourn/go-verify-bot/internal/services"
)

// StatusError is a non-2xx gateway response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Client is the HTTP chat client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

var _ services.ChatClient = (*Client)(nil)

// New returns a client for baseURL. A nil transport uses the default one;
// either way requests are wrapped for tracing.
func New(baseURL, token string, timeout time.Duration, transport http.RoundTripper) *Client {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(transport),
		},
	}
}

type refResponse struct {
	Ref string `json:"ref"`
}

// CreatePrivateChannel opens the applicant-only channel and returns its ref.
func (c *Client) CreatePrivateChannel(ctx context.Context, applicantID string) (string, error) {
	var out refResponse
	err := c.do(ctx, http.MethodPost, "/channels", map[string]string{"applicant_id": applicantID}, &out)
	return out.Ref, err
}

// CreateReviewPrompt posts a new prompt to the reviewer channel.
func (c *Client) CreateReviewPrompt(ctx context.Context, content services.PromptContent) (string, error) {
	var out refResponse
	err := c.do(ctx, http.MethodPost, "/prompts", content, &out)
	return out.Ref, err
}

// EditPrompt re-renders an existing prompt.
func (c *Client) EditPrompt(ctx context.Context, promptRef string, content services.PromptContent) error {
	return c.do(ctx, http.MethodPut, "/prompts/"+url.PathEscape(promptRef), content, nil)
}

// Send delivers a notice to a channel.
func (c *Client) Send(ctx context.Context, channelRef string, n services.Notice) error {
	return c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(channelRef)+"/notices", n, nil)
}

type roleMutation struct {
	Add    []string `json:"add,omitempty"`
	Remove []string `json:"remove,omitempty"`
}

// MutateMemberRoles adds and removes roles in one call.
func (c *Client) MutateMemberRoles(ctx context.Context, applicantID string, add, remove []string) error {
	return c.do(ctx, http.MethodPatch, "/members/"+url.PathEscape(applicantID)+"/roles", roleMutation{Add: add, Remove: remove}, nil)
}

// SetMemberNickname sets the display name.
func (c *Client) SetMemberNickname(ctx context.Context, applicantID, name string) error {
	return c.do(ctx, http.MethodPut, "/members/"+url.PathEscape(applicantID)+"/nickname", map[string]string{"nickname": name}, nil)
}

// RemoveMember kicks the member from the community.
func (c *Client) RemoveMember(ctx context.Context, applicantID string) error {
	return c.do(ctx, http.MethodDelete, "/members/"+url.PathEscape(applicantID), nil, nil)
}

type rolesResponse struct {
	Roles []string `json:"roles"`
}

// MemberRoles lists a member's current roles.
func (c *Client) MemberRoles(ctx context.Context, memberID string) ([]string, error) {
	var out rolesResponse
	if err := c.do(ctx, http.MethodGet, "/members/"+url.PathEscape(memberID)+"/roles", nil, &out); err != nil {
		return nil, err
	}
	return out.Roles, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("gateway marshal: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(bytes.TrimSpace(b))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gateway decode %s: %w", path, err)
	}
	return nil
}
