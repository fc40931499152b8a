// SPDX-License-Identifier: MIT

// Package mediaroom is the client for the real-time media room collaborator.
// It issues join credentials, reports room membership and mutes the caller
// leg during consultations.
package mediaroom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/warmline/warmline/internal/metrics"
)

// Credential grants one identity access to one room.
type Credential struct {
	Token string `json:"token"`
	URL   string `json:"url"`
	Room  string `json:"room"`
}

type Client struct {
	base   string
	apiKey string
	http   *http.Client
}

func New(base, apiKey string) *Client {
	return &Client{
		base:   strings.TrimRight(base, "/"),
		apiKey: apiKey,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

// IssueCredential mints a join credential for identity in room.
func (c *Client) IssueCredential(ctx context.Context, room, identity, role string) (Credential, error) {
	body := map[string]string{"room": room, "identity": identity, "role": role}
	var cred Credential
	if err := c.post(ctx, "issue credential", "/rooms/token", body, &cred); err != nil {
		return Credential{}, err
	}
	if cred.Token == "" {
		return Credential{}, &UpstreamError{Sentinel: ErrBadResponse, Operation: "issue credential"}
	}
	return cred, nil
}

// ListParticipants returns the identities currently present in room. The
// result is never cached: membership changes asynchronously and staleness
// would corrupt transfer decisions.
func (c *Client) ListParticipants(ctx context.Context, room string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/rooms/"+url.PathEscape(room)+"/participants", nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	res, err := c.do("list participants", req)
	if err != nil {
		return nil, wrapTransport("list participants", err)
	}
	defer res.Body.Close()
	if err := checkStatus("list participants", res); err != nil {
		return nil, err
	}
	var p struct {
		Participants []struct {
			Identity string `json:"identity"`
		} `json:"participants"`
	}
	if err := json.NewDecoder(res.Body).Decode(&p); err != nil {
		return nil, &UpstreamError{Sentinel: ErrBadResponse, Operation: "list participants", Err: err}
	}
	out := make([]string, 0, len(p.Participants))
	for _, part := range p.Participants {
		out = append(out, part.Identity)
	}
	return out, nil
}

// SetMute mutes or restores the audio of identity in room.
func (c *Client) SetMute(ctx context.Context, room, identity string, muted bool) error {
	body := map[string]any{"identity": identity, "muted": muted}
	return c.post(ctx, "set mute", "/rooms/"+url.PathEscape(room)+"/mute", body, nil)
}

// CreateRoom creates a named room, typically a consultation room.
func (c *Client) CreateRoom(ctx context.Context, room string) error {
	return c.post(ctx, "create room", "/rooms", map[string]string{"name": room}, nil)
}

// RemoveRoom deletes a room. Callers verify emptiness first.
func (c *Client) RemoveRoom(ctx context.Context, room string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.base+"/rooms/"+url.PathEscape(room), nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	res, err := c.do("remove room", req)
	if err != nil {
		return wrapTransport("remove room", err)
	}
	defer res.Body.Close()
	return checkStatus("remove room", res)
}

// MoveParticipant relocates identity from one room to another. Not every
// media room deployment supports server-side moves; callers treat failure
// as a cue to fall back to a client-side rejoin.
func (c *Client) MoveParticipant(ctx context.Context, from, identity, to string) error {
	body := map[string]string{"room": from, "identity": identity, "destination_room": to}
	return c.post(ctx, "move participant", "/rooms/move-participant", body, nil)
}

func (c *Client) post(ctx context.Context, op, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	res, err := c.do(op, req)
	if err != nil {
		return wrapTransport(op, err)
	}
	defer res.Body.Close()
	if err := checkStatus(op, res); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return &UpstreamError{Sentinel: ErrBadResponse, Operation: op, Err: err}
	}
	return nil
}

func (c *Client) do(op string, req *http.Request) (*http.Response, error) {
	start := time.Now()
	res, err := c.http.Do(req)
	metrics.ObserveUpstreamRequest("mediaroom", op, time.Since(start).Seconds())
	return res, err
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func wrapTransport(op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &UpstreamError{Sentinel: ErrTimeout, Operation: op, Err: err}
	}
	return &UpstreamError{Sentinel: ErrUnavailable, Operation: op, Err: err}
}

func checkStatus(op string, res *http.Response) error {
	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		return nil
	case res.StatusCode == http.StatusNotFound:
		return &UpstreamError{Sentinel: ErrNotFound, Operation: op, Status: res.StatusCode}
	case res.StatusCode >= 500:
		return &UpstreamError{Sentinel: ErrUpstream, Operation: op, Status: res.StatusCode, Body: readBody(res)}
	default:
		return &UpstreamError{Sentinel: ErrUpstream, Operation: op, Status: res.StatusCode, Body: readBody(res)}
	}
}

func readBody(res *http.Response) string {
	b, err := io.ReadAll(io.LimitReader(res.Body, 512))
	if err != nil {
		return ""
	}
	return string(bytes.TrimSpace(b))
}
