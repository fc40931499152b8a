// SPDX-License-Identifier: MIT

// Package telephony is the client for the telephone conference collaborator.
// It places outbound calls into conferences, mints browser-to-telephony
// bridge credentials and reports phone leg status.
package telephony

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

// BridgeCredential is a short-lived credential allowing one identity to
// register a soft-phone device scoped to one conference.
type BridgeCredential struct {
	Token     string    `json:"token"`
	Identity  string    `json:"identity"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CallRef identifies an outbound phone leg.
type CallRef struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// LegStatus describes the state of the dialed phone leg of a conference.
type LegStatus string

const (
	LegRinging   LegStatus = "ringing"
	LegConnected LegStatus = "connected"
	LegLeft      LegStatus = "left"
	LegUnknown   LegStatus = "unknown"
)

type Client struct {
	base     string
	apiKey   string
	callerID string
	credTTL  time.Duration
	http     *http.Client
}

func New(base, apiKey, callerID string, credTTL time.Duration) *Client {
	return &Client{
		base:     strings.TrimRight(base, "/"),
		apiKey:   apiKey,
		callerID: callerID,
		credTTL:  credTTL,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

// BridgeIdentity maps a media room identity onto the telephony namespace.
// The prefix keeps the soft-phone registration distinct from the media room
// identity of the same participant.
func BridgeIdentity(identity string) string {
	if strings.HasPrefix(identity, "voice-") {
		return identity
	}
	return "voice-" + identity
}

// IssueBridgeCredential mints a credential for identity scoped to conferenceID.
func (c *Client) IssueBridgeCredential(ctx context.Context, identity, conferenceID string) (BridgeCredential, error) {
	body := map[string]any{
		"identity":   BridgeIdentity(identity),
		"conference": conferenceID,
		"ttlSeconds": int(c.credTTL.Seconds()),
	}
	var cred BridgeCredential
	if err := c.post(ctx, "issue bridge credential", "/conferences/token", body, &cred); err != nil {
		return BridgeCredential{}, err
	}
	if cred.Token == "" {
		return BridgeCredential{}, &UpstreamError{Sentinel: ErrBadResponse, Operation: "issue bridge credential"}
	}
	if cred.ExpiresAt.IsZero() {
		cred.ExpiresAt = time.Now().Add(c.credTTL)
	}
	return cred, nil
}

// DialOut calls number and drops it into conferenceID, playing announcement
// before the bridge connects.
func (c *Client) DialOut(ctx context.Context, number, conferenceID, announcement string) (CallRef, error) {
	body := map[string]string{
		"to":           number,
		"from":         c.callerID,
		"conference":   conferenceID,
		"announcement": announcement,
	}
	var ref CallRef
	if err := c.post(ctx, "dial out", "/conferences/dial-out", body, &ref); err != nil {
		return CallRef{}, err
	}
	return ref, nil
}

// GetLegStatus reports the dialed phone leg status of conferenceID.
func (c *Client) GetLegStatus(ctx context.Context, conferenceID string) (LegStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/conferences/"+url.PathEscape(conferenceID)+"/leg-status", nil)
	if err != nil {
		return LegUnknown, err
	}
	c.authorize(req)
	res, err := c.do("leg status", req)
	if err != nil {
		return LegUnknown, wrapTransport("leg status", err)
	}
	defer res.Body.Close()
	if err := checkStatus("leg status", res); err != nil {
		return LegUnknown, err
	}
	var p struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(res.Body).Decode(&p); err != nil {
		return LegUnknown, &UpstreamError{Sentinel: ErrBadResponse, Operation: "leg status", Err: err}
	}
	switch LegStatus(p.Status) {
	case LegRinging, LegConnected, LegLeft:
		return LegStatus(p.Status), nil
	default:
		return LegUnknown, nil
	}
}

// EndConference tears down an empty conference bridge.
func (c *Client) EndConference(ctx context.Context, conferenceID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.base+"/conferences/"+url.PathEscape(conferenceID), nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	res, err := c.do("end conference", req)
	if err != nil {
		return wrapTransport("end conference", err)
	}
	defer res.Body.Close()
	return checkStatus("end conference", res)
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
	metrics.ObserveUpstreamRequest("telephony", op, time.Since(start).Seconds())
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
	case res.StatusCode == http.StatusUnauthorized, res.StatusCode == http.StatusForbidden:
		return &UpstreamError{Sentinel: ErrCredential, Operation: op, Status: res.StatusCode}
	default:
		b, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return &UpstreamError{Sentinel: ErrUpstream, Operation: op, Status: res.StatusCode, Body: string(bytes.TrimSpace(b))}
	}
}
