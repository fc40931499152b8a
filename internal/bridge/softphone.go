// SPDX-License-Identifier: MIT

package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warmline/warmline/internal/log"
	"github.com/warmline/warmline/internal/telephony"
)

// HTTPRegistrar creates soft-phone devices through the telephony
// collaborator's device API. Each device owns a long-poll goroutine that
// feeds signaling faults into its error channel.
type HTTPRegistrar struct {
	base   string
	apiKey string
	http   *http.Client
	logger zerolog.Logger
}

// NewHTTPRegistrar creates a registrar against the telephony device API.
func NewHTTPRegistrar(base, apiKey string) *HTTPRegistrar {
	return &HTTPRegistrar{
		base:   strings.TrimRight(base, "/"),
		apiKey: apiKey,
		// Long-poll reads hold the connection open; the timeout must
		// exceed the server's poll window.
		http:   &http.Client{Timeout: 40 * time.Second},
		logger: log.WithComponent("softphone"),
	}
}

// New registers a device for the credential and starts its fault poller.
func (r *HTTPRegistrar) New(ctx context.Context, cred telephony.BridgeCredential) (Device, error) {
	var created struct {
		DeviceID string `json:"deviceId"`
	}
	if err := r.post(ctx, "/devices", map[string]string{
		"token":    cred.Token,
		"identity": cred.Identity,
	}, &created); err != nil {
		return nil, err
	}
	if created.DeviceID == "" {
		return nil, fmt.Errorf("device create: empty device id")
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	d := &softphoneDevice{
		registrar: r,
		id:        created.DeviceID,
		errs:      make(chan Error, 8),
		cancel:    cancel,
	}
	go d.pollFaults(pollCtx)
	return d, nil
}

type softphoneDevice struct {
	registrar *HTTPRegistrar
	id        string
	errs      chan Error
	cancel    context.CancelFunc

	destroyOnce sync.Once
}

func (d *softphoneDevice) Register(ctx context.Context) error {
	return d.registrar.post(ctx, d.path("/register"), nil, nil)
}

func (d *softphoneDevice) Connect(ctx context.Context, conferenceID string) error {
	return d.registrar.post(ctx, d.path("/connect"), map[string]string{"conference": conferenceID}, nil)
}

func (d *softphoneDevice) UpdateToken(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.registrar.post(ctx, d.path("/token"), map[string]string{"token": token}, nil); err != nil {
		d.registrar.logger.Warn().Err(err).Str("device_id", d.id).Msg("token rotation failed")
	}
}

func (d *softphoneDevice) Errors() <-chan Error { return d.errs }

func (d *softphoneDevice) Destroy() {
	d.destroyOnce.Do(func() {
		d.cancel()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, d.registrar.base+d.path(""), nil)
		if err != nil {
			return
		}
		d.registrar.authorize(req)
		res, err := d.registrar.http.Do(req)
		if err != nil {
			d.registrar.logger.Warn().Err(err).Str("device_id", d.id).Msg("device delete failed")
			return
		}
		defer res.Body.Close()
		_, _ = io.Copy(io.Discard, res.Body)
	})
}

// pollFaults long-polls the device event feed and forwards signaling faults.
// Transport failures of the poll itself are retried; the supervision loop
// only sees faults the provider actually reported.
func (d *softphoneDevice) pollFaults(ctx context.Context) {
	defer close(d.errs)
	for {
		if ctx.Err() != nil {
			return
		}
		faults, err := d.registrar.fetchFaults(ctx, d.id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.registrar.logger.Debug().Err(err).Str("device_id", d.id).Msg("fault poll failed, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		for _, f := range faults {
			select {
			case d.errs <- f:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (d *softphoneDevice) path(suffix string) string {
	return "/devices/" + url.PathEscape(d.id) + suffix
}

func (r *HTTPRegistrar) fetchFaults(ctx context.Context, deviceID string) ([]Error, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		r.base+"/devices/"+url.PathEscape(deviceID)+"/events?wait=25", nil)
	if err != nil {
		return nil, err
	}
	r.authorize(req)
	res, err := r.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil, fmt.Errorf("fault poll: status %d", res.StatusCode)
	}
	var payload struct {
		Faults []struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"faults"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, err
	}
	out := make([]Error, 0, len(payload.Faults))
	for _, f := range payload.Faults {
		out = append(out, Error{Code: f.Code, Message: f.Message})
	}
	return out, nil
}

func (r *HTTPRegistrar) post(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	r.authorize(req)
	res, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("%s: status %d: %s", path, res.StatusCode, bytes.TrimSpace(b))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func (r *HTTPRegistrar) authorize(req *http.Request) {
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
}
