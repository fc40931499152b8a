// SPDX-License-Identifier: MIT
package telephony

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockServer provides a configurable telephony mock for testing.
type MockServer struct {
	*httptest.Server
	mu          sync.RWMutex
	legStatus   map[string]LegStatus
	dialedCalls []string // "number->conference"
	tokenCalls  int
	failures    map[string]int
	ended       map[string]bool
}

// NewMockServer creates a telephony mock with empty state.
func NewMockServer() *MockServer {
	mock := &MockServer{
		legStatus: make(map[string]LegStatus),
		failures:  make(map[string]int),
		ended:     make(map[string]bool),
	}
	mock.Server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// SetLegStatus seeds the dialed leg status of a conference.
func (m *MockServer) SetLegStatus(conferenceID string, status LegStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.legStatus[conferenceID] = status
}

// DialedCalls lists the outbound calls the mock received.
func (m *MockServer) DialedCalls() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.dialedCalls...)
}

// TokenCalls reports how many bridge credentials were minted.
func (m *MockServer) TokenCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokenCalls
}

// Ended reports whether the conference was torn down.
func (m *MockServer) Ended(conferenceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ended[conferenceID]
}

// FailNext makes the next n requests matching the path prefix return 500.
func (m *MockServer) FailNext(pathPrefix string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[pathPrefix] = n
}

func (m *MockServer) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	for prefix, n := range m.failures {
		if n > 0 && strings.HasPrefix(r.URL.Path, prefix) {
			m.failures[prefix] = n - 1
			m.mu.Unlock()
			http.Error(w, "mock failure", http.StatusInternalServerError)
			return
		}
	}
	m.mu.Unlock()

	switch {
	case r.URL.Path == "/conferences/token":
		var body struct {
			Identity   string `json:"identity"`
			Conference string `json:"conference"`
			TTLSeconds int    `json:"ttlSeconds"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		m.mu.Lock()
		m.tokenCalls++
		m.mu.Unlock()
		_ = json.NewEncoder(w).Encode(BridgeCredential{
			Token:     fmt.Sprintf("btok-%s-%d", body.Identity, m.TokenCalls()),
			Identity:  body.Identity,
			ExpiresAt: time.Now().Add(time.Duration(body.TTLSeconds) * time.Second),
		})
	case r.URL.Path == "/conferences/dial-out":
		var body struct {
			To         string `json:"to"`
			Conference string `json:"conference"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		m.mu.Lock()
		m.dialedCalls = append(m.dialedCalls, body.To+"->"+body.Conference)
		if _, ok := m.legStatus[body.Conference]; !ok {
			m.legStatus[body.Conference] = LegRinging
		}
		m.mu.Unlock()
		_ = json.NewEncoder(w).Encode(CallRef{SID: "CA" + body.Conference, Status: "initiated"})
	case strings.HasSuffix(r.URL.Path, "/leg-status"):
		conf := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/conferences/"), "/leg-status")
		m.mu.RLock()
		status, ok := m.legStatus[conf]
		m.mu.RUnlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": string(status)})
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/conferences/"):
		conf := strings.TrimPrefix(r.URL.Path, "/conferences/")
		m.mu.Lock()
		m.ended[conf] = true
		m.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	default:
		http.NotFound(w, r)
	}
}
