// SPDX-License-Identifier: MIT
package mediaroom

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// MockServer provides a configurable media room mock for testing.
type MockServer struct {
	*httptest.Server
	mu           sync.RWMutex
	participants map[string][]string // room -> identities
	rooms        map[string]bool
	muted        map[string]bool // room/identity -> muted
	muteCalls    int
	failures     map[string]int // path prefix -> failures before success
}

// NewMockServer creates a media room mock with empty state.
func NewMockServer() *MockServer {
	mock := &MockServer{
		participants: make(map[string][]string),
		rooms:        make(map[string]bool),
		muted:        make(map[string]bool),
		failures:     make(map[string]int),
	}
	mock.Server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// SetParticipants seeds the membership of a room.
func (m *MockServer) SetParticipants(room string, identities ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.participants[room] = identities
	m.rooms[room] = true
}

// MuteCalls reports how many mute requests the mock received.
func (m *MockServer) MuteCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.muteCalls
}

// Muted reports whether identity is muted in room.
func (m *MockServer) Muted(room, identity string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.muted[room+"/"+identity]
}

// HasRoom reports whether the room exists.
func (m *MockServer) HasRoom(room string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[room]
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
	case r.URL.Path == "/rooms/token":
		var body struct {
			Room     string `json:"room"`
			Identity string `json:"identity"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(Credential{
			Token: "tok-" + body.Room + "-" + body.Identity,
			URL:   "wss://media.example.test",
			Room:  body.Room,
		})
	case r.URL.Path == "/rooms" && r.Method == http.MethodPost:
		var body struct {
			Name string `json:"name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		m.mu.Lock()
		m.rooms[body.Name] = true
		m.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	case r.URL.Path == "/rooms/move-participant":
		w.WriteHeader(http.StatusOK)
	case strings.HasSuffix(r.URL.Path, "/participants"):
		room := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/rooms/"), "/participants")
		m.mu.RLock()
		ids := m.participants[room]
		m.mu.RUnlock()
		type p struct {
			Identity string `json:"identity"`
		}
		resp := struct {
			Participants []p `json:"participants"`
		}{}
		for _, id := range ids {
			resp.Participants = append(resp.Participants, p{Identity: id})
		}
		_ = json.NewEncoder(w).Encode(resp)
	case strings.HasSuffix(r.URL.Path, "/mute"):
		room := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/rooms/"), "/mute")
		var body struct {
			Identity string `json:"identity"`
			Muted    bool   `json:"muted"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		m.mu.Lock()
		m.muted[room+"/"+body.Identity] = body.Muted
		m.muteCalls++
		m.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/rooms/"):
		room := strings.TrimPrefix(r.URL.Path, "/rooms/")
		m.mu.Lock()
		delete(m.rooms, room)
		delete(m.participants, room)
		m.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	default:
		http.NotFound(w, r)
	}
}
