package middleware

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// MemorySessionStore is a simple session store, that tracks state in memory.
// It is mainly used for testing, it is not suitible for anything outside a
// single process.
type MemorySessionStore struct {
	// cookieTemplate is used to create the cookie we track the session ID
	// in. It must have at least the name set.
	cookieTemplate http.Cookie

	sessions   map[string]SessionData
	sessionsMu sync.Mutex
}

// NewMemorySessionStore creates a MemorySessionStore, using the passed
// cookie as a template for the session cookie.
func NewMemorySessionStore(cookieTemplate http.Cookie) (*MemorySessionStore, error) {
	if cookieTemplate.Name == "" {
		return nil, fmt.Errorf("cookie template missing name")
	}
	return &MemorySessionStore{
		cookieTemplate: cookieTemplate,
		sessions:       make(map[string]SessionData),
	}, nil
}

func (m *MemorySessionStore) Get(r *http.Request) (*SessionData, error) {
	m.sessionsMu.Lock()
	defer m.sessionsMu.Unlock()

	sid, err := m.sidFromCookie(r)
	if err != nil {
		return nil, err
	}

	var sd *SessionData
	if sid != "" {
		s, ok := m.sessions[sid]
		if ok {
			sd = &s
		}
	}
	if sd == nil {
		sd = new(SessionData)
	}

	return sd, nil
}

func (m *MemorySessionStore) Save(w http.ResponseWriter, r *http.Request, d *SessionData) error {
	m.sessionsMu.Lock()
	defer m.sessionsMu.Unlock()

	if d == nil {
		http.SetCookie(w, &http.Cookie{
			Name:   m.cookieTemplate.Name,
			Value:  "",
			MaxAge: -1,
		})
		sid, _ := m.sidFromCookie(r)
		if sid != "" {
			delete(m.sessions, sid)
		}
		return nil
	}

	sid := uuid.NewString()

	nc := m.cookieTemplate
	nc.Value = sid
	m.sessions[sid] = *d

	http.SetCookie(w, &nc)

	return nil
}

func (m *MemorySessionStore) sidFromCookie(r *http.Request) (string, error) {
	c, err := r.Cookie(m.cookieTemplate.Name)
	if err != nil && err != http.ErrNoCookie {
		return "", fmt.Errorf("failed getting cookie: %w", err)
	}
	if c != nil {
		return c.Value, nil
	}
	return "", nil
}
