// Package igtest provides an in-memory fake of the Instagram web endpoints
// used by the check engine, for tests.
package igtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"igmutual/pkg/instagram"
)

// Account is a fake profile with its relation lists, in page order
type Account struct {
	ID        string
	Username  string
	Private   bool
	Following []string
	Followers []string
}

// Request is a recorded call to the fake
type Request struct {
	// Kind is "profile", "following" or "followers"
	Kind     string
	Username string
	UserID   string
	After    string
	Token    string
	At       time.Time
}

// Hook may override a response. It receives the 1-based index of the
// request among all recorded requests and returns a status code, or 0 to
// answer normally.
type Hook func(n int, r Request) int

// Server is a fake Instagram
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	accounts map[string]*Account
	requests []Request
	hook     Hook
}

// NewServer starts a fake Instagram server
func NewServer() *Server {
	s := &Server{accounts: make(map[string]*Account)}

	mux := http.NewServeMux()
	mux.HandleFunc(instagram.ProfileEndpoint, s.handleProfile)
	mux.HandleFunc(instagram.GraphQLEndpoint, s.handleRelation)
	s.Server = httptest.NewServer(mux)
	return s
}

// AddAccount registers or replaces an account
func (s *Server) AddAccount(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.Username] = &a
}

// SetHook installs a response override
func (s *Server) SetHook(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = h
}

// Requests returns every recorded request
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// RequestsOf returns the recorded requests of one kind
func (s *Server) RequestsOf(kind string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// Handles returns n handles named prefix0..prefix(n-1)
func Handles(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return out
}

func (s *Server) record(r Request) (int, bool) {
	s.requests = append(s.requests, r)
	n := len(s.requests)
	if s.hook != nil {
		if code := s.hook(n, r); code != 0 {
			return code, true
		}
	}
	return 0, false
}

func token(r *http.Request) string {
	if c, err := r.Cookie("sessionid"); err == nil {
		return c.Value
	}
	return ""
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := r.URL.Query().Get("username")
	if code, ok := s.record(Request{Kind: "profile", Username: username, Token: token(r), At: time.Now()}); ok {
		w.WriteHeader(code)
		return
	}

	a := s.accounts[username]
	if a == nil {
		// Validation lookups of the well-known account always succeed
		if username == instagram.ValidationUsername {
			a = &Account{ID: "25025320", Username: username}
		} else {
			writeJSON(w, map[string]interface{}{"data": map[string]interface{}{"user": nil}, "status": "ok"})
			return
		}
	}

	writeJSON(w, map[string]interface{}{
		"data": map[string]interface{}{
			"user": map[string]interface{}{
				"id":               a.ID,
				"username":         a.Username,
				"full_name":        "Fake " + a.Username,
				"is_private":       a.Private,
				"edge_follow":      map[string]interface{}{"count": len(a.Following)},
				"edge_followed_by": map[string]interface{}{"count": len(a.Followers)},
			},
		},
		"status": "ok",
	})
}

func (s *Server) handleRelation(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var vars struct {
		ID    string `json:"id"`
		First int    `json:"first"`
		After string `json:"after"`
	}
	_ = json.Unmarshal([]byte(r.URL.Query().Get("variables")), &vars)

	kind, edgeKey := "following", "edge_follow"
	if r.URL.Query().Get("query_hash") == instagram.FollowersQueryHash {
		kind, edgeKey = "followers", "edge_followed_by"
	}

	if code, ok := s.record(Request{Kind: kind, UserID: vars.ID, After: vars.After, Token: token(r), At: time.Now()}); ok {
		w.WriteHeader(code)
		return
	}

	var account *Account
	for _, a := range s.accounts {
		if a.ID == vars.ID {
			account = a
			break
		}
	}
	if account == nil {
		writeJSON(w, map[string]interface{}{"data": map[string]interface{}{"user": nil}, "status": "ok"})
		return
	}

	list := account.Following
	if kind == "followers" {
		list = account.Followers
	}

	start := 0
	if vars.After != "" {
		start, _ = strconv.Atoi(vars.After)
	}
	if vars.First <= 0 {
		vars.First = instagram.MaxPageSize
	}
	end := min(start+vars.First, len(list))
	start = min(start, end)

	edges := make([]map[string]interface{}, 0, end-start)
	for _, name := range list[start:end] {
		edges = append(edges, map[string]interface{}{
			"node": map[string]interface{}{
				"id":              "id-" + name,
				"username":        name,
				"full_name":       "Name " + name,
				"profile_pic_url": "https://cdn.example/" + name + ".jpg",
			},
		})
	}

	cursor := ""
	if end < len(list) {
		cursor = strconv.Itoa(end)
	}
	writeJSON(w, map[string]interface{}{
		"data": map[string]interface{}{
			"user": map[string]interface{}{
				edgeKey: map[string]interface{}{
					"count":     len(list),
					"page_info": map[string]interface{}{"has_next_page": cursor != "", "end_cursor": cursor},
					"edges":     edges,
				},
			},
		},
		"status": "ok",
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
