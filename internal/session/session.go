// Package session owns the user identity and token pair and keeps the access
// token valid: it exchanges the refresh token on expiry, coalescing
// concurrent refresh attempts into a single in-flight exchange, and tears the
// session down when the exchange fails.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"taskflow-client/internal/apierr"
	"taskflow-client/internal/models"
	"taskflow-client/internal/observability"
)

// CredentialStore persists the token pair across restarts.
type CredentialStore interface {
	SaveCredentials(models.Credentials) error
	LoadCredentials() (models.Credentials, error)
	ClearCredentials() error
}

// Store holds the current identity and credentials. All methods are safe for
// concurrent use.
type Store struct {
	baseURL string
	httpc   *http.Client
	persist CredentialStore

	mu        sync.Mutex
	creds     models.Credentials
	loggedIn  bool
	inflight  *refreshCall
	onLogout  []func()
	notified  bool
	jwtParser *jwt.Parser
}

type refreshCall struct {
	done  chan struct{}
	token string
	err   error
}

// Option customizes a Store.
type Option func(*Store)

// WithHTTPClient overrides the HTTP client used for auth endpoints.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) { s.httpc = c }
}

// New creates a session store talking to the auth endpoints under baseURL.
func New(baseURL string, persist CredentialStore, opts ...Option) *Store {
	s := &Store{
		baseURL:   baseURL,
		httpc:     &http.Client{Timeout: 30 * time.Second},
		persist:   persist,
		jwtParser: jwt.NewParser(jwt.WithoutClaimsValidation()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnLoggedOut registers fn to run exactly once when the session is destroyed,
// whether by explicit logout or by a failed refresh exchange.
func (s *Store) OnLoggedOut(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLogout = append(s.onLogout, fn)
}

// Resume restores a persisted session, if any.
func (s *Store) Resume() bool {
	creds, err := s.persist.LoadCredentials()
	if err != nil || creds.AccessToken == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = creds
	s.loggedIn = true
	s.notified = false
	return true
}

// Login exchanges email/password for a token pair and persists it.
func (s *Store) Login(ctx context.Context, email, password string) (models.User, error) {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return models.User{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return models.User{}, &apierr.TransientError{Op: "login", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest {
		return models.User{}, &apierr.AuthError{Op: "login", Message: "invalid credentials"}
	}
	if resp.StatusCode != http.StatusOK {
		return models.User{}, &apierr.TransientError{Op: "login", Status: resp.StatusCode}
	}

	var creds models.Credentials
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return models.User{}, fmt.Errorf("decode login response: %w", err)
	}

	s.mu.Lock()
	s.creds = creds
	s.loggedIn = true
	s.notified = false
	s.mu.Unlock()

	if err := s.persist.SaveCredentials(creds); err != nil {
		log.Printf("session: persist credentials failed: %v", err)
	}
	return creds.User, nil
}

// User returns the current identity.
func (s *Store) User() (models.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds.User, s.loggedIn
}

// AccessToken returns the current access token. A token whose exp claim has
// already passed is refreshed before it is handed out.
func (s *Store) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	if !s.loggedIn {
		s.mu.Unlock()
		return "", &apierr.AuthError{Op: "access token", Message: "not logged in"}
	}
	tok := s.creds.AccessToken
	s.mu.Unlock()

	if s.expired(tok) {
		return s.Refresh(ctx, tok)
	}
	return tok, nil
}

// expired inspects the exp claim without verifying the signature; the server
// remains the authority, this only avoids sending a token that is certainly
// dead.
func (s *Store) expired(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := s.jwtParser.ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(time.Now())
}

// Refresh exchanges the refresh token for a new access token. Concurrent
// callers holding the same stale token share one exchange; callers whose
// stale token was already replaced get the current token without a network
// call. A failed exchange destroys the session.
func (s *Store) Refresh(ctx context.Context, stale string) (string, error) {
	s.mu.Lock()
	if !s.loggedIn {
		s.mu.Unlock()
		return "", &apierr.AuthError{Op: "refresh", Message: "not logged in"}
	}
	if cur := s.creds.AccessToken; cur != "" && cur != stale {
		s.mu.Unlock()
		return cur, nil
	}
	if call := s.inflight; call != nil {
		s.mu.Unlock()
		select {
		case <-call.done:
			return call.token, call.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	call := &refreshCall{done: make(chan struct{})}
	s.inflight = call
	refreshToken := s.creds.RefreshToken
	s.mu.Unlock()

	token, err := s.exchange(ctx, refreshToken)

	s.mu.Lock()
	s.inflight = nil
	if err != nil {
		observability.IncTokenRefresh("failure")
		s.teardownLocked()
	} else {
		observability.IncTokenRefresh("success")
		s.creds.AccessToken = token
		creds := s.creds
		if perr := s.persist.SaveCredentials(creds); perr != nil {
			log.Printf("session: persist refreshed credentials failed: %v", perr)
		}
	}
	s.mu.Unlock()

	call.token, call.err = token, err
	close(call.done)
	return token, err
}

func (s *Store) exchange(ctx context.Context, refreshToken string) (string, error) {
	endpoint := s.baseURL + "/api/auth/refresh?refresh_token=" + url.QueryEscape(refreshToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", err
	}

	resp, err := s.httpc.Do(req)
	if err != nil {
		return "", &apierr.AuthError{Op: "refresh", Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", &apierr.AuthError{Op: "refresh", Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &apierr.AuthError{Op: "refresh", Message: "malformed response"}
	}
	if out.AccessToken == "" {
		return "", &apierr.AuthError{Op: "refresh", Message: "empty access token"}
	}
	return out.AccessToken, nil
}

// Logout revokes the refresh token server-side on a best-effort basis, then
// unconditionally clears local state.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	refreshToken := s.creds.RefreshToken
	s.mu.Unlock()

	if refreshToken != "" {
		endpoint := s.baseURL + "/api/auth/logout?refresh_token=" + url.QueryEscape(refreshToken)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
		if err == nil {
			if resp, err := s.httpc.Do(req); err != nil {
				log.Printf("session: logout revocation failed: %v", err)
			} else {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
		}
	}

	s.mu.Lock()
	s.teardownLocked()
	s.mu.Unlock()
	return nil
}

// teardownLocked clears identity and storage and fires the logged-out
// observers exactly once. Caller holds the lock.
func (s *Store) teardownLocked() {
	s.creds = models.Credentials{}
	s.loggedIn = false
	if err := s.persist.ClearCredentials(); err != nil {
		log.Printf("session: clear credentials failed: %v", err)
	}
	if s.notified {
		return
	}
	s.notified = true
	for _, fn := range s.onLogout {
		go fn()
	}
}
