package lemmy

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Session holds a JWT for one account and logs in again once when a call
// comes back unauthorized.
type Session struct {
	client   *Client
	username string
	password string

	mu    sync.Mutex
	token string
}

// NewSession creates a Session. No request is made until the first call.
func NewSession(client *Client, username, password string) *Session {
	return &Session{client: client, username: username, password: password}
}

// Login authenticates and stores the token.
func (s *Session) Login(ctx context.Context) error {
	slog.Info("lemmy: attempting to log in", "user", s.username)

	token, err := s.client.Login(ctx, s.username, s.password)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()

	slog.Info("lemmy: login successful")
	return nil
}

// ResolveCommunity returns the id of the named community.
func (s *Session) ResolveCommunity(ctx context.Context, name string) (int, error) {
	var id int
	err := s.withAuth(ctx, func(token string) error {
		var err error
		id, err = s.client.CommunityID(ctx, token, name)
		return err
	})
	return id, err
}

// Publish creates a link post in the community.
func (s *Session) Publish(ctx context.Context, communityID int, title, link string) error {
	return s.withAuth(ctx, func(token string) error {
		return s.client.CreatePost(ctx, token, communityID, title, link)
	})
}

func (s *Session) currentToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *Session) withAuth(ctx context.Context, call func(token string) error) error {
	token := s.currentToken()
	if token == "" {
		if err := s.Login(ctx); err != nil {
			return err
		}
		token = s.currentToken()
	}

	err := call(token)
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}

	slog.Warn("lemmy: token rejected, logging in again")
	if err := s.Login(ctx); err != nil {
		return err
	}
	return call(s.currentToken())
}
