// Package user serves profile reads, profile updates and user search.
package user

import (
	"context"
	"strings"

	"lingochat/internal/apperr"
	"lingochat/internal/store"
	"lingochat/internal/translation"
)

type Service struct {
	users store.UserRepository
}

func NewService(users store.UserRepository) *Service {
	return &Service{users: users}
}

func (s *Service) Me(ctx context.Context, userID string) (store.User, error) {
	return s.users.GetByID(ctx, userID)
}

// UpdateProfile applies the non-nil fields. The language is normalized to its primary subtag.
func (s *Service) UpdateProfile(ctx context.Context, userID string, req UpdateProfileRequest) (store.User, error) {
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return store.User{}, apperr.BadRequest("name cannot be empty")
		}
		req.Name = &name
	}
	if req.PreferredLanguage != nil {
		lang, err := translation.NormalizeLanguage(*req.PreferredLanguage)
		if err != nil {
			return store.User{}, err
		}
		req.PreferredLanguage = &lang
	}
	return s.users.UpdateProfile(ctx, userID, req.Name, req.PreferredLanguage)
}

// SearchUsers matches name or mobile substrings, excluding the caller.
func (s *Service) SearchUsers(ctx context.Context, userID, query string) ([]store.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []store.User{}, nil
	}
	users, err := s.users.Search(ctx, query, userID, searchLimit)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []store.User{}
	}
	return users, nil
}
