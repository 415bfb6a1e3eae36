package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// TokenStorage implements the TokenStorage interface for Badger
type TokenStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	notify notifyFunc
}

// NewTokenStorage creates a new TokenStorage instance
func NewTokenStorage(db *BadgerDB, logger arbor.ILogger, notify notifyFunc) interfaces.TokenStorage {
	return &TokenStorage{db: db, logger: logger, notify: notify}
}

func (s *TokenStorage) Create(ctx context.Context, t *models.Token) error {
	if t.ID == "" {
		return common.NewInvalidRequest("token id is required")
	}
	if err := s.db.Store().Insert(t.ID, t); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("token %q: %w", t.ID, common.ErrDuplicate)
		}
		return fmt.Errorf("failed to save token: %w", err)
	}
	s.notify(interfaces.KindToken, interfaces.OpCreated, t.ID)
	return nil
}

func (s *TokenStorage) Update(ctx context.Context, t *models.Token) error {
	if err := s.db.Store().Upsert(t.ID, t); err != nil {
		return fmt.Errorf("failed to update token: %w", err)
	}
	s.notify(interfaces.KindToken, interfaces.OpUpdated, t.ID)
	return nil
}

func (s *TokenStorage) Get(ctx context.Context, id string) (*models.Token, error) {
	var t models.Token
	if err := s.db.Store().Get(id, &t); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("token %q: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return &t, nil
}

func (s *TokenStorage) List(ctx context.Context) ([]*models.Token, error) {
	var tokens []models.Token
	if err := s.db.Store().Find(&tokens, badgerhold.Where("ID").Ne("").SortBy("ID")); err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	result := make([]*models.Token, len(tokens))
	for i := range tokens {
		result[i] = &tokens[i]
	}
	return result, nil
}

func (s *TokenStorage) Delete(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.Token{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("token %q: %w", id, common.ErrNotFound)
		}
		return fmt.Errorf("failed to delete token: %w", err)
	}
	s.notify(interfaces.KindToken, interfaces.OpDeleted, id)
	return nil
}
