package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// UserStorage implements the UserStorage interface for Badger
type UserStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	notify notifyFunc
}

// NewUserStorage creates a new UserStorage instance
func NewUserStorage(db *BadgerDB, logger arbor.ILogger, notify notifyFunc) interfaces.UserStorage {
	return &UserStorage{db: db, logger: logger, notify: notify}
}

func (s *UserStorage) Create(ctx context.Context, u *models.User) error {
	if u.Name == "" {
		return common.NewInvalidRequest("user name is required")
	}
	if err := s.db.Store().Insert(u.Name, u); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("user %q: %w", u.Name, common.ErrDuplicate)
		}
		return fmt.Errorf("failed to save user: %w", err)
	}
	s.notify(interfaces.KindUser, interfaces.OpCreated, u.Name)
	return nil
}

func (s *UserStorage) Update(ctx context.Context, u *models.User) error {
	if err := s.db.Store().Upsert(u.Name, u); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	s.notify(interfaces.KindUser, interfaces.OpUpdated, u.Name)
	return nil
}

func (s *UserStorage) Get(ctx context.Context, name string) (*models.User, error) {
	var u models.User
	if err := s.db.Store().Get(name, &u); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("user %q: %w", name, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *UserStorage) List(ctx context.Context) ([]*models.User, error) {
	var users []models.User
	if err := s.db.Store().Find(&users, badgerhold.Where("Name").Ne("").SortBy("Name")); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	result := make([]*models.User, len(users))
	for i := range users {
		result[i] = &users[i]
	}
	return result, nil
}

func (s *UserStorage) Delete(ctx context.Context, name string) error {
	if err := s.db.Store().Delete(name, &models.User{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("user %q: %w", name, common.ErrNotFound)
		}
		return fmt.Errorf("failed to delete user: %w", err)
	}
	s.notify(interfaces.KindUser, interfaces.OpDeleted, name)
	return nil
}

// passwordRecord keeps password hashes out of the user store.
type passwordRecord struct {
	Name string
	Hash string
}

// PasswordStorage implements the PasswordStorage interface for Badger
type PasswordStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewPasswordStorage creates a new PasswordStorage instance
func NewPasswordStorage(db *BadgerDB, logger arbor.ILogger) interfaces.PasswordStorage {
	return &PasswordStorage{db: db, logger: logger}
}

func (s *PasswordStorage) Set(ctx context.Context, name, hash string) error {
	if err := s.db.Store().Upsert("pw:"+name, &passwordRecord{Name: name, Hash: hash}); err != nil {
		return fmt.Errorf("failed to store password hash: %w", err)
	}
	return nil
}

func (s *PasswordStorage) Get(ctx context.Context, name string) (string, error) {
	var rec passwordRecord
	if err := s.db.Store().Get("pw:"+name, &rec); err != nil {
		if err == badgerhold.ErrNotFound {
			return "", fmt.Errorf("password for %q: %w", name, common.ErrNotFound)
		}
		return "", fmt.Errorf("failed to get password hash: %w", err)
	}
	return rec.Hash, nil
}

func (s *PasswordStorage) Delete(ctx context.Context, name string) error {
	if err := s.db.Store().Delete("pw:"+name, &passwordRecord{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete password hash: %w", err)
	}
	return nil
}

// projectKey is the fixed key of the singleton project record.
const projectKey = "project"

// ProjectStorage implements the ProjectStorage interface for Badger
type ProjectStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	notify notifyFunc
}

// NewProjectStorage creates a new ProjectStorage instance
func NewProjectStorage(db *BadgerDB, logger arbor.ILogger, notify notifyFunc) interfaces.ProjectStorage {
	return &ProjectStorage{db: db, logger: logger, notify: notify}
}

func (s *ProjectStorage) Get(ctx context.Context) (*models.Project, error) {
	var p models.Project
	if err := s.db.Store().Get(projectKey, &p); err != nil {
		if err == badgerhold.ErrNotFound {
			// First boot: an empty project record with defaults.
			return &models.Project{Name: "Conductor", UpdatedAt: time.Now()}, nil
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &p, nil
}

func (s *ProjectStorage) Save(ctx context.Context, p *models.Project) error {
	p.UpdatedAt = time.Now()
	if err := s.db.Store().Upsert(projectKey, p); err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	s.notify(interfaces.KindProject, interfaces.OpUpdated, projectKey)
	return nil
}
