package repository

import (
	"context"
	"sync"
	"time"

	"github.com/gatekeep/gatekeep-go/internal/model"
)

// MemoryStore is an in-process Store. Transactions are serialized by a
// single mutex and rolled back by restoring a snapshot.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*model.User
	now    func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[int64]*model.User),
		now:   time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memoryView)(s).Create(ctx, user)
}

func (s *MemoryStore) GetByID(ctx context.Context, id int64) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memoryView)(s).GetByID(ctx, id)
}

func (s *MemoryStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memoryView)(s).GetByEmail(ctx, email)
}

func (s *MemoryStore) GetByResetTokenHash(ctx context.Context, hash string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memoryView)(s).GetByResetTokenHash(ctx, hash)
}

func (s *MemoryStore) Update(ctx context.Context, id int64, upd model.UserUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memoryView)(s).Update(ctx, id, upd)
}

func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memoryView)(s).Delete(ctx, id)
}

func (s *MemoryStore) ClearExpiredResetChallenges(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memoryView)(s).ClearExpiredResetChallenges(ctx, now)
}

// WithinTx holds the store lock for the duration of fn.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[int64]*model.User, len(s.users))
	for id, u := range s.users {
		snapshot[id] = cloneUser(u)
	}
	nextID := s.nextID

	if err := fn((*memoryView)(s)); err != nil {
		s.users = snapshot
		s.nextID = nextID
		return err
	}
	return nil
}

// memoryView operates on a MemoryStore whose lock is already held.
type memoryView MemoryStore

func (v *memoryView) Create(ctx context.Context, user *model.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, u := range v.users {
		if u.Email == user.Email {
			return ErrDuplicateEmail
		}
	}

	v.nextID++
	now := v.now().UTC()
	user.ID = v.nextID
	user.CreatedAt = now
	user.UpdatedAt = now
	v.users[user.ID] = cloneUser(user)
	return nil
}

func (v *memoryView) GetByID(ctx context.Context, id int64) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, ok := v.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (v *memoryView) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return v.find(ctx, func(u *model.User) bool { return u.Email == email })
}

func (v *memoryView) GetByResetTokenHash(ctx context.Context, hash string) (*model.User, error) {
	return v.find(ctx, func(u *model.User) bool {
		return u.ResetTokenHash != nil && *u.ResetTokenHash == hash
	})
}

func (v *memoryView) Update(ctx context.Context, id int64, upd model.UserUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u, ok := v.users[id]
	if !ok {
		if upd.ExpectResetTokenHash != nil {
			return ErrChallengeMismatch
		}
		return ErrUserNotFound
	}
	if upd.ExpectResetTokenHash != nil &&
		(u.ResetTokenHash == nil || *u.ResetTokenHash != *upd.ExpectResetTokenHash) {
		return ErrChallengeMismatch
	}
	if upd.IsEmpty() {
		return nil
	}
	if upd.Email != nil {
		for otherID, other := range v.users {
			if otherID != id && other.Email == *upd.Email {
				return ErrDuplicateEmail
			}
		}
	}

	if upd.Username != nil {
		u.Username = *upd.Username
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.PasswordHash != nil {
		u.PasswordHash = *upd.PasswordHash
	}
	switch {
	case upd.ClearResetChallenge:
		u.ResetTokenHash = nil
		u.ResetTokenExpiresAt = nil
	case upd.ResetTokenHash != nil || upd.ResetTokenExpiresAt != nil:
		u.ResetTokenHash = copyString(upd.ResetTokenHash)
		u.ResetTokenExpiresAt = copyTime(upd.ResetTokenExpiresAt)
	}
	u.UpdatedAt = v.now().UTC()
	return nil
}

func (v *memoryView) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := v.users[id]; !ok {
		return ErrUserNotFound
	}
	delete(v.users, id)
	return nil
}

func (v *memoryView) ClearExpiredResetChallenges(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var cleared int64
	for _, u := range v.users {
		if u.ResetTokenHash != nil && u.ResetTokenExpiresAt != nil && !u.ResetTokenExpiresAt.After(now) {
			u.ResetTokenHash = nil
			u.ResetTokenExpiresAt = nil
			cleared++
		}
	}
	return cleared, nil
}

// WithinTx on a view runs fn in the enclosing transaction.
func (v *memoryView) WithinTx(_ context.Context, fn func(tx Store) error) error {
	return fn(v)
}

func (v *memoryView) find(ctx context.Context, match func(*model.User) bool) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, u := range v.users {
		if match(u) {
			return cloneUser(u), nil
		}
	}
	return nil, ErrUserNotFound
}

func cloneUser(u *model.User) *model.User {
	c := *u
	c.ResetTokenHash = copyString(u.ResetTokenHash)
	c.ResetTokenExpiresAt = copyTime(u.ResetTokenExpiresAt)
	return &c
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
