package auth

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskhive/taskhive/internal/models"
	"github.com/taskhive/taskhive/pkg/crypto"
)

// MemoryTokenStore is an in-process TokenStore used by tests and single-node tooling.
type MemoryTokenStore struct {
	mu        sync.Mutex
	refresh   map[string]*models.RefreshToken // keyed by token hash
	reset     map[string]*models.PasswordResetToken
	blacklist map[string]*models.TokenBlacklist // keyed by jti
	now       func() time.Time
}

// NewMemoryTokenStore constructs an empty in-memory store.
func NewMemoryTokenStore(clock func() time.Time) *MemoryTokenStore {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryTokenStore{
		refresh:   make(map[string]*models.RefreshToken),
		reset:     make(map[string]*models.PasswordResetToken),
		blacklist: make(map[string]*models.TokenBlacklist),
		now:       clock,
	}
}

func (s *MemoryTokenStore) SaveRefreshToken(ctx context.Context, rec RefreshTokenRecord) (*models.RefreshToken, error) {
	row, err := s.newRefreshRow(rec)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.refresh[row.TokenHash]; exists {
		return nil, errors.New("token store: duplicate refresh token")
	}
	s.refresh[row.TokenHash] = row
	cpy := *row
	return &cpy, nil
}

func (s *MemoryTokenStore) FindRefreshToken(ctx context.Context, raw string) (*models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.refresh[crypto.HashToken(raw)]
	if !ok || !row.Live(s.now()) {
		return nil, ErrTokenNotFound
	}
	cpy := *row
	return &cpy, nil
}

func (s *MemoryTokenStore) RotateRefreshToken(ctx context.Context, raw string, next RefreshTokenRecord) (*models.RefreshToken, error) {
	row, err := s.newRefreshRow(next)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	current, ok := s.refresh[crypto.HashToken(raw)]
	if !ok || !current.Live(now) || current.TokenFamily != row.TokenFamily || current.UserID != row.UserID {
		return nil, ErrTokenNotFound
	}

	reason := models.RevokeRotated
	current.RevokedAt = &now
	current.RevokedReason = &reason
	s.refresh[row.TokenHash] = row

	cpy := *row
	return &cpy, nil
}

func (s *MemoryTokenStore) InvalidateToken(ctx context.Context, raw string) error {
	hash := crypto.HashToken(raw)
	s.revokeWhere(func(t *models.RefreshToken) bool { return t.TokenHash == hash }, models.RevokeManualInvalidation)
	return nil
}

func (s *MemoryTokenStore) InvalidateUserTokens(ctx context.Context, userID string, reason models.RevokeReason) (int64, error) {
	if reason == "" {
		reason = models.RevokeUserLogout
	}
	return s.revokeWhere(func(t *models.RefreshToken) bool { return t.UserID == userID }, reason), nil
}

func (s *MemoryTokenStore) InvalidateTokenFamily(ctx context.Context, family string) (int64, error) {
	return s.revokeWhere(func(t *models.RefreshToken) bool { return t.TokenFamily == family }, models.RevokeTokenReuseDetected), nil
}

func (s *MemoryTokenStore) revokeWhere(match func(*models.RefreshToken) bool, reason models.RevokeReason) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var n int64
	for _, t := range s.refresh {
		if t.RevokedAt != nil || !match(t) {
			continue
		}
		r := reason
		t.RevokedAt = &now
		t.RevokedReason = &r
		n++
	}
	return n
}

func (s *MemoryTokenStore) FindTokensByFamily(ctx context.Context, family string) ([]models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []models.RefreshToken
	for _, t := range s.refresh {
		if t.TokenFamily == family {
			rows = append(rows, *t)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
	return rows, nil
}

func (s *MemoryTokenStore) SaveResetToken(ctx context.Context, rec ResetTokenRecord) (*models.PasswordResetToken, error) {
	if strings.TrimSpace(rec.UserID) == "" || rec.Raw == "" {
		return nil, errors.New("token store: reset token user and value are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, t := range s.reset {
		if t.UserID == rec.UserID && t.UsedAt == nil {
			used := now
			t.UsedAt = &used
		}
	}

	row := &models.PasswordResetToken{
		ID:        uuid.NewString(),
		UserID:    rec.UserID,
		JTI:       rec.JTI,
		TokenHash: crypto.HashToken(rec.Raw),
		ExpiresAt: rec.ExpiresAt,
		CreatedAt: now,
	}
	s.reset[row.TokenHash] = row
	cpy := *row
	return &cpy, nil
}

func (s *MemoryTokenStore) FindResetToken(ctx context.Context, raw string) (*models.PasswordResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.reset[crypto.HashToken(raw)]
	if !ok || row.UsedAt != nil || !row.ExpiresAt.After(s.now()) {
		return nil, ErrTokenNotFound
	}
	cpy := *row
	return &cpy, nil
}

func (s *MemoryTokenStore) MarkResetTokenUsed(ctx context.Context, raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	row, ok := s.reset[crypto.HashToken(raw)]
	if !ok || row.UsedAt != nil || !row.ExpiresAt.After(now) {
		return ErrTokenNotFound
	}
	row.UsedAt = &now
	return nil
}

func (s *MemoryTokenStore) RestoreResetToken(ctx context.Context, raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.reset[crypto.HashToken(raw)]
	if !ok || row.UsedAt == nil {
		return ErrTokenNotFound
	}
	row.UsedAt = nil
	return nil
}

func (s *MemoryTokenStore) AddToBlacklist(ctx context.Context, entry BlacklistEntry) error {
	if strings.TrimSpace(entry.JTI) == "" {
		return errors.New("token store: blacklist jti is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.blacklist[entry.JTI]; exists {
		return nil
	}
	s.blacklist[entry.JTI] = &models.TokenBlacklist{
		ID:        uuid.NewString(),
		JTI:       entry.JTI,
		TokenType: entry.TokenType,
		UserID:    entry.UserID,
		ExpiresAt: entry.ExpiresAt,
		Reason:    entry.Reason,
		CreatedAt: s.now(),
	}
	return nil
}

func (s *MemoryTokenStore) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	_, found, err := s.BlacklistExpiry(ctx, jti)
	return found, err
}

func (s *MemoryTokenStore) BlacklistExpiry(ctx context.Context, jti string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.blacklist[jti]
	if !ok || !row.ExpiresAt.After(s.now()) {
		return time.Time{}, false, nil
	}
	return row.ExpiresAt, true, nil
}

func (s *MemoryTokenStore) CleanExpiredTokens(ctx context.Context) (CleanupStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var stats CleanupStats
	for k, t := range s.refresh {
		if !t.ExpiresAt.After(now) {
			delete(s.refresh, k)
			stats.RefreshTokens++
		}
	}
	for k, t := range s.reset {
		if !t.ExpiresAt.After(now) {
			delete(s.reset, k)
			stats.ResetTokens++
		}
	}
	for k, t := range s.blacklist {
		if !t.ExpiresAt.After(now) {
			delete(s.blacklist, k)
			stats.Blacklist++
		}
	}
	return stats, nil
}

func (s *MemoryTokenStore) newRefreshRow(rec RefreshTokenRecord) (*models.RefreshToken, error) {
	if strings.TrimSpace(rec.UserID) == "" || rec.Raw == "" || rec.TokenFamily == "" {
		return nil, errors.New("token store: refresh token user, value and family are required")
	}
	return &models.RefreshToken{
		ID:          uuid.NewString(),
		UserID:      rec.UserID,
		TokenHash:   crypto.HashToken(rec.Raw),
		JTI:         rec.JTI,
		TokenFamily: rec.TokenFamily,
		DeviceInfo:  strings.TrimSpace(rec.DeviceInfo),
		ExpiresAt:   rec.ExpiresAt,
		CreatedAt:   s.now(),
	}, nil
}

var (
	_ TokenStore = (*GormTokenStore)(nil)
	_ TokenStore = (*MemoryTokenStore)(nil)
)
