package memory

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"credential_service/internal/models"
	"credential_service/internal/storage"

	"github.com/google/uuid"
)

type otpKey struct {
	accountID uuid.UUID
	purpose   models.Purpose
}

// Storage держит аккаунты, OTP и сессии в памяти процесса. Для env=local и тестов.
type Storage struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]models.Account
	emails   map[string]uuid.UUID
	otps     map[otpKey]models.OTPRecord
	sessions map[uuid.UUID]models.Session
}

func New() *Storage {
	return &Storage{
		accounts: make(map[uuid.UUID]models.Account),
		emails:   make(map[string]uuid.UUID),
		otps:     make(map[otpKey]models.OTPRecord),
		sessions: make(map[uuid.UUID]models.Session),
	}
}

func (s *Storage) SaveAccount(_ context.Context, acc models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(acc.Email)
	if _, ok := s.emails[email]; ok {
		return storage.ErrUserExists
	}

	s.accounts[acc.ID] = acc
	s.emails[email] = acc.ID

	return nil
}

func (s *Storage) AccountByEmail(_ context.Context, email string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return models.Account{}, storage.ErrUserNotFound
	}

	return s.accounts[id], nil
}

func (s *Storage) AccountByID(_ context.Context, id uuid.UUID) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return models.Account{}, storage.ErrUserNotFound
	}

	return acc, nil
}

func (s *Storage) SetEmailVerified(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return storage.ErrUserNotFound
	}

	acc.IsVerified = true
	s.accounts[id] = acc

	return nil
}

func (s *Storage) UpdatePassword(_ context.Context, id uuid.UUID, passHash []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return storage.ErrUserNotFound
	}

	acc.PassHash = passHash
	s.accounts[id] = acc

	return nil
}

func (s *Storage) SaveOTP(_ context.Context, rec models.OTPRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.otps[otpKey{rec.AccountID, rec.Purpose}] = rec

	return nil
}

func (s *Storage) ReplaceOTPIfOlder(_ context.Context, rec models.OTPRecord, notAfter time.Time) (bool, models.OTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := otpKey{rec.AccountID, rec.Purpose}

	if current, ok := s.otps[key]; ok {
		if current.CreatedAt.After(notAfter) && !current.IsExpired(rec.CreatedAt) {
			return false, current, nil
		}
	}

	s.otps[key] = rec

	return true, models.OTPRecord{}, nil
}

func (s *Storage) OTPs(_ context.Context, accountID uuid.UUID, purposes []models.Purpose) ([]models.OTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recs []models.OTPRecord
	for _, p := range purposes {
		if rec, ok := s.otps[otpKey{accountID, p}]; ok {
			recs = append(recs, rec)
		}
	}

	return recs, nil
}

func (s *Storage) DeleteOTP(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, rec := range s.otps {
		if rec.ID == id {
			delete(s.otps, key)

			return true, nil
		}
	}

	return false, nil
}

func (s *Storage) DeleteOTPs(_ context.Context, accountID uuid.UUID, purpose models.Purpose) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.otps, otpKey{accountID, purpose})

	return nil
}

func (s *Storage) DeleteExpiredOTPs(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, rec := range s.otps {
		if rec.IsExpired(now) {
			delete(s.otps, key)
			n++
		}
	}

	return n, nil
}

func (s *Storage) SaveSession(_ context.Context, sess models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.AccountID] = sess

	return nil
}

func (s *Storage) Session(_ context.Context, accountID uuid.UUID) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[accountID]
	if !ok {
		return models.Session{}, storage.ErrSessionNotFound
	}

	return sess, nil
}

func (s *Storage) SwapSession(_ context.Context, accountID uuid.UUID, oldHash []byte, next models.Session) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[accountID]
	if !ok || !bytes.Equal(current.TokenHash, oldHash) {
		return false, nil
	}

	s.sessions[accountID] = next

	return true, nil
}

func (s *Storage) DeleteSession(_ context.Context, accountID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, accountID)

	return nil
}
