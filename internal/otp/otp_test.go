package otp_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"credential_service/internal/lib/hasher"
	"credential_service/internal/models"
	"credential_service/internal/otp"
	"credential_service/internal/storage/memory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type clock struct {
	t time.Time
}

func (c *clock) Now() time.Time { return c.t }

func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type seqGenerator struct {
	codes []string
	err   error
}

func (g *seqGenerator) Generate() (string, error) {
	if g.err != nil {
		return "", g.err
	}

	code := g.codes[0]
	if len(g.codes) > 1 {
		g.codes = g.codes[1:]
	}

	return code, nil
}

func newManager(t *testing.T, codes ...string) (*otp.Manager, *memory.Storage, *clock) {
	t.Helper()

	store := memory.New()
	clk := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	m := otp.New(log, store, hasher.New(bcrypt.MinCost), &seqGenerator{codes: codes}, otp.WithClock(clk.Now))

	return m, store, clk
}

func TestManager_CreateAndVerify(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newManager(t, "123456")
	accountID := uuid.New()

	code, err := m.Create(ctx, accountID, models.PurposeVerifyEmail, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "123456", code)

	stored, err := store.OTPs(ctx, accountID, []models.Purpose{models.PurposeVerifyEmail})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.NotEqual(t, []byte("123456"), stored[0].CodeHash)

	rec, err := m.Verify(ctx, accountID, "123456", models.PurposeVerifyEmail, models.PurposeResetPassword)
	require.NoError(t, err)
	assert.Equal(t, models.PurposeVerifyEmail, rec.Purpose)

	// проверка не расходует код
	_, err = m.Verify(ctx, accountID, "123456", models.PurposeVerifyEmail)
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, rec.ID))
	require.NoError(t, m.Delete(ctx, rec.ID))

	_, err = m.Verify(ctx, accountID, "123456", models.PurposeVerifyEmail)
	require.ErrorIs(t, err, otp.ErrNotFound)
}

func TestManager_VerifyFailures(t *testing.T) {
	tests := []struct {
		name     string
		advance  time.Duration
		code     string
		purposes []models.Purpose
		wantErr  error
	}{
		{
			name:     "wrong code",
			code:     "654321",
			purposes: []models.Purpose{models.PurposeVerifyEmail},
			wantErr:  otp.ErrMismatch,
		},
		{
			name:     "purpose not allowed",
			code:     "123456",
			purposes: []models.Purpose{models.PurposeResetPassword},
			wantErr:  otp.ErrNotFound,
		},
		{
			name:     "expired",
			advance:  time.Hour + time.Second,
			code:     "123456",
			purposes: []models.Purpose{models.PurposeVerifyEmail},
			wantErr:  otp.ErrExpired,
		},
		{
			name:     "expired with wrong code reports expiry",
			advance:  2 * time.Hour,
			code:     "000000",
			purposes: []models.Purpose{models.PurposeVerifyEmail},
			wantErr:  otp.ErrExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			m, store, clk := newManager(t, "123456")
			accountID := uuid.New()

			_, err := m.Create(ctx, accountID, models.PurposeVerifyEmail, time.Hour)
			require.NoError(t, err)

			clk.Advance(tt.advance)

			_, err = m.Verify(ctx, accountID, tt.code, tt.purposes...)
			require.ErrorIs(t, err, tt.wantErr)

			// неудачная проверка не удаляет запись
			recs, err := store.OTPs(ctx, accountID, []models.Purpose{models.PurposeVerifyEmail})
			require.NoError(t, err)
			assert.Len(t, recs, 1)
		})
	}
}

func TestManager_VerifyAtExactExpiry(t *testing.T) {
	ctx := context.Background()
	m, _, clk := newManager(t, "123456")
	accountID := uuid.New()

	_, err := m.Create(ctx, accountID, models.PurposeVerifyEmail, time.Hour)
	require.NoError(t, err)

	clk.Advance(time.Hour)

	_, err = m.Verify(ctx, accountID, "123456", models.PurposeVerifyEmail)
	require.NoError(t, err)
}

func TestManager_CreateSupersedes(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t, "111111", "222222")
	accountID := uuid.New()

	_, err := m.Create(ctx, accountID, models.PurposeResetPassword, time.Hour)
	require.NoError(t, err)
	_, err = m.Create(ctx, accountID, models.PurposeResetPassword, time.Hour)
	require.NoError(t, err)

	_, err = m.Verify(ctx, accountID, "111111", models.PurposeResetPassword)
	require.ErrorIs(t, err, otp.ErrMismatch)

	_, err = m.Verify(ctx, accountID, "222222", models.PurposeResetPassword)
	require.NoError(t, err)
}

func TestManager_CreateErrors(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t, "123456")

	_, err := m.Create(ctx, uuid.New(), models.Purpose("login"), time.Hour)
	require.ErrorIs(t, err, otp.ErrInvalidPurpose)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	failing := otp.New(log, memory.New(), hasher.New(bcrypt.MinCost), &seqGenerator{err: errors.New("entropy")})

	_, err = failing.Create(ctx, uuid.New(), models.PurposeVerifyEmail, time.Hour)
	require.Error(t, err)
}

func TestManager_InvalidateAll(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t, "123456")
	accountID := uuid.New()

	_, err := m.Create(ctx, accountID, models.PurposeVerifyEmail, time.Hour)
	require.NoError(t, err)
	_, err = m.Create(ctx, accountID, models.PurposeResetPassword, time.Hour)
	require.NoError(t, err)

	require.NoError(t, m.InvalidateAll(ctx, accountID, models.PurposeVerifyEmail))

	_, err = m.Verify(ctx, accountID, "123456", models.PurposeVerifyEmail)
	require.ErrorIs(t, err, otp.ErrNotFound)

	_, err = m.Verify(ctx, accountID, "123456", models.PurposeResetPassword)
	require.NoError(t, err)
}

func TestManager_CheckRate(t *testing.T) {
	ctx := context.Background()
	m, _, clk := newManager(t, "123456")
	accountID := uuid.New()

	require.NoError(t, m.CheckRate(ctx, accountID, models.PurposeVerifyEmail, 30*time.Second))

	_, err := m.Create(ctx, accountID, models.PurposeVerifyEmail, time.Hour)
	require.NoError(t, err)

	clk.Advance(10 * time.Second)

	err = m.CheckRate(ctx, accountID, models.PurposeVerifyEmail, 30*time.Second)
	require.ErrorIs(t, err, otp.ErrRateLimited)

	var rl *otp.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 20, rl.RetryAfterSeconds())

	// другие назначения не затронуты
	require.NoError(t, m.CheckRate(ctx, accountID, models.PurposeResetPassword, 30*time.Second))

	clk.Advance(20 * time.Second)
	require.NoError(t, m.CheckRate(ctx, accountID, models.PurposeVerifyEmail, 30*time.Second))

	// сама проверка интервала запись не трогает
	_, err = m.Verify(ctx, accountID, "123456", models.PurposeVerifyEmail)
	require.NoError(t, err)
}

func TestManager_Reissue(t *testing.T) {
	ctx := context.Background()
	m, _, clk := newManager(t, "111111", "222222", "333333")
	accountID := uuid.New()

	code, err := m.Reissue(ctx, accountID, models.PurposeVerifyEmail, time.Hour, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "111111", code)

	clk.Advance(5 * time.Second)

	_, err = m.Reissue(ctx, accountID, models.PurposeVerifyEmail, time.Hour, 30*time.Second)
	var rl *otp.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 25, rl.RetryAfterSeconds())

	// отклоненный запрос оставил живой код на месте
	_, err = m.Verify(ctx, accountID, "111111", models.PurposeVerifyEmail)
	require.NoError(t, err)

	clk.Advance(25 * time.Second)

	code, err = m.Reissue(ctx, accountID, models.PurposeVerifyEmail, time.Hour, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "333333", code)

	_, err = m.Verify(ctx, accountID, "111111", models.PurposeVerifyEmail)
	require.ErrorIs(t, err, otp.ErrMismatch)
}

type staticGenerator string

func (g staticGenerator) Generate() (string, error) { return string(g), nil }

func TestManager_ConcurrentReissueKeepsOneRecord(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := otp.New(log, store, hasher.New(bcrypt.MinCost), staticGenerator("123456"))

	accountID := uuid.New()

	const n = 8

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		limited int
	)

	start := make(chan struct{})

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			<-start

			_, err := m.Reissue(ctx, accountID, models.PurposeResetPassword, time.Hour, 30*time.Second)

			mu.Lock()
			defer mu.Unlock()

			var rl *otp.RateLimitError
			switch {
			case err == nil:
				wins++
			case errors.As(err, &rl):
				limited++
			}
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, limited)

	recs, err := store.OTPs(ctx, accountID, []models.Purpose{models.PurposeResetPassword})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestManager_Consume(t *testing.T) {
	ctx := context.Background()
	m, store, clk := newManager(t, "123456", "654321")
	accountID := uuid.New()

	_, err := m.Create(ctx, accountID, models.PurposeResetPassword, time.Hour)
	require.NoError(t, err)

	rec, err := m.Verify(ctx, accountID, "123456", models.PurposeResetPassword)
	require.NoError(t, err)

	require.NoError(t, m.Consume(ctx, rec.ID))
	require.ErrorIs(t, m.Consume(ctx, rec.ID), otp.ErrNotFound)

	// возврат кода делает его снова пригодным
	require.NoError(t, m.Restore(ctx, rec))

	_, err = m.Verify(ctx, accountID, "123456", models.PurposeResetPassword)
	require.NoError(t, err)

	// более новый код возвратом не перезаписывается
	require.NoError(t, m.Consume(ctx, rec.ID))

	clk.Advance(time.Second)

	_, err = m.Create(ctx, accountID, models.PurposeResetPassword, time.Hour)
	require.NoError(t, err)

	require.NoError(t, m.Restore(ctx, rec))

	recs, err := store.OTPs(ctx, accountID, []models.Purpose{models.PurposeResetPassword})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.NotEqual(t, rec.ID, recs[0].ID)
}

func TestManager_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	m, _, clk := newManager(t, "123456")

	_, err := m.Create(ctx, uuid.New(), models.PurposeVerifyEmail, time.Minute)
	require.NoError(t, err)
	_, err = m.Create(ctx, uuid.New(), models.PurposeVerifyEmail, time.Hour)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)

	n, err := m.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRateLimitError_RetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, (&otp.RateLimitError{RetryAfter: 0}).RetryAfterSeconds())
	assert.Equal(t, 1, (&otp.RateLimitError{RetryAfter: 200 * time.Millisecond}).RetryAfterSeconds())
	assert.Equal(t, 30, (&otp.RateLimitError{RetryAfter: 29*time.Second + time.Millisecond}).RetryAfterSeconds())
}
