package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"credential_service/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// истекшая запись хранится еще retention, чтобы проверка отвечала "expired", а не "not found"
	retention = 24 * time.Hour

	maxTxRetries = 5
)

var ErrTxConflict = errors.New("otp record changed concurrently")

// OTPStore хранит коды в хешах otp:{account}:{purpose} и индекс otp:id:{id} -> ключ записи.
type OTPStore struct {
	client *redis.Client
}

func New(ctx context.Context, addr, pass string, db int) (*OTPStore, error) {
	const op = "storage.redis.New"

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     pass,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &OTPStore{client: client}, nil
}

// NewWithClient нужен тестам и тем, кто уже держит клиент.
func NewWithClient(client *redis.Client) *OTPStore {
	return &OTPStore{client: client}
}

func recordKey(accountID uuid.UUID, purpose models.Purpose) string {
	return fmt.Sprintf("otp:%s:%s", accountID, purpose)
}

func idKey(id uuid.UUID) string {
	return fmt.Sprintf("otp:id:%s", id)
}

// * SaveOTP перезаписывает код для (account, purpose)
func (s *OTPStore) SaveOTP(ctx context.Context, rec models.OTPRecord) error {
	const op = "storage.redis.SaveOTP"

	key := recordKey(rec.AccountID, rec.Purpose)

	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		prev, ok, err := load(ctx, tx, key)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if ok {
				pipe.Del(ctx, idKey(prev.ID))
			}
			write(ctx, pipe, key, rec)

			return nil
		})

		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// * ReplaceOTPIfOlder - оптимистичная транзакция WATCH/MULTI. Если запись изменилась
// между чтением и EXEC, попытка повторяется.
func (s *OTPStore) ReplaceOTPIfOlder(ctx context.Context, rec models.OTPRecord, notAfter time.Time) (bool, models.OTPRecord, error) {
	const op = "storage.redis.ReplaceOTPIfOlder"

	key := recordKey(rec.AccountID, rec.Purpose)

	var (
		replaced bool
		current  models.OTPRecord
	)

	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		prev, ok, err := load(ctx, tx, key)
		if err != nil {
			return err
		}

		if ok && prev.CreatedAt.After(notAfter) && !prev.IsExpired(rec.CreatedAt) {
			replaced, current = false, prev

			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if ok {
				pipe.Del(ctx, idKey(prev.ID))
			}
			write(ctx, pipe, key, rec)

			return nil
		})
		if err != nil {
			return err
		}

		replaced, current = true, models.OTPRecord{}

		return nil
	})
	if err != nil {
		return false, models.OTPRecord{}, fmt.Errorf("%s: %w", op, err)
	}

	return replaced, current, nil
}

func (s *OTPStore) OTPs(ctx context.Context, accountID uuid.UUID, purposes []models.Purpose) ([]models.OTPRecord, error) {
	const op = "storage.redis.OTPs"

	var recs []models.OTPRecord

	for _, p := range purposes {
		rec, ok, err := load(ctx, s.client, recordKey(accountID, p))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		if ok {
			recs = append(recs, rec)
		}
	}

	return recs, nil
}

// * DeleteOTP удаляет запись по id, только если под ключом все еще лежит именно она.
// true получает только тот вызов, чья транзакция удалила запись.
func (s *OTPStore) DeleteOTP(ctx context.Context, id uuid.UUID) (bool, error) {
	const op = "storage.redis.DeleteOTP"

	key, err := s.client.Get(ctx, idKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}

		return false, fmt.Errorf("%s: %w", op, err)
	}

	var deleted bool

	err = s.watch(ctx, key, func(tx *redis.Tx) error {
		rec, ok, err := load(ctx, tx, key)
		if err != nil {
			return err
		}

		owned := ok && rec.ID == id

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, idKey(id))
			if owned {
				pipe.Del(ctx, key)
			}

			return nil
		})
		if err != nil {
			return err
		}

		deleted = owned

		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return deleted, nil
}

func (s *OTPStore) DeleteOTPs(ctx context.Context, accountID uuid.UUID, purpose models.Purpose) error {
	const op = "storage.redis.DeleteOTPs"

	key := recordKey(accountID, purpose)

	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		rec, ok, err := load(ctx, tx, key)
		if err != nil || !ok {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key, idKey(rec.ID))

			return nil
		})

		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// * DeleteExpiredOTPs проходит по ключам SCAN-ом и удаляет истекшие записи.
// Остальные со временем удалит сам Redis по TTL.
func (s *OTPStore) DeleteExpiredOTPs(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.redis.DeleteExpiredOTPs"

	var n int64

	iter := s.client.Scan(ctx, 0, "otp:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		if s.client.Type(ctx, key).Val() != "hash" {
			continue
		}

		rec, ok, err := load(ctx, s.client, key)
		if err != nil {
			return n, fmt.Errorf("%s: %w", op, err)
		}

		if !ok || !rec.IsExpired(now) {
			continue
		}

		if err := s.client.Del(ctx, key, idKey(rec.ID)).Err(); err != nil {
			return n, fmt.Errorf("%s: %w", op, err)
		}

		n++
	}

	if err := iter.Err(); err != nil {
		return n, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

// * Close закрывает соединение с Redis.
func (s *OTPStore) Close() {
	s.client.Close()
}

func (s *OTPStore) watch(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}

		return err
	}

	return ErrTxConflict
}

func write(ctx context.Context, pipe redis.Pipeliner, key string, rec models.OTPRecord) {
	pipe.HSet(ctx, key, map[string]interface{}{
		"id":         rec.ID.String(),
		"account_id": rec.AccountID.String(),
		"purpose":    string(rec.Purpose),
		"code_hash":  rec.CodeHash,
		"created_at": rec.CreatedAt.UnixNano(),
		"expires_at": rec.ExpiresAt.UnixNano(),
	})
	pipe.PExpireAt(ctx, key, rec.ExpiresAt.Add(retention))
	pipe.Set(ctx, idKey(rec.ID), key, 0)
	pipe.PExpireAt(ctx, idKey(rec.ID), rec.ExpiresAt.Add(retention))
}

func load(ctx context.Context, c redis.Cmdable, key string) (models.OTPRecord, bool, error) {
	fields, err := c.HGetAll(ctx, key).Result()
	if err != nil {
		return models.OTPRecord{}, false, err
	}

	if len(fields) == 0 {
		return models.OTPRecord{}, false, nil
	}

	rec, err := decode(fields)
	if err != nil {
		return models.OTPRecord{}, false, fmt.Errorf("decode %s: %w", key, err)
	}

	return rec, true, nil
}

func decode(fields map[string]string) (models.OTPRecord, error) {
	id, err := uuid.Parse(fields["id"])
	if err != nil {
		return models.OTPRecord{}, err
	}

	accountID, err := uuid.Parse(fields["account_id"])
	if err != nil {
		return models.OTPRecord{}, err
	}

	created, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return models.OTPRecord{}, err
	}

	expires, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return models.OTPRecord{}, err
	}

	return models.OTPRecord{
		ID:        id,
		AccountID: accountID,
		Purpose:   models.Purpose(fields["purpose"]),
		CodeHash:  []byte(fields["code_hash"]),
		CreatedAt: time.Unix(0, created).UTC(),
		ExpiresAt: time.Unix(0, expires).UTC(),
	}, nil
}
