package models

import (
	"time"

	"github.com/google/uuid"
)

type Purpose string

const (
	PurposeVerifyEmail   Purpose = "verify-email"
	PurposeResetPassword Purpose = "reset-password"
)

// * Valid сообщает, поддерживается ли назначение кода
func (p Purpose) Valid() bool {
	return p == PurposeVerifyEmail || p == PurposeResetPassword
}

type Role string

const (
	RoleOccupant Role = "occupant"
	RoleAdmin    Role = "admin"
)

type Account struct {
	ID         uuid.UUID
	FullName   string
	Email      string
	PassHash   []byte
	IsVerified bool
	Role       Role
	CreatedAt  time.Time
}

type OTPRecord struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Purpose   Purpose
	CodeHash  []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// * IsExpired проверяет, истек ли срок действия кода
func (o *OTPRecord) IsExpired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// Session хранит дайджест текущего refresh токена аккаунта.
type Session struct {
	AccountID uuid.UUID
	TokenHash []byte
	ExpiresAt time.Time
	UpdatedAt time.Time
}

func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

type NotificationKind string

const (
	NotifyVerifyEmail          NotificationKind = "verify-email"
	NotifyResendOTP            NotificationKind = "resend-otp"
	NotifyResetPassword        NotificationKind = "reset-password"
	NotifyPasswordResetSuccess NotificationKind = "password-reset-success"
)

// Message публикуется в очередь и читается mail_sender.
type Message struct {
	Email    string           `json:"to"`
	FullName string           `json:"full_name,omitempty"`
	Purpose  NotificationKind `json:"purpose"`
	Code     string           `json:"code,omitempty"`
}
