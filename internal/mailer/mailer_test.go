package mailer_test

import (
	"context"
	"errors"
	"testing"

	"credential_service/internal/mailer"
	"credential_service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type captureSender struct {
	sent []*gomail.Message
	err  error
}

func (s *captureSender) DialAndSend(m ...*gomail.Message) error {
	if s.err != nil {
		return s.err
	}

	s.sent = append(s.sent, m...)

	return nil
}

func TestRender(t *testing.T) {
	tests := []struct {
		name        string
		msg         models.Message
		wantSubject string
		wantInBody  []string
	}{
		{
			name:        "verify email",
			msg:         models.Message{FullName: "Anna", Purpose: models.NotifyVerifyEmail, Code: "123456"},
			wantSubject: "Подтверждение почты",
			wantInBody:  []string{"Anna", "123456"},
		},
		{
			name:        "resend",
			msg:         models.Message{Purpose: models.NotifyResendOTP, Code: "654321"},
			wantSubject: "Новый код подтверждения",
			wantInBody:  []string{"654321"},
		},
		{
			name:        "reset password",
			msg:         models.Message{Purpose: models.NotifyResetPassword, Code: "111111"},
			wantSubject: "Сброс пароля",
			wantInBody:  []string{"111111"},
		},
		{
			name:        "reset success has no code",
			msg:         models.Message{Purpose: models.NotifyPasswordResetSuccess},
			wantSubject: "Пароль изменен",
			wantInBody:  []string{"сессии завершены"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject, body, err := mailer.Render(tt.msg)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSubject, subject)

			for _, s := range tt.wantInBody {
				assert.Contains(t, body, s)
			}
		})
	}

	_, _, err := mailer.Render(models.Message{Purpose: "magic-link"})
	require.ErrorIs(t, err, mailer.ErrUnknownPurpose)
}

func TestMailer_Send(t *testing.T) {
	sender := &captureSender{}
	m := mailer.NewWithSender("no-reply@x.com", sender)

	err := m.Send(context.Background(), models.Message{Email: "a@x.com", Purpose: models.NotifyVerifyEmail, Code: "123456"})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, []string{"a@x.com"}, sender.sent[0].GetHeader("To"))
	assert.Equal(t, []string{"no-reply@x.com"}, sender.sent[0].GetHeader("From"))

	sender.err = errors.New("smtp down")
	err = m.Send(context.Background(), models.Message{Email: "a@x.com", Purpose: models.NotifyResendOTP, Code: "1"})
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, m.Send(ctx, models.Message{Purpose: models.NotifyVerifyEmail}), context.Canceled)
}
