package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/template"

	"credential_service/internal/models"

	"gopkg.in/gomail.v2"
)

var ErrUnknownPurpose = errors.New("unknown notification purpose")

type letter struct {
	subject string
	body    *template.Template
}

var letters = map[models.NotificationKind]letter{
	models.NotifyVerifyEmail: {
		subject: "Подтверждение почты",
		body: template.Must(template.New("verify").Parse(
			"Здравствуйте{{with .FullName}}, {{.}}{{end}}!\n\n" +
				"Ваш код подтверждения: {{.Code}}\n")),
	},
	models.NotifyResendOTP: {
		subject: "Новый код подтверждения",
		body: template.Must(template.New("resend").Parse(
			"Здравствуйте{{with .FullName}}, {{.}}{{end}}!\n\n" +
				"Ваш новый код: {{.Code}}\n" +
				"Предыдущий код больше не действует.\n")),
	},
	models.NotifyResetPassword: {
		subject: "Сброс пароля",
		body: template.Must(template.New("reset").Parse(
			"Здравствуйте{{with .FullName}}, {{.}}{{end}}!\n\n" +
				"Код для сброса пароля: {{.Code}}\n" +
				"Если вы не запрашивали сброс, просто проигнорируйте это письмо.\n")),
	},
	models.NotifyPasswordResetSuccess: {
		subject: "Пароль изменен",
		body: template.Must(template.New("reset-success").Parse(
			"Здравствуйте{{with .FullName}}, {{.}}{{end}}!\n\n" +
				"Пароль от вашего аккаунта был изменен. Все активные сессии завершены.\n")),
	},
}

// Sender - транспорт писем; gomail.Dialer реализует его.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type Mailer struct {
	from   string
	sender Sender
}

func New(host string, port int, username, password, from string) *Mailer {
	return &Mailer{
		from:   from,
		sender: gomail.NewDialer(host, port, username, password),
	}
}

func NewWithSender(from string, sender Sender) *Mailer {
	return &Mailer{from: from, sender: sender}
}

// * Render выбирает шаблон по назначению и возвращает тему и текст письма
func Render(msg models.Message) (string, string, error) {
	const op = "mailer.Render"

	l, ok := letters[msg.Purpose]
	if !ok {
		return "", "", fmt.Errorf("%s: %w: %q", op, ErrUnknownPurpose, msg.Purpose)
	}

	var buf bytes.Buffer
	if err := l.body.Execute(&buf, msg); err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	return l.subject, buf.String(), nil
}

// * Send отправляет уведомление по SMTP
func (m *Mailer) Send(ctx context.Context, msg models.Message) error {
	const op = "mailer.Send"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	subject, body, err := Render(msg)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	gm := gomail.NewMessage()
	gm.SetHeader("To", msg.Email)
	gm.SetHeader("From", m.from)
	gm.SetHeader("Subject", subject)
	gm.SetBody("text/plain", body)

	if err := m.sender.DialAndSend(gm); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
