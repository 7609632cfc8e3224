package notify

import (
	"gopkg.in/gomail.v2"
)

type GomailMailer struct {
	host string
	port int
	user string
	pass string
	from string
}

func NewGomailMailer(host string, port int, user, pass, from string) *GomailMailer {
	return &GomailMailer{
		host: host,
		port: port,
		user: user,
		pass: pass,
		from: from,
	}
}

func (m *GomailMailer) Send(to, subject, htmlBody string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", htmlBody)

	d := gomail.NewDialer(m.host, m.port, m.user, m.pass)
	return d.DialAndSend(msg)
}

// NoopMailer is used when SMTP is not configured (dev, tests).
type NoopMailer struct{}

func (NoopMailer) Send(string, string, string) error { return nil }
