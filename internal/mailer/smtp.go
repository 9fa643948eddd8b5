package mailer

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SMTPProvider delivers mail through a submission server.
type SMTPProvider struct {
	host     string
	port     string
	username string
	password string
	from     string

	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPProvider(host, port, username, password, from string) *SMTPProvider {
	return &SMTPProvider{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		sendMail: smtp.SendMail,
	}
}

func (p *SMTPProvider) Send(ctx context.Context, msg Message) (SendResult, error) {
	sender, err := mail.ParseAddress(p.from)
	if err != nil {
		return SendResult{}, &SendError{Provider: "smtp", StatusCode: 501, Message: "invalid from address", Err: err}
	}

	domain := sender.Address[strings.LastIndexByte(sender.Address, '@')+1:]
	messageID := fmt.Sprintf("%s@%s", uuid.NewString(), domain)
	raw := buildMIME(p.from, msg, messageID)

	var auth smtp.Auth
	if p.username != "" {
		auth = smtp.PlainAuth("", p.username, p.password, p.host)
	}

	done := make(chan error, 1)
	go func() {
		done <- p.sendMail(net.JoinHostPort(p.host, p.port), auth, sender.Address, []string{msg.To}, raw)
	}()

	select {
	case <-ctx.Done():
		return SendResult{}, &SendError{Provider: "smtp", Err: ctx.Err()}
	case err := <-done:
		if err != nil {
			var tpErr *textproto.Error
			if errors.As(err, &tpErr) {
				return SendResult{}, &SendError{Provider: "smtp", StatusCode: tpErr.Code, Message: tpErr.Msg, Err: err}
			}
			return SendResult{}, &SendError{Provider: "smtp", Err: err}
		}
	}

	return SendResult{MessageID: messageID}, nil
}

func buildMIME(from string, msg Message, messageID string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + mimeHeader(msg.Subject) + "\r\n")
	b.WriteString("Message-ID: <" + messageID + ">\r\n")
	b.WriteString("Date: " + time.Now().UTC().Format(time.RFC1123Z) + "\r\n")

	names := make([]string, 0, len(msg.Tags))
	for name := range msg.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteString(fmt.Sprintf("X-Tag-%s: %s\r\n", textproto.CanonicalMIMEHeaderKey(name), msg.Tags[name]))
	}

	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	return []byte(b.String())
}

func mimeHeader(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.QEncoding.Encode("utf-8", s)
		}
	}
	return s
}
