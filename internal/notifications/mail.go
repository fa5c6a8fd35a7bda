package notifications

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"arbiter/internal/config"
)

type sendFunc func(ctx context.Context, addr string, auth smtp.Auth, from string, rcpt []string, msg []byte) error

// mailService mails score reports to submitters through an SMTP relay. Only
// scored events with recipients produce mail; operator events go to ntfy.
type mailService struct {
	addr    string
	host    string
	auth    smtp.Auth
	from    string
	cc      []string
	timeout time.Duration
	send    sendFunc
	now     func() time.Time
}

func newMailService(n config.Notifications, timeout time.Duration) *mailService {
	svc := &mailService{
		addr:    net.JoinHostPort(n.SMTPHost, strconv.Itoa(n.SMTPPort)),
		host:    n.SMTPHost,
		from:    n.MailFrom,
		cc:      append([]string(nil), n.MailCC...),
		timeout: timeout,
		now:     time.Now,
	}
	if n.SMTPUsername != "" {
		svc.auth = smtp.PlainAuth("", n.SMTPUsername, n.SMTPPassword, n.SMTPHost)
	}
	svc.send = svc.dialAndSend
	return svc
}

func (m *mailService) NotifyScored(ctx context.Context, event Scored) error {
	if len(event.Recipients) == 0 {
		return nil
	}
	body, err := json.MarshalIndent(event.Scores, "", "  ")
	if err != nil {
		return fmt.Errorf("encode score report: %w", err)
	}
	subject := fmt.Sprintf("%s Eval Update", trackLabel(event.Track))
	return m.deliver(ctx, event.Recipients, subject, string(body))
}

func (m *mailService) NotifyFailed(context.Context, Failed) error { return nil }

func (m *mailService) NotifyError(context.Context, error, string) error { return nil }

func (m *mailService) TestNotification(ctx context.Context) error {
	return m.deliver(ctx, []string{m.from}, "Arbiter Eval Test", "Test message.")
}

func (m *mailService) deliver(ctx context.Context, to []string, subject, body string) error {
	msg := m.compose(to, subject, body)
	rcpt := append(append([]string(nil), to...), m.cc...)
	if err := m.send(ctx, m.addr, m.auth, m.from, rcpt, msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", strings.Join(to, ", "), err)
	}
	return nil
}

func (m *mailService) compose(to []string, subject, body string) []byte {
	var b bytes.Buffer
	header := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}
	header("From", m.from)
	header("To", strings.Join(to, ", "))
	if len(m.cc) > 0 {
		header("Cc", strings.Join(m.cc, ", "))
	}
	header("Subject", mime.QEncoding.Encode("utf-8", subject))
	header("Date", m.now().Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), m.host))
	header("MIME-Version", "1.0")
	header("Content-Type", "text/plain; charset=utf-8")
	header("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}

// dialAndSend is smtp.SendMail with a context-aware dial and an overall
// deadline on the session.
func (m *mailService) dialAndSend(ctx context.Context, addr string, auth smtp.Auth, from string, rcpt []string, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	client, err := smtp.NewClient(conn, m.host)
	if err != nil {
		conn.Close()
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: m.host, MinVersion: tls.VersionTLS12}); err != nil {
			return err
		}
	}
	if auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(auth); err != nil {
				return err
			}
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, addr := range rcpt {
		if err := client.Rcpt(addr); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}
