// Package mail delivers job results and failure notices over SMTP. Results
// are sent as a CSV attachment; delivery is retried once after a pause
// unless the server's rejection is permanent (5xx).
package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/nextlevelbuilder/datapost/internal/table"
)

const (
	subjectTimeFormat  = "2006-01-02 15:04:05"
	filenameTimeFormat = "20060102_150405"

	defaultAttempts  = 2
	defaultPause     = 5 * time.Second
	defaultIOTimeout = 30 * time.Second
)

// Error is a delivery failure. Permanent errors (authentication, rejected
// recipients, any 5xx reply) are not retried.
type Error struct {
	Permanent bool
	Msg       string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Config holds the SMTP server settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	UseTLS   bool // STARTTLS after EHLO
}

// Mailer sends job result and failure emails.
type Mailer struct {
	cfg       Config
	attempts  int
	pause     time.Duration
	ioTimeout time.Duration
}

// Option configures a Mailer.
type Option func(*Mailer)

// WithRetry overrides the attempt count and inter-attempt pause.
func WithRetry(attempts int, pause time.Duration) Option {
	return func(m *Mailer) {
		m.attempts = attempts
		m.pause = pause
	}
}

// WithIOTimeout overrides the per-attempt connection deadline.
func WithIOTimeout(d time.Duration) Option {
	return func(m *Mailer) { m.ioTimeout = d }
}

// New creates a Mailer with two delivery attempts five seconds apart and a
// 30-second I/O deadline per attempt.
func New(cfg Config, opts ...Option) *Mailer {
	m := &Mailer{cfg: cfg, attempts: defaultAttempts, pause: defaultPause, ioTimeout: defaultIOTimeout}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DeliverSuccess serializes t to CSV and emails it to recipients as an
// attachment named {jobName}_{runTime}.csv.
func (m *Mailer) DeliverSuccess(ctx context.Context, jobName string, recipients []string, t *table.Table, runTime time.Time) error {
	csvData, err := t.ToCSV()
	if err != nil {
		return &Error{Permanent: true, Msg: "serialize results to CSV", Err: err}
	}

	stamp := runTime.Format(subjectTimeFormat)
	subject := fmt.Sprintf("Job Results: %s - %s", jobName, stamp)
	body := fmt.Sprintf(`Hello,

The scheduled job '%s' has completed successfully.

Please find the results attached as a CSV file.

Execution Time: %s

Best regards,
Scheduled Jobs Service
`, jobName, stamp)

	filename := fmt.Sprintf("%s_%s.csv", jobName, runTime.Format(filenameTimeFormat))
	msg := m.buildMessage(recipients, subject, body, filename, csvData)
	return m.sendWithRetry(ctx, jobName, recipients, msg)
}

// DeliverFailure emails a failure notice containing errSummary.
func (m *Mailer) DeliverFailure(ctx context.Context, jobName string, recipients []string, errSummary string, runTime time.Time) error {
	stamp := runTime.Format(subjectTimeFormat)
	subject := fmt.Sprintf("Job Failed: %s - %s", jobName, stamp)
	body := fmt.Sprintf(`Hello,

The scheduled job '%s' has failed during execution.

Execution Time: %s

Error Details:
%s

Please review the job configuration and data source, then contact your system administrator if the issue persists.

Best regards,
Scheduled Jobs Service
`, jobName, stamp, errSummary)

	msg := m.buildMessage(recipients, subject, body, "", nil)
	return m.sendWithRetry(ctx, jobName, recipients, msg)
}

func (m *Mailer) sendWithRetry(ctx context.Context, jobName string, recipients []string, msg []byte) error {
	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Info("sending email", "job", jobName, "recipients", len(recipients), "attempt", attempt)
		err := m.send(ctx, recipients, msg)
		if err == nil {
			slog.Info("email sent", "job", jobName)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err

		var me *Error
		if errors.As(err, &me) && me.Permanent {
			return err
		}
		slog.Warn("email delivery failed", "job", jobName, "attempt", attempt, "error", err)

		if attempt < m.attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.pause):
			}
		}
	}
	return lastErr
}

// send performs one SMTP transaction. The whole transaction runs under one
// connection deadline; cancellation of ctx fails any pending read or write.
func (m *Mailer) send(ctx context.Context, recipients []string, msg []byte) error {
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	dialer := net.Dialer{Timeout: m.ioTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &Error{Msg: "connect to SMTP server", Err: err}
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(m.ioTimeout))

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.SetDeadline(time.Now())
		case <-watchDone:
		}
	}()

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return classify("SMTP greeting failed", err)
	}
	defer c.Close()

	if m.cfg.UseTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return &Error{Permanent: true, Msg: "server does not support STARTTLS"}
		}
		if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
			return classify("STARTTLS failed", err)
		}
	}

	if m.cfg.User != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)
			if err := c.Auth(auth); err != nil {
				return classify("authentication failed", err)
			}
		}
	}

	if err := c.Mail(m.cfg.From); err != nil {
		return classify("MAIL FROM rejected", err)
	}
	for _, rcpt := range recipients {
		if err := c.Rcpt(rcpt); err != nil {
			return classify(fmt.Sprintf("recipient %s rejected", rcpt), err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return classify("DATA rejected", err)
	}
	if _, err := w.Write(msg); err != nil {
		return &Error{Msg: "write message", Err: err}
	}
	if err := w.Close(); err != nil {
		return classify("message rejected", err)
	}
	// The server accepted the message at end-of-DATA. A failed QUIT after
	// that must not fail the delivery, or the retry would send a duplicate.
	if err := c.Quit(); err != nil {
		slog.Debug("QUIT failed after accepted message", "error", err)
	}
	return nil
}

// classify maps an SMTP reply to a transient or permanent Error. Replies in
// the 5xx range are permanent per RFC 5321.
func classify(msg string, err error) *Error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 {
		return &Error{Permanent: true, Msg: msg, Err: err}
	}
	return &Error{Msg: msg, Err: err}
}

// buildMessage assembles an RFC 2045 multipart/mixed message with a plain
// text body and an optional base64 CSV attachment.
func (m *Mailer) buildMessage(recipients []string, subject, body, filename string, attachment []byte) []byte {
	const boundary = "datapost-mime-boundary"

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(recipients, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n", boundary)
	buf.WriteString("\r\n")

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	buf.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	buf.WriteString("\r\n")

	if attachment != nil {
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		buf.WriteString("Content-Type: application/octet-stream\r\n")
		buf.WriteString("Content-Transfer-Encoding: base64\r\n")
		fmt.Fprintf(&buf, "Content-Disposition: attachment; filename=%q\r\n\r\n", filename)

		encoded := base64.StdEncoding.EncodeToString(attachment)
		for len(encoded) > 76 {
			buf.WriteString(encoded[:76])
			buf.WriteString("\r\n")
			encoded = encoded[76:]
		}
		buf.WriteString(encoded)
		buf.WriteString("\r\n")
	}

	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes()
}
