package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"parking-service/internal/config"
	"parking-service/internal/domain/parking"
)

// SMTPNotifier emails violation alerts to the configured authority
// address over STARTTLS with plain auth.
type SMTPNotifier struct {
	cfg config.NotifyConfig
	log zerolog.Logger
}

func NewSMTPNotifier(cfg config.NotifyConfig, log zerolog.Logger) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg, log: log}
}

func (n *SMTPNotifier) Notify(ctx context.Context, alert parking.ViolationAlert) error {
	addr := fmt.Sprintf("%s:%d", n.cfg.SMTPHost, n.cfg.SMTPPort)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, n.cfg.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: n.cfg.SMTPHost}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if n.cfg.Password != "" {
		auth := smtp.PlainAuth("", n.cfg.From, n.cfg.Password, n.cfg.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(n.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(n.cfg.To); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(n.message(alert)); err != nil {
		w.Close()
		return fmt.Errorf("smtp write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close body: %w", err)
	}
	if err := client.Quit(); err != nil {
		return fmt.Errorf("smtp quit: %w", err)
	}

	n.log.Info().
		Str("to", n.cfg.To).
		Int("count", alert.Count).
		Int("capacity", alert.Capacity).
		Msg("capacity alert email sent")
	return nil
}

func (n *SMTPNotifier) message(alert parking.ViolationAlert) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", n.cfg.To)
	b.WriteString("Subject: Parking Capacity Exceeded Alert\r\n")
	b.WriteString("\r\n")
	b.WriteString("ALERT FROM PARKING OCCUPANCY SERVICE\r\n\r\n")
	b.WriteString("Parking capacity has been exceeded.\r\n\r\n")
	fmt.Fprintf(&b, "Maximum capacity : %d\r\n", alert.Capacity)
	fmt.Fprintf(&b, "Current vehicles : %d\r\n", alert.Count)
	fmt.Fprintf(&b, "Detected at      : %s\r\n", alert.Timestamp.Format(time.RFC3339))
	if alert.CameraID != "" {
		fmt.Fprintf(&b, "Camera           : %s\r\n", alert.CameraID)
	}
	if len(alert.Identities) > 0 {
		fmt.Fprintf(&b, "Parked vehicles  : %s\r\n", strings.Join(alert.Identities, ", "))
	}
	b.WriteString("\r\nImmediate action required.\r\n")
	return []byte(b.String())
}
