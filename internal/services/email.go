package services

import (
	"bytes"
	"fmt"
	"html"
	"net/smtp"
	"strings"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"talwar/internal/booking"
	"talwar/internal/config"
)

// EmailService handles sending emails
type EmailService struct {
	cfg    *config.EmailConfig
	logger *zap.Logger
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailService creates a new email service
func NewEmailService(cfg *config.EmailConfig, logger *zap.Logger) *EmailService {
	return &EmailService{cfg: cfg, logger: logger.Named("email"), send: smtp.SendMail}
}

// SendBookingNotification tells the studio about a new consultation request
func (s *EmailService) SendBookingNotification(p booking.Payload, id booking.RecordID) error {
	subject := fmt.Sprintf("New Consultation Booking from %s", p.Name)
	return s.SendHTMLEmail(s.cfg.NotifyEmail, subject, bookingNotificationHTML(p, id), bookingNotificationText(p, id))
}

func orNotProvided(v *string) string {
	if v == nil || *v == "" {
		return "Not provided"
	}
	return *v
}

func preferredTime(v *string) string {
	if v == nil || *v == "" {
		return "Not provided"
	}
	return booking.TimeSlot(*v).Label()
}

func bookingNotificationText(p booking.Payload, id booking.RecordID) string {
	return fmt.Sprintf(`New Consultation Booking

Name: %s
Email: %s
Phone: %s
Preferred Date: %s
Preferred Time: %s
Submitted: %s

Vision:
%s

Booking ID: #%s`, p.Name, p.Email, p.Phone, orNotProvided(p.Date), preferredTime(p.Time),
		p.CreatedAt.Format("January 2, 2006 at 3:04 PM MST"), orNotProvided(p.Message), id)
}

func bookingNotificationHTML(p booking.Payload, id booking.RecordID) string {
	esc := html.EscapeString
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>New Consultation Booking</title>
</head>
<body style="font-family: 'Cinzel', Georgia, serif; line-height: 1.6; color: #334155;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2 style="color: #b08c1d;">New Consultation Booking</h2>
        <div style="background: #F8FAFC; padding: 20px; border-radius: 8px; margin: 20px 0; border: 1px solid rgba(212,175,55,0.3);">
            <p><strong>Name:</strong> %s</p>
            <p><strong>Email:</strong> <a href="mailto:%s">%s</a></p>
            <p><strong>Phone:</strong> %s</p>
            <p><strong>Preferred Date:</strong> %s</p>
            <p><strong>Preferred Time:</strong> %s</p>
            <p><strong>Submitted:</strong> %s</p>
        </div>
        <div style="background: #FFFFFF; padding: 20px; border-left: 4px solid #d4af37; border-radius: 4px; margin: 20px 0;">
            <h3 style="margin-top: 0;">Vision:</h3>
            <p style="white-space: pre-wrap;">%s</p>
        </div>
        <p style="color: #64748B; font-size: 14px;">Booking ID: #%s</p>
    </div>
</body>
</html>`, esc(p.Name), esc(p.Email), esc(p.Email), esc(p.Phone), esc(orNotProvided(p.Date)), esc(preferredTime(p.Time)),
		p.CreatedAt.Format("January 2, 2006 at 3:04 PM MST"), esc(orNotProvided(p.Message)), esc(id.String()))
}

// SendHTMLEmail sends an HTML email with plain text fallback
func (s *EmailService) SendHTMLEmail(to, subject, htmlBody, textBody string) error {
	subject = headerValue(subject)
	if !s.cfg.Enabled {
		s.logger.Info("email disabled, not sending", zap.String("to", to))
		return nil
	}

	if s.cfg.SMTPHost == "" || s.cfg.Username == "" || s.cfg.Password == "" {
		return fmt.Errorf("email service not properly configured")
	}
	if to == "" {
		return fmt.Errorf("email recipient not configured")
	}

	msg := mail.NewMsg(mail.WithEncoding(mail.NoEncoding))
	var err error
	if s.cfg.FromName != "" {
		err = msg.FromFormat(headerValue(s.cfg.FromName), s.cfg.FromEmail)
	} else {
		err = msg.From(s.cfg.FromEmail)
	}
	if err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(subject)
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, textBody)
	if htmlBody != "" {
		msg.AddAlternativeString(mail.TypeTextHTML, htmlBody)
	}

	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		return fmt.Errorf("failed to build email: %w", err)
	}

	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.SMTPHost)
	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)
	if err := s.send(addr, auth, s.cfg.FromEmail, []string{to}, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// headerValue folds a value onto one line so it cannot start a new header
func headerValue(v string) string {
	return strings.Join(strings.Fields(v), " ")
}
