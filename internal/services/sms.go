package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"talwar/internal/booking"
	"talwar/internal/config"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// SMSService sends booking acknowledgements to customers
type SMSService struct {
	cfg     *config.SMSConfig
	logger  *zap.Logger
	client  *http.Client
	apiBase string
}

// NewSMSService creates a new SMS service
func NewSMSService(cfg *config.SMSConfig, logger *zap.Logger) *SMSService {
	return &SMSService{
		cfg:     cfg,
		logger:  logger.Named("sms"),
		client:  &http.Client{Timeout: 10 * time.Second},
		apiBase: twilioAPIBase,
	}
}

// SendBookingAcknowledgement tells the customer their request was received
func (s *SMSService) SendBookingAcknowledgement(phoneNumber string, id booking.RecordID) error {
	message := "Talwar Interiors: we received your consultation request"
	if id != "" {
		message += fmt.Sprintf(" (booking #%s)", id)
	}
	message += ". Our design team will contact you shortly."

	if !s.cfg.Enabled {
		s.logger.Info("sms disabled, not sending", zap.String("booking_id", id.String()))
		return nil
	}

	switch strings.ToLower(s.cfg.Provider) {
	case "twilio":
		return s.sendViaTwilio(phoneNumber, message)
	case "console", "dev", "development":
		s.logger.Info("sms", zap.String("to", phoneNumber), zap.String("body", message))
		return nil
	default:
		return fmt.Errorf("unsupported SMS provider: %s", s.cfg.Provider)
	}
}

// sendViaTwilio sends SMS via Twilio API
func (s *SMSService) sendViaTwilio(phoneNumber, message string) error {
	if s.cfg.TwilioSID == "" || s.cfg.TwilioAuth == "" || s.cfg.TwilioFrom == "" {
		return fmt.Errorf("twilio not properly configured")
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", s.apiBase, s.cfg.TwilioSID)

	form := url.Values{}
	form.Set("From", s.cfg.TwilioFrom)
	form.Set("To", normalizePhone(phoneNumber))
	form.Set("Body", message)

	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(s.cfg.TwilioSID, s.cfg.TwilioAuth)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send SMS request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		var errorResp map[string]interface{}
		_ = json.NewDecoder(resp.Body).Decode(&errorResp)
		return fmt.Errorf("twilio API error (status %d): %v", resp.StatusCode, errorResp)
	}
	return nil
}

// normalizePhone strips formatting and assumes an Indian number when no
// country code is given
func normalizePhone(phone string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		if r >= '0' && r <= '9' || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case strings.HasPrefix(digits, "+"):
		return digits
	case len(digits) == 12 && strings.HasPrefix(digits, "91"):
		return "+" + digits
	case len(digits) == 11 && strings.HasPrefix(digits, "0"):
		return "+91" + digits[1:]
	default:
		return "+91" + digits
	}
}
