// Package notifications delivers governance alerts to Slack and email.
// Payloads carry hashes and rates only, never query text or patient data.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/praktijkzorg/medguard/internal/audit"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Notification struct {
	Title     string
	Message   string
	Severity  Severity
	Data      map[string]any
	Timestamp time.Time
}

type Config struct {
	Slack SlackConfig
	Email EmailConfig
}

type SlackConfig struct {
	Enabled    bool
	WebhookURL string
	Channel    string
}

type EmailConfig struct {
	Enabled  bool
	SMTPHost string
	SMTPPort int
	Username string
	Password string
	From     string
	To       []string
}

type Service struct {
	config Config
	logger *slog.Logger
	client *http.Client
}

func NewService(config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		config: config,
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send delivers the notification to every enabled channel. Channel
// failures are collected, not short-circuited: a broken webhook must not
// silence email.
func (s *Service) Send(ctx context.Context, notif *Notification) error {
	var errs []error

	if s.config.Slack.Enabled {
		if err := s.sendSlack(ctx, notif); err != nil {
			errs = append(errs, fmt.Errorf("slack: %w", err))
		}
	}

	if s.config.Email.Enabled {
		if err := s.sendEmail(notif); err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %v", errs)
	}
	return nil
}

type slackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fallback  string       `json:"fallback,omitempty"`
	Fields    []slackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func severityColor(sev Severity) string {
	switch sev {
	case SeverityCritical:
		return "#FF0000"
	case SeverityWarning:
		return "#FFA500"
	default:
		return "#36A64F"
	}
}

func (s *Service) sendSlack(ctx context.Context, notif *Notification) error {
	var fields []slackField
	for key, value := range notif.Data {
		fields = append(fields, slackField{
			Title: key,
			Value: fmt.Sprintf("%v", value),
			Short: true,
		})
	}

	msg := slackMessage{
		Channel: s.config.Slack.Channel,
		Attachments: []slackAttachment{
			{
				Color:     severityColor(notif.Severity),
				Title:     notif.Title,
				Text:      notif.Message,
				Fallback:  fmt.Sprintf("%s: %s", notif.Title, notif.Message),
				Fields:    fields,
				Footer:    "MedGuard",
				Timestamp: notif.Timestamp.Unix(),
			},
		},
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.Slack.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}

	s.logger.Info("slack notification sent", "title", notif.Title)
	return nil
}

func (s *Service) sendEmail(notif *Notification) error {
	subject := fmt.Sprintf("[MedGuard] %s", notif.Title)

	var body strings.Builder
	body.WriteString(notif.Message + "\r\n\r\n")
	for key, value := range notif.Data {
		body.WriteString(fmt.Sprintf("%s: %v\r\n", key, value))
	}
	body.WriteString(fmt.Sprintf("\r\nGenerated at: %s\r\n", notif.Timestamp.Format(time.RFC1123)))

	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", s.config.Email.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(s.config.Email.To, ",")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("\r\n")
	msg.WriteString(body.String())

	auth := smtp.PlainAuth("", s.config.Email.Username, s.config.Email.Password, s.config.Email.SMTPHost)
	addr := fmt.Sprintf("%s:%d", s.config.Email.SMTPHost, s.config.Email.SMTPPort)

	if err := smtp.SendMail(addr, auth, s.config.Email.From, s.config.Email.To, []byte(msg.String())); err != nil {
		return err
	}

	s.logger.Info("email notification sent", "title", notif.Title, "recipients", len(s.config.Email.To))
	return nil
}

// NotifyGuardrailBlock alerts on a blocked query. Only the hash and check
// name travel; the blocked text stays local.
func (s *Service) NotifyGuardrailBlock(ctx context.Context, entry *audit.GuardrailEventEntry) error {
	notif := &Notification{
		Title:    "Guardrail Block",
		Message:  fmt.Sprintf("A %s check blocked a query", entry.GuardrailType),
		Severity: SeverityWarning,
		Data: map[string]any{
			"guardrail_type": string(entry.GuardrailType),
			"reason":         entry.Reason,
			"query_hash":     entry.QueryHash,
			"role":           string(entry.Role),
		},
		Timestamp: time.Now(),
	}
	return s.Send(ctx, notif)
}

// NotifyIsolationViolation is the loudest alert in the system: patient
// data crossed a context boundary.
func (s *Service) NotifyIsolationViolation(ctx context.Context, entry *audit.PatientIsolationEntry) error {
	notif := &Notification{
		Title:    "Patient Isolation Violation",
		Message:  "A memory access returned data outside the requesting patient context",
		Severity: SeverityCritical,
		Data: map[string]any{
			"requesting_hash": entry.RequestingPatientHash,
			"returned_scopes": len(entry.ReturnedScopeHashes),
			"blocked_count":   entry.BlockedCount,
		},
		Timestamp: time.Now(),
	}
	return s.Send(ctx, notif)
}

// NotifyDailyReport publishes the effectiveness rates for the window.
func (s *Service) NotifyDailyReport(ctx context.Context, report *audit.EffectivenessReport) error {
	sev := SeverityInfo
	if report.IsolationViolations > 0 {
		sev = SeverityCritical
	} else if report.CloudPIIProtection < 1.0 {
		sev = SeverityWarning
	}

	notif := &Notification{
		Title: "Daily Effectiveness Report",
		Message: fmt.Sprintf("%d cloud queries, %d guardrail events, %d isolation checks",
			report.TotalCloudQueries, report.TotalGuardrailEvents, report.TotalIsolationChecks),
		Severity: sev,
		Data: map[string]any{
			"cloud_pii_protection_rate": fmt.Sprintf("%.4f", report.CloudPIIProtection),
			"isolation_success_rate":    fmt.Sprintf("%.4f", report.IsolationSuccess),
			"guardrail_block_rate":      fmt.Sprintf("%.4f", report.GuardrailBlockRate),
		},
		Timestamp: time.Now(),
	}
	return s.Send(ctx, notif)
}
