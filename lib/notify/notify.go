// Package notify mails the run summary to the operator. Checkin runs
// happen on schedulers nobody watches, the email is how a quietly
// expiring account surfaces.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"checkin-backend/lib/engine"
	"checkin-backend/lib/report"
	"checkin-backend/lib/telemetry"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("checkin.lib.notify")

type SmtpConfig struct {
	Server       string `json:"server"`
	Port         int    `json:"port"`
	EmailAddress string `json:"email_address"`
	Password     string `json:"password"`
	To           string `json:"to"`
}

// Enabled reports whether the config is complete enough to send;
// notification is strictly optional.
func (c SmtpConfig) Enabled() bool {
	return c.Server != "" && c.EmailAddress != "" && c.To != ""
}

// SendSummary mails one plain-text summary for the whole batch of
// runs.
func SendSummary(ctx context.Context, cfg SmtpConfig, runs []engine.RunReport) error {
	_, span := tracer.Start(ctx, "SendSummary")
	defer span.End()

	succeeded, total := 0, 0
	for _, run := range runs {
		succeeded += run.Succeeded
		total += run.Total
	}

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Checkin Bot <%s>", cfg.EmailAddress)
	mail.To = []string{cfg.To}
	mail.Subject = fmt.Sprintf("Checkin summary: %d/%d succeeded", succeeded, total)
	mail.Text = []byte(report.Summarize(runs))

	addr := fmt.Sprintf("%s:%d", cfg.Server, cfg.Port)
	err := mail.Send(addr, smtp.PlainAuth("", cfg.EmailAddress, cfg.Password, cfg.Server))
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send summary email")
		return err
	}
	return nil
}
