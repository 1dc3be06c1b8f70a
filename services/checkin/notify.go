package checkin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/smtp"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel/codes"
)

// Notifier delivers a finished run's report somewhere a human will see
// it. Delivery failures never change the report.
type Notifier interface {
	Send(ctx context.Context, report *Report) error
}

// FanOut sends the report through every notifier and joins the
// failures, so one broken channel does not silence the others.
func FanOut(ctx context.Context, report *Report, notifiers []Notifier) error {
	var errs []error
	for _, n := range notifiers {
		err := n.Send(ctx, report)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ConsoleNotifier renders the report as a table on the given writer.
type ConsoleNotifier struct {
	Out io.Writer
}

func (n ConsoleNotifier) Send(ctx context.Context, report *Report) error {
	out := n.Out
	if out == nil {
		out = os.Stdout
	}
	_, err := fmt.Fprint(out, renderReportTable(report))
	return err
}

func renderReportTable(report *Report) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Account", "Provider", "Status", "Attempts", "Detail"})
	for _, o := range report.Outcomes {
		t.AppendRow(table.Row{o.Account, o.Provider, string(o.Status), o.Attempts, o.Detail})
	}

	counts := report.Counts()
	elapsed := report.FinishedAt.Sub(report.StartedAt).Round(time.Second)
	t.AppendFooter(table.Row{
		"", "",
		fmt.Sprintf("%d ok / %d failed / %d skipped", counts.Success, counts.Failed, counts.Skipped),
		"", elapsed.String(),
	})
	return t.Render() + "\n"
}

type SmtpConfig struct {
	Server       string `json:"server"`
	Port         int    `json:"port"`
	EmailAddress string `json:"email_address"`
	Password     string `json:"password"`
	To           string `json:"to"`
}

// EmailNotifier mails the rendered table as plain text.
type EmailNotifier struct {
	Config SmtpConfig
}

func (n EmailNotifier) Send(ctx context.Context, report *Report) error {
	_, span := tracer.Start(ctx, "EmailNotifier:Send")
	defer span.End()

	counts := report.Counts()

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("checkind <%s>", n.Config.EmailAddress)
	mail.To = []string{n.Config.To}
	mail.Subject = fmt.Sprintf("check-in report: %d ok, %d failed, %d skipped",
		counts.Success, counts.Failed, counts.Skipped)
	mail.Text = []byte(renderReportTable(report))

	addr := fmt.Sprintf("%s:%d", n.Config.Server, n.Config.Port)
	err := mail.Send(
		addr,
		smtp.PlainAuth("", n.Config.EmailAddress, n.Config.Password, n.Config.Server),
	)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return fmt.Errorf("email notifier: %w", err)
	}
	return nil
}

// WebhookNotifier posts the report as JSON to a user-supplied URL.
type WebhookNotifier struct {
	Url    string
	client *resty.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	client := resty.New()
	client.SetTimeout(time.Second * 30)
	return &WebhookNotifier{Url: url, client: client}
}

func (n *WebhookNotifier) Send(ctx context.Context, report *Report) error {
	ctx, span := tracer.Start(ctx, "WebhookNotifier:Send")
	defer span.End()

	res, err := n.client.R().
		SetContext(ctx).
		SetHeader("content-type", "application/json").
		SetBody(report).
		Post(n.Url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook request failed")
		return fmt.Errorf("webhook notifier: %w", err)
	}
	if res.StatusCode() >= 400 {
		span.SetStatus(codes.Error, "webhook rejected the report")
		return fmt.Errorf("webhook notifier: got status %d", res.StatusCode())
	}
	return nil
}
