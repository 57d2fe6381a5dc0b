package notify

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"strings"
	texttemplate "text/template"
	"time"

	"preptracker/internal/config"
	"preptracker/internal/model"

	"gopkg.in/gomail.v2"
)

// mailer 抽象 gomail.Dialer，测试中替换为内存实现。
type mailer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailNotifier 通过 SMTP 发送提醒邮件。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
	mailer mailer
}

// NewEmailNotifier 创建邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	n := &EmailNotifier{cfg: cfg, logger: logger}
	if cfg != nil {
		n.mailer = gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
	}
	return n
}

// Configured 报告 SMTP 配置是否完整。
func (n *EmailNotifier) Configured() bool {
	return n.cfg != nil && n.cfg.SMTPHost != "" && n.cfg.SMTPUser != "" && n.cfg.FromEmail != ""
}

// SendTaskReminder 发送任务到期提醒。配置或收件人缺失时记录日志并跳过。
func (n *EmailNotifier) SendTaskReminder(ctx context.Context, target *model.ReminderTarget) error {
	if !n.Configured() {
		n.logger.Warn("email config missing, skip notification")
		return nil
	}
	if target == nil || strings.TrimSpace(target.Email) == "" {
		n.logger.Warn("email recipient empty, skip notification")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m, err := n.compose(target)
	if err != nil {
		return err
	}
	if err := n.mailer.DialAndSend(m); err != nil {
		return fmt.Errorf("send reminder for task %s: %w", target.TaskID, err)
	}

	n.logger.Info("reminder email sent",
		slog.String("task_id", target.TaskID),
		slog.String("user_id", target.UserID))
	return nil
}

func (n *EmailNotifier) compose(target *model.ReminderTarget) (*gomail.Message, error) {
	view := newReminderView(target)

	var text, html bytes.Buffer
	if err := reminderText.Execute(&text, view); err != nil {
		return nil, fmt.Errorf("render reminder text: %w", err)
	}
	if err := reminderHTML.Execute(&html, view); err != nil {
		return nil, fmt.Errorf("render reminder html: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", target.Email)
	m.SetHeader("Subject", fmt.Sprintf("[PrepTracker] Due %s: %s", view.DueShort, target.Title))
	m.SetBody("text/plain", text.String())
	m.AddAlternative("text/html", html.String())
	return m, nil
}

type reminderView struct {
	Name     string
	Title    string
	TaskType string
	Topic    string
	Status   string
	Company  string
	Due      string
	DueShort string
}

func newReminderView(t *model.ReminderTarget) reminderView {
	v := reminderView{
		Name:     t.UserName,
		Title:    t.Title,
		TaskType: t.TaskType,
		Topic:    t.Topic,
		Status:   string(t.Status),
		Company:  t.CompanyName,
		Due:      t.DueDate.UTC().Format(time.RFC1123),
		DueShort: t.DueDate.UTC().Format("Jan 2"),
	}
	if v.Name == "" {
		v.Name = "there"
	}
	if v.Company == "" {
		v.Company = "Not linked"
	}
	return v
}

var reminderText = texttemplate.Must(texttemplate.New("reminder.txt").Parse(`Hi {{.Name}},

"{{.Title}}" is due {{.Due}}.

Type:    {{.TaskType}}
Topic:   {{.Topic}}
Status:  {{.Status}}
Company: {{.Company}}

You receive this because the task is due soon and not marked DONE.
`))

var reminderHTML = htmltemplate.Must(htmltemplate.New("reminder.html").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8" />
<style>
  body { font-family: Arial, sans-serif; background: #f6f7fb; color: #1f2937; }
  .card { max-width: 600px; margin: 24px auto; background: #fff; border: 1px solid #e5e7eb; border-radius: 12px; }
  .header { background: #0f172a; color: #fff; padding: 16px 20px; font-weight: bold; }
  .content { padding: 20px; }
  .due { color: #ef4444; margin-bottom: 16px; }
  td.k { color: #6b7280; width: 120px; padding: 6px 0; }
  .footer { margin-top: 20px; font-size: 12px; color: #6b7280; }
</style>
</head>
<body>
  <div class="card">
    <div class="header">[PrepTracker] Task reminder</div>
    <div class="content">
      <p>Hi {{.Name}},</p>
      <h2>{{.Title}}</h2>
      <div class="due">Due {{.Due}}</div>
      <table>
        <tr><td class="k">Type</td><td>{{.TaskType}}</td></tr>
        <tr><td class="k">Topic</td><td>{{.Topic}}</td></tr>
        <tr><td class="k">Status</td><td>{{.Status}}</td></tr>
        <tr><td class="k">Company</td><td>{{.Company}}</td></tr>
      </table>
      <div class="footer">You receive this because the task is due soon and not marked DONE.</div>
    </div>
  </div>
</body>
</html>`))
