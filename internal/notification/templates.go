package notification

import (
	"strings"
	"text/template"

	"github.com/jonnyallum/safeguardian/internal/alerting"
)

// templateData is what the notification templates may reference.
type templateData struct {
	AlertID         string
	ChildID         string
	SessionID       string
	Severity        string
	RiskLevel       string
	Confidence      float64
	Title           string
	Description     string
	Recommendations []string
	EscalationLevel string
	Urgent          bool
}

var emailSubjectTmpl = template.Must(template.New("email_subject").Parse(
	`{{if .Urgent}}URGENT: {{end}}SafeGuardian Alert - {{.Severity}} risk detected`,
))

var emailBodyTmpl = template.Must(template.New("email_body").Parse(
	`A {{.Severity}} severity alert has been raised for child {{.ChildID}}.

Alert ID: {{.AlertID}}
Session: {{.SessionID}}
Risk level: {{.RiskLevel}}
Confidence: {{printf "%.2f" .Confidence}}
Current escalation level: {{.EscalationLevel}}

{{.Description}}
{{if .Recommendations}}
Recommended actions:
{{range .Recommendations}}  - {{.}}
{{end}}{{end}}
Please review this alert in the SafeGuardian dashboard immediately.
`,
))

var smsBodyTmpl = template.Must(template.New("sms_body").Parse(
	`SafeGuardian: {{.Severity}} risk detected for child {{.ChildID}}. Alert {{.AlertID}}. Check the dashboard immediately.`,
))

func dataFor(alert *alerting.Alert) templateData {
	return templateData{
		AlertID:         alert.ID,
		ChildID:         alert.ChildID,
		SessionID:       alert.SessionID,
		Severity:        strings.ToUpper(string(alert.Severity)),
		RiskLevel:       alert.RiskLevel,
		Confidence:      alert.Confidence,
		Title:           alert.Title,
		Description:     alert.Description,
		Recommendations: alert.Recommendations,
		EscalationLevel: string(alert.EscalationLevel),
		Urgent:          alert.Severity.AtLeast(alerting.SeverityCritical),
	}
}

func renderEmail(alert *alerting.Alert) (subject, body string) {
	data := dataFor(alert)
	var s, b strings.Builder
	if err := emailSubjectTmpl.Execute(&s, data); err != nil {
		s.Reset()
		s.WriteString("SafeGuardian Alert")
	}
	if err := emailBodyTmpl.Execute(&b, data); err != nil {
		b.Reset()
		b.WriteString(alert.Description)
	}
	return s.String(), b.String()
}

func renderSMS(alert *alerting.Alert) string {
	var b strings.Builder
	if err := smsBodyTmpl.Execute(&b, dataFor(alert)); err != nil {
		return "SafeGuardian alert raised. Check the dashboard."
	}
	return b.String()
}
