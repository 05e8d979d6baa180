package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var (
	transcriptTemplate *template.Template
	auditTemplate      *template.Template
)

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}

	transcriptTemplate = template.Must(template.New("transcript").Funcs(funcMap).Parse(transcriptHTML))
	auditTemplate = template.Must(template.New("audit").Funcs(funcMap).Parse(auditHTML))
}

// TranscriptData holds data for transcript template rendering
type TranscriptData struct {
	Title       string
	ProjectName string
	CreatedAt   time.Time
	GeneratedAt time.Time
	Messages    []TranscriptMessage
}

// TranscriptMessage holds one rendered transcript entry
type TranscriptMessage struct {
	Role      string
	Content   string
	Citations []string
	CreatedAt time.Time
}

// AuditData holds data for audit report template rendering
type AuditData struct {
	OrgName     string
	GeneratedAt time.Time
	Entries     []AuditEntryInfo
}

// RenderTranscriptHTML renders the chat transcript template with provided data
func RenderTranscriptHTML(data TranscriptData) (string, error) {
	var buf bytes.Buffer
	if err := transcriptTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderAuditHTML renders the audit report template with provided data
func RenderAuditHTML(data AuditData) (string, error) {
	var buf bytes.Buffer
	if err := auditTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const transcriptHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .message { padding: 1rem; margin: 1rem 0; border-left: 3px solid #ccc; }
    .message.user { border-left-color: #336; background: #f0f2f8; }
    .message.assistant { border-left-color: #363; background: #f2f8f0; }
    .role { font-weight: bold; font-size: 0.85em; text-transform: uppercase; color: #555; }
    .citations { font-size: 0.85em; color: #666; margin-top: 0.5rem; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">
    {{if .ProjectName}}{{.ProjectName}} | {{end}}Started {{formatDate .CreatedAt "Jan 2, 2006 15:04"}} |
    Exported {{formatDate .GeneratedAt "Jan 2, 2006 15:04"}}
  </div>
  {{range .Messages}}
  <div class="message {{lower .Role}}">
    <div class="role">{{.Role}}</div>
    <div>{{.Content}}</div>
    {{if .Citations}}<div class="citations">Sources: {{range $i, $c := .Citations}}{{if $i}}, {{end}}{{$c}}{{end}}</div>{{end}}
  </div>
  {{end}}
</body>
</html>`

const auditHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Audit Report</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 900px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    table { width: 100%; border-collapse: collapse; font-size: 0.85em; }
    th, td { text-align: left; padding: 0.4rem 0.6rem; border-bottom: 1px solid #ddd; }
    th { background: #f5f5f5; }
  </style>
</head>
<body>
  <h1>Audit Report{{if .OrgName}}: {{.OrgName}}{{end}}</h1>
  <div class="meta">Generated {{formatDate .GeneratedAt "Jan 2, 2006 15:04"}}</div>
  <table>
    <tr><th>Time</th><th>Action</th><th>User</th><th>Target</th><th>Request</th></tr>
    {{range .Entries}}
    <tr>
      <td>{{formatDate .CreatedAt "2006-01-02 15:04:05"}}</td>
      <td>{{.Action}}</td>
      <td>{{.UserID}}</td>
      <td>{{.TargetType}}{{if .TargetID}} {{.TargetID}}{{end}}</td>
      <td>{{.RequestID}}</td>
    </tr>
    {{end}}
  </table>
</body>
</html>`
