package forms

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"
	_ "time/tzdata"
)

const siteName = "ostrea.uk"

var displayZone = loadZone("Europe/Amsterdam")

func loadZone(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// formatReceived renders t the way Dutch staff expect, e.g. 18-10-2026, 14:05:03.
func formatReceived(t time.Time) string {
	return t.In(displayZone).Format("2-1-2006, 15:04:05")
}

var funcs = map[string]any{
	"received": formatReceived,
	"lines": func(s string) htmltemplate.HTML {
		return htmltemplate.HTML(strings.ReplaceAll(htmltemplate.HTMLEscapeString(s), "\n", "<br>"))
	},
}

const htmlLayout = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
    .container { max-width: 600px; margin: 0 auto; padding: 20px; }
    .header { background-color: {{.Color}}; color: white; padding: 20px; text-align: center; }
    .content { background-color: #f9f9f9; padding: 20px; margin-top: 20px; }
    .field { margin-bottom: 15px; }
    .label { font-weight: bold; color: #555; }
    .value { margin-top: 5px; }
    .highlight { background-color: #fff3cd; padding: 10px; border-left: 4px solid {{.Color}}; }
    .footer { margin-top: 20px; padding-top: 20px; border-top: 1px solid #ddd; font-size: 12px; color: #777; }
  </style>
</head>
<body>
  <div class="container">
    <div class="header"><h1>{{.Title}}</h1></div>
    <div class="content">
      {{range .Fields}}<div class="field{{if .Highlight}} highlight{{end}}">
        <div class="label">{{.Label}}:</div>
        <div class="value">{{if .Mailto}}<a href="mailto:{{.Value}}">{{.Value}}</a>{{else}}{{lines .Value}}{{end}}</div>
      </div>
      {{end}}
    </div>
    <div class="footer">{{.Footer}}</div>
  </div>
</body>
</html>`

const textLayout = `{{.Heading}}
{{range .Fields}}
{{if .Block}}{{.Label}}:
{{.Value}}
{{else}}{{.Label}}: {{.Value}}{{end}}{{end}}

---
{{.Footer}}`

var (
	htmlTmpl = htmltemplate.Must(htmltemplate.New("html").Funcs(funcs).Parse(htmlLayout))
	textTmpl = texttemplate.Must(texttemplate.New("text").Parse(textLayout))
)

type field struct {
	Label     string
	Value     string
	Mailto    bool
	Highlight bool
	Block     bool
}

type notification struct {
	Title   string
	Heading string
	Color   htmltemplate.CSS
	Fields  []field
	Footer  string
}

// Rendered is a ready to send notification body pair.
type Rendered struct {
	Subject  string
	HTMLBody string
	TextBody string
}

func ContactNotification(s ContactSubmission) (Rendered, error) {
	fields := []field{
		{Label: "Naam", Value: s.Name},
		{Label: "E-mail", Value: s.Email, Mailto: true},
	}
	if s.Phone != "" {
		fields = append(fields, field{Label: "Telefoon", Value: s.Phone})
	}
	fields = append(fields,
		field{Label: "Bericht", Value: s.Message, Block: true},
		field{Label: "Ontvangen op", Value: formatReceived(s.CreatedAt)},
	)
	return render("Nieuw contactformulier: "+s.Name, notification{
		Title:   "Nieuw Contactformulier",
		Heading: "NIEUW CONTACTFORMULIER",
		Color:   "#7AAC2D",
		Fields:  fields,
		Footer:  "Dit bericht is verzonden via het contactformulier op " + siteName,
	})
}

func IntakeNotification(s IntakeSubmission) (Rendered, error) {
	fields := []field{
		{Label: "Naam", Value: s.Name},
		{Label: "E-mail", Value: s.Email, Mailto: true},
	}
	if s.Phone != "" {
		fields = append(fields, field{Label: "Telefoon", Value: s.Phone})
	}
	if s.CompanyName != "" {
		fields = append(fields, field{Label: "Bedrijfsnaam", Value: s.CompanyName})
	}
	if s.ServiceType.Valid() {
		fields = append(fields, field{Label: "Gewenste dienst", Value: s.ServiceType.Label(), Highlight: true})
	}
	if s.Message != "" {
		fields = append(fields, field{Label: "Aanvullende informatie", Value: s.Message, Block: true})
	}
	fields = append(fields, field{Label: "Ontvangen op", Value: formatReceived(s.CreatedAt)})
	return render("Nieuwe intake aanvraag: "+s.Name, notification{
		Title:   "Nieuwe Intake Aanvraag",
		Heading: "NIEUWE INTAKE AANVRAAG",
		Color:   "#C9A84C",
		Fields:  fields,
		Footer:  "Dit bericht is verzonden via het intake formulier op " + siteName,
	})
}

func render(subject string, n notification) (Rendered, error) {
	var html, text bytes.Buffer
	if err := htmlTmpl.Execute(&html, n); err != nil {
		return Rendered{}, fmt.Errorf("render html notification: %w", err)
	}
	if err := textTmpl.Execute(&text, n); err != nil {
		return Rendered{}, fmt.Errorf("render text notification: %w", err)
	}
	return Rendered{
		Subject:  subject,
		HTMLBody: html.String(),
		TextBody: strings.TrimSpace(text.String()),
	}, nil
}
