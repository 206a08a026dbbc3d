package mail

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"
)

// VerificationEmail holds the values rendered into the email verification message.
type VerificationEmail struct {
	AppName   string
	Email     string
	Code      string
	Link      string
	ExpiresIn time.Duration
}

const verificationHTML = `<!DOCTYPE html>
<html>
  <body style="font-family: Arial, sans-serif; background-color: #f6f7fb; padding: 24px;">
    <div style="max-width: 480px; margin: 0 auto; background: #ffffff; border-radius: 8px; padding: 32px;">
      <h2 style="margin-top: 0;">Verify your email</h2>
      <p>Hi {{.Email}},</p>
      <p>Use the code below to verify your {{.AppName}} account:</p>
      <p style="font-size: 32px; letter-spacing: 8px; font-weight: bold; text-align: center;">{{.Code}}</p>
      <p>This code expires in {{minutes .ExpiresIn}} minutes.</p>
      {{- if .Link}}
      <p>Or verify with one click:</p>
      <p style="text-align: center;">
        <a href="{{.Link}}" style="background: #4f46e5; color: #ffffff; padding: 12px 24px; border-radius: 6px; text-decoration: none;">Verify email</a>
      </p>
      {{- end}}
      <p style="color: #6b7280; font-size: 12px;">If you did not create an account, you can ignore this email.</p>
    </div>
  </body>
</html>`

const verificationText = `Hi {{.Email}},

Your {{.AppName}} verification code is {{.Code}}.
It expires in {{minutes .ExpiresIn}} minutes.
{{- if .Link}}

You can also verify by opening this link:
{{.Link}}
{{- end}}

If you did not create an account, you can ignore this email.
`

var (
	templateFuncs = map[string]any{
		"minutes": func(d time.Duration) int {
			return int(d.Round(time.Minute) / time.Minute)
		},
	}
	verificationHTMLTemplate = htmltemplate.Must(htmltemplate.New("verification_html").Funcs(templateFuncs).Parse(verificationHTML))
	verificationTextTemplate = texttemplate.Must(texttemplate.New("verification_text").Funcs(templateFuncs).Parse(verificationText))
)

// RenderVerificationEmail builds the verification message addressed to data.Email.
func RenderVerificationEmail(data VerificationEmail) (Message, error) {
	if strings.TrimSpace(data.AppName) == "" {
		data.AppName = "Visera"
	}

	var html bytes.Buffer
	if err := verificationHTMLTemplate.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("mail: render verification html: %w", err)
	}

	var text bytes.Buffer
	if err := verificationTextTemplate.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("mail: render verification text: %w", err)
	}

	return Message{
		To:       []string{data.Email},
		Subject:  fmt.Sprintf("Verify your %s account", data.AppName),
		Body:     text.String(),
		HTMLBody: html.String(),
	}, nil
}
