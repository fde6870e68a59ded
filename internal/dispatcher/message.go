package dispatcher

import (
	"bytes"
	"text/template"

	"github.com/jmehdipour/tokengen/internal/model"
)

var (
	subjectTpl = template.Must(template.New("subject").Parse(`Your {{.TierName}} access token is ready`))
	bodyTpl    = template.Must(template.New("body").Parse(`Hello,

Your payment has been confirmed and your {{.TierName}} token is active.

Token:    {{.Secret}}
Requests: {{.Quota}}
Expires:  {{if .ExpiresAt}}{{.ExpiresAt.Format "2006-01-02 15:04 MST"}}{{else}}never{{end}}

Keep this token private. Anyone holding it can spend its requests.
`))
)

// Message is a rendered notification.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

func Render(env model.TokenIssued) (Message, error) {
	var subject, body bytes.Buffer
	if err := subjectTpl.Execute(&subject, env); err != nil {
		return Message{}, err
	}
	if err := bodyTpl.Execute(&body, env); err != nil {
		return Message{}, err
	}
	return Message{To: env.Recipient, Subject: subject.String(), Text: body.String()}, nil
}
