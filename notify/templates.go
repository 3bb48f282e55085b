package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
)

// Message is a rendered notification.
type Message struct {
	Subject string
	HTML    string
}

type templateData struct {
	AppName string
	Code    string
	Link    string
	Minutes int
}

var bodies = map[goVerify.Purpose]*template.Template{
	goVerify.PurposeLoginOTP: template.Must(template.New("login_otp").Parse(`
<h2>Your {{.AppName}} sign-in code</h2>
<p>Enter this code to sign in:</p>
<p style="font-size:24px;letter-spacing:4px"><strong>{{.Code}}</strong></p>
<p>The code expires in {{.Minutes}} minutes. If you did not try to sign in, you can ignore this email.</p>
`)),
	goVerify.PurposeSecondFactor: template.Must(template.New("second_factor").Parse(`
<h2>{{.AppName}} security code</h2>
<p>Someone signed in to your account. Confirm it is you with this code:</p>
<p style="font-size:24px;letter-spacing:4px"><strong>{{.Code}}</strong></p>
<p>The code expires in {{.Minutes}} minutes. If this was not you, change your password.</p>
`)),
	goVerify.PurposeEmailOwnership: template.Must(template.New("email_ownership").Parse(`
<h2>Confirm your email for {{.AppName}}</h2>
<p>Your confirmation code is <strong>{{.Code}}</strong>.</p>
{{if .Link}}<p>Or confirm with one click: <a href="{{.Link}}">verify my email</a></p>{{end}}
<p>The code expires in {{.Minutes}} minutes.</p>
`)),
}

var subjects = map[goVerify.Purpose]string{
	goVerify.PurposeLoginOTP:       "%s sign-in code",
	goVerify.PurposeSecondFactor:   "%s security code",
	goVerify.PurposeEmailOwnership: "Confirm your %s email",
}

// Render builds the mail for n. now is used to express the expiry in minutes.
func Render(appName string, n goVerify.Notification, now time.Time) (Message, error) {
	tmpl, ok := bodies[n.Purpose]
	if !ok {
		return Message{}, fmt.Errorf("no template for purpose %q", n.Purpose)
	}

	minutes := int(n.ExpiresAt.Sub(now).Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, templateData{
		AppName: appName,
		Code:    n.Code,
		Link:    n.Link,
		Minutes: minutes,
	}); err != nil {
		return Message{}, err
	}

	return Message{
		Subject: fmt.Sprintf(subjects[n.Purpose], appName),
		HTML:    buf.String(),
	}, nil
}
