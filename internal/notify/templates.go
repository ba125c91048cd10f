package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

type emailTemplate struct {
	subject *template.Template
	body    *template.Template
}

var funcs = template.FuncMap{
	"money": formatMoney,
}

func mustTemplate(kind Kind, subject, body string) emailTemplate {
	return emailTemplate{
		subject: template.Must(template.New(string(kind) + "_subject").Funcs(funcs).Parse(subject)),
		body:    template.Must(template.New(string(kind) + "_body").Funcs(funcs).Parse(body)),
	}
}

var templates = map[Kind]emailTemplate{
	KindAccessRequested: mustTemplate(KindAccessRequested,
		`New access request for listing {{.N.ListingID}}`,
		`{{if .N.AgentName}}{{.N.AgentName}}{{else}}Agent {{.N.AgentID}}{{end}}{{if .N.AgentEmail}} ({{.N.AgentEmail}}){{end}} requested renter details for listing {{.N.ListingID}}.

Request: {{.N.RequestID}}
Approve for free, charge, or reject it from the admin dashboard.
`),
	KindAccessRejected: mustTemplate(KindAccessRejected,
		`Your access request was not approved`,
		`Hi {{.Name}},

Your request for renter details on listing {{.N.ListingID}} was not approved.
{{if .N.Notes}}
Notes from our team: {{.N.Notes}}
{{end}}`),
	KindAccessApproved: mustTemplate(KindAccessApproved,
		`Access granted for listing {{.N.ListingID}}`,
		`Hi {{.Name}},

You now have access to the renter details for listing {{.N.ListingID}} at no charge.
{{if .N.Notes}}
Notes from our team: {{.N.Notes}}
{{end}}`),
	KindPaymentRequired: mustTemplate(KindPaymentRequired,
		`Complete payment to access listing {{.N.ListingID}}`,
		`Hi {{.Name}},

Your request for listing {{.N.ListingID}} was approved for a fee of {{money .N.AmountCents .N.Currency}}.
Complete payment here: {{.N.PaymentLink}}
{{if .N.Notes}}
Notes from our team: {{.N.Notes}}
{{end}}`),
	KindPaymentSucceeded: mustTemplate(KindPaymentSucceeded,
		`Payment received for listing {{.N.ListingID}}`,
		`Hi {{.Name}},

We received your payment of {{money .N.AmountCents .N.Currency}}. Renter details for listing {{.N.ListingID}} are now available to you.
`),
	KindPaymentFailed: mustTemplate(KindPaymentFailed,
		`Payment failed for listing {{.N.ListingID}}`,
		`Hi {{.Name}},

Your payment for listing {{.N.ListingID}} did not go through{{if .N.Reason}}: {{.N.Reason}}{{end}}.
{{if gt .N.AttemptsRemaining 0}}You have {{.N.AttemptsRemaining}} attempt(s) left. Retry here: {{.N.PaymentLink}}{{else}}No payment attempts remain. Please contact support.{{end}}
`),
}

type templateData struct {
	Name string
	N    Notification
}

// Render produces the subject and plain-text body for n addressed to name.
func Render(n Notification, name string) (subject, body string, err error) {
	tpl, ok := templates[n.Kind()]
	if !ok {
		return "", "", fmt.Errorf("no template for %q", n.Kind())
	}
	if name == "" {
		name = "there"
	}
	data := templateData{Name: name, N: n}

	var sb, bb bytes.Buffer
	if err := tpl.subject.Execute(&sb, data); err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", n.Kind(), err)
	}
	if err := tpl.body.Execute(&bb, data); err != nil {
		return "", "", fmt.Errorf("render %s body: %w", n.Kind(), err)
	}
	return strings.TrimSpace(sb.String()), bb.String(), nil
}

func formatMoney(cents int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", cents/100, cents%100, strings.ToUpper(currency))
}
