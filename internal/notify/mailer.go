package notify

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/imrishuroy/grant-access/internal/aws"
)

// Email is a rendered plain-text message.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers rendered email.
type Mailer interface {
	Send(ctx context.Context, e Email) error
}

// SESMailer sends email through SES v2.
type SESMailer struct {
	client aws.SESAPI
	from   string
}

func NewSESMailer(client aws.SESAPI, from string) *SESMailer {
	return &SESMailer{client: client, from: from}
}

func (m *SESMailer) Send(ctx context.Context, e Email) error {
	_, err := m.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: sdkaws.String(m.from),
		Destination: &sestypes.Destination{
			ToAddresses: []string{e.To},
		},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: sdkaws.String(e.Subject)},
				Body: &sestypes.Body{
					Text: &sestypes.Content{Data: sdkaws.String(e.Body)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send email: %w", err)
	}
	return nil
}
