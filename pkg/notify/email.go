package notify

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/noah-isme/sma-portal-api/internal/models"
	appErrors "github.com/noah-isme/sma-portal-api/pkg/errors"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// EmailSender delivers email notifications through SendGrid.
type EmailSender struct {
	key  string
	from *sgmail.Email
}

// NewEmailSender constructs a SendGrid-backed email sender.
func NewEmailSender(key, fromName, fromEmail string) *EmailSender {
	return &EmailSender{
		key:  key,
		from: sgmail.NewEmail(fromName, fromEmail),
	}
}

// Send delivers one email notification.
func (s *EmailSender) Send(ctx context.Context, n models.Notification) error {
	p := sgmail.NewPersonalization()
	p.Subject = n.Subject
	p.AddTos(sgmail.NewEmail("", n.Recipient))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", n.Body))

	for _, a := range n.Attachments {
		m.AddAttachment(&sgmail.Attachment{
			Content:     base64.StdEncoding.EncodeToString(a.Content),
			Type:        a.ContentType,
			Filename:    a.Filename,
			Disposition: "attachment",
		})
	}

	req := sendgrid.GetRequest(s.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m)

	res, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrDelivery.Code, appErrors.ErrDelivery.Status, "sendgrid request failed")
	}
	if res.StatusCode >= http.StatusBadRequest {
		return appErrors.Clone(appErrors.ErrDelivery, fmt.Sprintf("sendgrid responded %d", res.StatusCode))
	}
	return nil
}
