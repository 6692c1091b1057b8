package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/noah-isme/sma-portal-api/internal/models"
	appErrors "github.com/noah-isme/sma-portal-api/pkg/errors"
)

// SMSSender pushes SMS notifications to the school's SMS gateway over HTTP.
type SMSSender struct {
	gatewayURL string
	token      string
	client     *http.Client
}

// NewSMSSender constructs an SMS gateway sender.
func NewSMSSender(gatewayURL, token string) *SMSSender {
	return &SMSSender{
		gatewayURL: gatewayURL,
		token:      token,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type smsPayload struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// Send delivers one SMS notification. Subject is ignored: SMS carries body only.
func (s *SMSSender) Send(ctx context.Context, n models.Notification) error {
	payload, err := json.Marshal(smsPayload{To: n.Recipient, Message: n.Body})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrDelivery.Code, appErrors.ErrDelivery.Status, "failed to encode sms payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gatewayURL, bytes.NewReader(payload))
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrDelivery.Code, appErrors.ErrDelivery.Status, "failed to build sms request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	res, err := s.client.Do(req)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrDelivery.Code, appErrors.ErrDelivery.Status, "sms gateway request failed")
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		return appErrors.Clone(appErrors.ErrDelivery, fmt.Sprintf("sms gateway responded %d", res.StatusCode))
	}
	return nil
}
