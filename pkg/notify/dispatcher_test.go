package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-portal-api/internal/models"
)

type recordingSender struct {
	mu       sync.Mutex
	sent     []models.Notification
	failures int
}

func (s *recordingSender) Send(ctx context.Context, n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("delivery failed")
	}
	s.sent = append(s.sent, n)
	return nil
}

func (s *recordingSender) delivered() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Notification, len(s.sent))
	copy(out, s.sent)
	return out
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []bool
}

func (o *recordingObserver) ObserveDelivery(channel models.NotificationChannel, delivered bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, delivered)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestDispatcherDeliversByChannel(t *testing.T) {
	email := &recordingSender{}
	sms := &recordingSender{}
	d := NewDispatcher(map[models.NotificationChannel]Sender{
		models.ChannelEmail: email,
		models.ChannelSMS:   sms,
	}, DispatcherConfig{Workers: 2})

	ctx := context.Background()
	d.Start(ctx)
	defer d.Stop()

	d.Dispatch(ctx,
		models.Notification{Channel: models.ChannelEmail, Recipient: "a@example.com", Subject: "hi"},
		models.Notification{Channel: models.ChannelSMS, Recipient: "+62811", Body: "hi"},
	)

	waitFor(t, time.Second, func() bool {
		return len(email.delivered()) == 1 && len(sms.delivered()) == 1
	})
	assert.Equal(t, "a@example.com", email.delivered()[0].Recipient)
	assert.Equal(t, "+62811", sms.delivered()[0].Recipient)
}

func TestDispatcherSkipsEmptyRecipient(t *testing.T) {
	email := &recordingSender{}
	d := NewDispatcher(map[models.NotificationChannel]Sender{
		models.ChannelEmail: email,
	}, DispatcherConfig{Workers: 1})

	ctx := context.Background()
	d.Start(ctx)
	defer d.Stop()

	d.Dispatch(ctx, models.Notification{Channel: models.ChannelEmail, Recipient: "", Subject: "ghost"})
	d.Dispatch(ctx, models.Notification{Channel: models.ChannelEmail, Recipient: "a@example.com", Subject: "real"})

	waitFor(t, time.Second, func() bool { return len(email.delivered()) == 1 })
	assert.Equal(t, "real", email.delivered()[0].Subject)
}

func TestDispatcherRetriesThenSucceeds(t *testing.T) {
	email := &recordingSender{failures: 2}
	observer := &recordingObserver{}
	d := NewDispatcher(map[models.NotificationChannel]Sender{
		models.ChannelEmail: email,
	}, DispatcherConfig{Workers: 1, MaxRetries: 3, RetryDelay: 10 * time.Millisecond, Observer: observer})

	ctx := context.Background()
	d.Start(ctx)
	defer d.Stop()

	d.Dispatch(ctx, models.Notification{Channel: models.ChannelEmail, Recipient: "a@example.com"})

	waitFor(t, 2*time.Second, func() bool { return len(email.delivered()) == 1 })
}

func TestDispatcherDropsAfterMaxRetries(t *testing.T) {
	email := &recordingSender{failures: 10}
	observer := &recordingObserver{}
	d := NewDispatcher(map[models.NotificationChannel]Sender{
		models.ChannelEmail: email,
	}, DispatcherConfig{Workers: 1, MaxRetries: 1, RetryDelay: 10 * time.Millisecond, Observer: observer})

	ctx := context.Background()
	d.Start(ctx)
	defer d.Stop()

	d.Dispatch(ctx, models.Notification{Channel: models.ChannelEmail, Recipient: "a@example.com"})

	waitFor(t, 2*time.Second, func() bool {
		observer.mu.Lock()
		defer observer.mu.Unlock()
		return len(observer.outcomes) == 1
	})
	observer.mu.Lock()
	defer observer.mu.Unlock()
	assert.False(t, observer.outcomes[0], "observed as dropped")
	assert.Empty(t, email.delivered())
}

func TestDispatcherUnstartedDrops(t *testing.T) {
	email := &recordingSender{}
	d := NewDispatcher(map[models.NotificationChannel]Sender{
		models.ChannelEmail: email,
	}, DispatcherConfig{Workers: 1})

	d.Dispatch(context.Background(), models.Notification{Channel: models.ChannelEmail, Recipient: "a@example.com"})
	assert.Empty(t, email.delivered())
}
