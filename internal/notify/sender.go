package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/sourcegraph/conc/pool"

	"github.com/kazz187/taskmux/internal/config"
)

const (
	pushTTL         = 24 * 60 * 60
	maxParallelPush = 4
)

type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

type Sender struct {
	vapid  *config.VAPIDEnv
	subs   *Subscriptions
	client webpush.HTTPClient
}

type SenderOption func(*Sender)

// WithHTTPClient replaces the client push requests go through.
func WithHTTPClient(c webpush.HTTPClient) SenderOption {
	return func(s *Sender) { s.client = c }
}

func NewSender(vapid *config.VAPIDEnv, subs *Subscriptions, opts ...SenderOption) *Sender {
	s := &Sender{vapid: vapid, subs: subs}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SendToAll pushes payload to every subscription. Subscriptions the push
// service reports as gone are deleted.
func (s *Sender) SendToAll(ctx context.Context, payload *Payload) {
	if !s.vapid.Enabled() {
		slog.DebugContext(ctx, "push notification skipped, VAPID keys not configured")
		return
	}
	subs, err := s.subs.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list push subscriptions", "error", err)
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal push payload", "error", err)
		return
	}

	p := pool.New().WithMaxGoroutines(maxParallelPush)
	for _, sub := range subs {
		p.Go(func() { s.send(ctx, sub, data) })
	}
	p.Wait()
}

func (s *Sender) send(ctx context.Context, sub *Subscription, data []byte) {
	resp, err := webpush.SendNotificationWithContext(ctx, data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.P256dhKey, Auth: sub.AuthKey},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      strings.TrimPrefix(s.vapid.VAPIDContact, "mailto:"),
		TTL:             pushTTL,
		VAPIDPublicKey:  s.vapid.VAPIDPublicKey,
		VAPIDPrivateKey: s.vapid.VAPIDPrivateKey,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to send push notification", "endpoint", sub.Endpoint, "error", err)
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		slog.InfoContext(ctx, "push subscription expired, removing", "subscription_id", sub.ID)
		if err := s.subs.Delete(ctx, sub.ID); err != nil {
			slog.ErrorContext(ctx, "failed to delete expired push subscription", "subscription_id", sub.ID, "error", err)
		}
	case resp.StatusCode >= 400:
		slog.WarnContext(ctx, "push service rejected notification", "endpoint", sub.Endpoint, "status", resp.StatusCode)
	}
}
