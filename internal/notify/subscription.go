package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"

	"github.com/kazz187/taskmux/pkg/cerr"
	"github.com/kazz187/taskmux/pkg/storage"
)

const subscriptionsPrefix = "push_subscriptions"

// Subscription is a browser PushSubscription registered for task
// notifications.
type Subscription struct {
	ID        string    `yaml:"id" json:"id"`
	Endpoint  string    `yaml:"endpoint" json:"endpoint"`
	P256dhKey string    `yaml:"p256dh_key" json:"p256dhKey"`
	AuthKey   string    `yaml:"auth_key" json:"authKey"`
	CreatedAt time.Time `yaml:"created_at" json:"createdAt"`
}

func subscriptionPath(id string) string {
	return fmt.Sprintf("%s/%s.yaml", subscriptionsPrefix, id)
}

// Subscriptions stores one YAML file per subscription.
type Subscriptions struct {
	storage storage.Storage
	now     func() time.Time
}

func NewSubscriptions(s storage.Storage) *Subscriptions {
	return &Subscriptions{storage: s, now: time.Now}
}

// Register stores a subscription, replacing the keys of an existing one with
// the same endpoint.
func (r *Subscriptions) Register(ctx context.Context, endpoint, p256dh, auth string) (*Subscription, error) {
	switch {
	case strings.TrimSpace(endpoint) == "":
		return nil, cerr.NewError(cerr.InvalidArgument, "endpoint is required", nil)
	case p256dh == "":
		return nil, cerr.NewError(cerr.InvalidArgument, "p256dh key is required", nil)
	case auth == "":
		return nil, cerr.NewError(cerr.InvalidArgument, "auth key is required", nil)
	}

	sub, err := r.FindByEndpoint(ctx, endpoint)
	if err != nil {
		if !cerr.IsCode(err, cerr.NotFound) {
			return nil, err
		}
		sub = &Subscription{ID: ulid.Make().String(), Endpoint: endpoint, CreatedAt: r.now()}
	}
	sub.P256dhKey, sub.AuthKey = p256dh, auth

	data, err := yaml.Marshal(sub)
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal push subscription: %w", err))
	}
	if err := r.storage.Write(ctx, subscriptionPath(sub.ID), data); err != nil {
		return nil, cerr.WrapStorageWriteError("push subscription", err)
	}
	return sub, nil
}

// List skips files that cannot be read or decoded.
func (r *Subscriptions) List(ctx context.Context) ([]*Subscription, error) {
	paths, err := r.storage.List(ctx, subscriptionsPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("push subscriptions", err)
	}
	subs := make([]*Subscription, 0, len(paths))
	for _, p := range paths {
		if !strings.HasSuffix(p, ".yaml") {
			continue
		}
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			slog.WarnContext(ctx, "failed to read push subscription", "path", p, "error", err)
			continue
		}
		var sub Subscription
		if err := yaml.Unmarshal(data, &sub); err != nil {
			slog.WarnContext(ctx, "failed to decode push subscription", "path", p, "error", err)
			continue
		}
		subs = append(subs, &sub)
	}
	return subs, nil
}

func (r *Subscriptions) FindByEndpoint(ctx context.Context, endpoint string) (*Subscription, error) {
	subs, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range subs {
		if s.Endpoint == endpoint {
			return s, nil
		}
	}
	return nil, cerr.NewError(cerr.NotFound, "push subscription not found", nil)
}

func (r *Subscriptions) Delete(ctx context.Context, id string) error {
	if err := r.storage.Delete(ctx, subscriptionPath(id)); err != nil {
		return cerr.WrapStorageDeleteError("push subscription", err)
	}
	return nil
}

func (r *Subscriptions) Unregister(ctx context.Context, endpoint string) error {
	sub, err := r.FindByEndpoint(ctx, endpoint)
	if err != nil {
		return err
	}
	return r.Delete(ctx, sub.ID)
}
