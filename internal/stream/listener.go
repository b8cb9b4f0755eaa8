package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"walletfeed/internal/domain"
	"walletfeed/internal/metrics"

	"github.com/nats-io/nats.go"
	"gitlab.com/nevasik7/alerting/logger"
)

// Update types the backend publishes on the live channel.
const (
	UpdateInitialActivities  = "initialActivities"
	UpdateNewLocalActivities = "newLocalActivities"
	UpdateNewActivities      = "newActivities"
	UpdateInvalidateCache    = "invalidateCache"
)

// Sink consumes decoded live updates. The feed service implements it.
type Sink interface {
	HandleInitialActivities(ctx context.Context, accountID, chain string, main []*domain.Activity, bySlug map[string][]*domain.Activity)
	HandleNewLocalActivities(ctx context.Context, accountID string, activities []*domain.Activity)
	HandleNewActivities(ctx context.Context, accountID, chain string, confirmed, pending []*domain.Activity, loadedAll *bool)
	HandleInvalidateCache(ctx context.Context, accountID, slug string)
}

type updateEnvelope struct {
	Type              string                        `json:"type"`
	AccountID         string                        `json:"accountId"`
	Chain             string                        `json:"chain,omitempty"`
	Slug              string                        `json:"slug,omitempty"`
	Activities        []*domain.Activity            `json:"activities,omitempty"`
	MainActivities    []*domain.Activity            `json:"mainActivities,omitempty"`
	BySlug            map[string][]*domain.Activity `json:"bySlug,omitempty"`
	PendingActivities []*domain.Activity            `json:"pendingActivities,omitempty"`
	LoadedAll         *bool                         `json:"loadedAll,omitempty"`
}

// Listener subscribes to the live-update subjects and feeds decoded updates
// into the sink. One listener per process, updates arrive on the NATS
// delivery goroutine, the sink serializes.
type Listener struct {
	log    logger.Logger
	client *Client
	prefix string
	sink   Sink

	sub *nats.Subscription
}

func NewListener(log logger.Logger, client *Client, subjectPrefix string, sink Sink) (*Listener, error) {
	if client == nil {
		return nil, errors.New("nats client is required")
	}
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	prefix := strings.TrimSuffix(subjectPrefix, ".")
	if prefix == "" {
		prefix = "wallet.activity"
	}

	return &Listener{
		log:    log,
		client: client,
		prefix: prefix,
		sink:   sink,
	}, nil
}

func (l *Listener) Start() error {
	if l.sub != nil {
		return errors.New("listener already started")
	}

	subject := l.prefix + ".>"
	sub, err := l.client.nc.Subscribe(subject, l.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	l.sub = sub
	l.log.Infof("Listening for live updates on %s", subject)
	return nil
}

func (l *Listener) Stop() error {
	if l.sub == nil {
		return nil
	}
	err := l.sub.Drain()
	l.sub = nil
	return err
}

func (l *Listener) handle(msg *nats.Msg) {
	var env updateEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		l.log.Errorf("Dropping undecodable live update on %s: %v", msg.Subject, err)
		return
	}
	if env.AccountID == "" {
		l.log.Errorf("Dropping live update without accountId on %s", msg.Subject)
		return
	}

	metrics.LiveUpdates.WithLabelValues(env.Type).Inc()
	ctx := context.Background()

	switch env.Type {
	case UpdateInitialActivities:
		main := env.MainActivities
		if main == nil {
			main = env.Activities
		}
		l.sink.HandleInitialActivities(ctx, env.AccountID, env.Chain, main, env.BySlug)
	case UpdateNewLocalActivities:
		l.sink.HandleNewLocalActivities(ctx, env.AccountID, env.Activities)
	case UpdateNewActivities:
		l.sink.HandleNewActivities(ctx, env.AccountID, env.Chain, env.Activities, env.PendingActivities, env.LoadedAll)
	case UpdateInvalidateCache:
		l.sink.HandleInvalidateCache(ctx, env.AccountID, env.Slug)
	default:
		l.log.Warnf("Unknown live update type %q on %s", env.Type, msg.Subject)
	}
}
