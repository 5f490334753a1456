package relay

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/flashbid/flashbid/internal/events"
)

// NATSIngress feeds the hub from a NATS subject instead of (or alongside)
// the HTTP /broadcast endpoint, for deployments where the ledger publishes
// through a broker.
type NATSIngress struct {
	hub     *Hub
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
}

// NewNATSIngress connects to NATS at url; Start begins consuming.
func NewNATSIngress(hub *Hub, url, subject string) (*NATSIngress, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &NATSIngress{hub: hub, nc: nc, subject: subject}, nil
}

// Start subscribes to the subject and forwards each event to the hub.
// Malformed payloads are logged and dropped, same as the HTTP ingress.
func (i *NATSIngress) Start() error {
	sub, err := i.nc.Subscribe(i.subject, func(msg *nats.Msg) {
		var ev events.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed NATS event")
			return
		}
		i.hub.Publish(ev)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", i.subject, err)
	}

	i.sub = sub
	log.Info().Str("subject", i.subject).Msg("NATS ingress started")
	return nil
}

// Stop unsubscribes and closes the NATS connection.
func (i *NATSIngress) Stop() {
	if i.sub != nil {
		_ = i.sub.Unsubscribe()
	}
	i.nc.Close()
}
