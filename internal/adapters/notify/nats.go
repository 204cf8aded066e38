// Package notify delivers call events to participants.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/securecall/internal/core"
	"github.com/dkeye/securecall/internal/domain"
)

type NATSConfig struct {
	URL             string
	Name            string
	SubjectPrefix   string
	CredentialsFile string
	ReconnectWait   time.Duration
	MaxReconnects   int
}

// NATS publishes each event to <prefix>.<recipient>.<event type>.
type NATS struct {
	conn   *nats.Conn
	prefix string
}

var _ core.Notifier = (*NATS)(nil)

func NewNATS(cfg NATSConfig) (*NATS, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Str("module", "notify.nats").Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("module", "notify.nats").Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info().Str("module", "notify.nats").Msg("NATS connection closed")
		}),
	}
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err == nil {
			opts = append(opts, nats.UserCredentials(cfg.CredentialsFile))
		}
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATS{conn: conn, prefix: cfg.SubjectPrefix}, nil
}

func (n *NATS) Notify(_ context.Context, recipient domain.UserID, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return n.conn.Publish(Subject(n.prefix, recipient, ev.Type), data)
}

func (n *NATS) Close() {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
	}
}

// Subject builds the NATS subject for an event. Tokens that would break
// subject syntax are replaced with '_'.
func Subject(prefix string, recipient domain.UserID, t domain.EventType) string {
	if prefix == "" {
		prefix = "calls"
	}
	return prefix + "." + token(string(recipient)) + "." + t.String()
}

func token(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
