// Package broker fans live positions out across service instances over NATS.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"GOSAFE_BACK-END/internal/logging"
	"GOSAFE_BACK-END/internal/mirror"
	"GOSAFE_BACK-END/internal/models"
)

// NATS publishes and subscribes to per-journey position subjects.
type NATS struct {
	conn   *nats.Conn
	prefix string
	log    zerolog.Logger
}

// Connect dials url. Subjects are {prefix}.journeys.{journeyId}.positions.
func Connect(url, prefix, name string) (*NATS, error) {
	log := logging.For("broker")
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("broker: connect %s: %w", url, err)
	}
	if prefix == "" {
		prefix = "gosafe"
	}
	return &NATS{conn: conn, prefix: prefix, log: log}, nil
}

func (n *NATS) subject(journeyID int64) string {
	return n.prefix + ".journeys." + strconv.FormatInt(journeyID, 10) + ".positions"
}

// PublishPosition is fire-and-forget; a dropped message is superseded by the next append.
func (n *NATS) PublishPosition(ctx context.Context, journeyID int64, p models.Position) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := mirror.Marshal(wireMessage{Position: p, Seq: p.Seq})
	if err != nil {
		return fmt.Errorf("broker: encode position: %w", err)
	}
	return n.conn.Publish(n.subject(journeyID), data)
}

// PublishClosed tells every subscriber of journeyID that no more positions will come.
// It is flushed so the marker is not lost in the client buffer.
func (n *NATS) PublishClosed(ctx context.Context, journeyID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := mirror.Marshal(wireMessage{Closed: true})
	if err != nil {
		return fmt.Errorf("broker: encode close: %w", err)
	}
	if err := n.conn.Publish(n.subject(journeyID), data); err != nil {
		return fmt.Errorf("broker: publish close: %w", err)
	}
	return n.conn.FlushTimeout(2 * time.Second)
}

// SubscribePositions calls fn for every position published for journeyID, in
// arrival order, and closed once the journey is announced closed. closed may
// be nil. The returned func unsubscribes.
func (n *NATS) SubscribePositions(journeyID int64, fn func(models.Position), closed func()) (func(), error) {
	sub, err := n.conn.Subscribe(n.subject(journeyID), func(msg *nats.Msg) {
		var w wireMessage
		if err := mirror.Unmarshal(msg.Data, &w); err != nil {
			n.log.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping undecodable position")
			return
		}
		if w.Closed {
			if closed != nil {
				closed()
			}
			return
		}
		w.Position.Seq = w.Seq
		fn(w.Position)
	})
	if err != nil {
		return nil, fmt.Errorf("broker: subscribe: %w", err)
	}
	// make sure the server knows about the subscription before the caller relies on it
	if err := n.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("broker: flush: %w", err)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			n.log.Debug().Err(err).Msg("unsubscribe")
		}
	}, nil
}

// Healthy reports whether the connection is up.
func (n *NATS) Healthy() bool {
	return n.conn.IsConnected()
}

// Close drains pending messages and closes the connection.
func (n *NATS) Close() {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
	}
}

// Position.Seq is not part of the mirror encoding, so carry it explicitly on the wire.
// Closed marks the end of a journey's stream and carries no position.
type wireMessage struct {
	models.Position
	Seq    uint64 `cbor:"seq"`
	Closed bool   `cbor:"closed,omitempty"`
}
