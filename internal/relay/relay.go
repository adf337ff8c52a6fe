// Package relay wraps bets in authenticated envelopes for delivery to a
// market's home node, and dispatches received envelopes back into the
// state machine.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/akindolabs/pulsemarket/internal/crypto"
	"github.com/akindolabs/pulsemarket/internal/domain"
)

// Codec signs, encodes, verifies, and decodes relay envelopes using the
// cluster's shared secret.
type Codec struct {
	secret []byte
}

// NewCodec creates a Codec from the cluster secret.
func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret)}
}

// canonical is the exact byte string covered by the envelope signature.
func canonical(env domain.Envelope) string {
	return strings.Join([]string{
		env.ID.String(),
		env.Market.String(),
		string(env.Origin),
		string(env.Target),
		env.Owner.Hex(),
		string(env.Outcome),
		strconv.FormatUint(uint64(env.Amount), 10),
		strconv.FormatInt(env.SentAt, 10),
	}, "|")
}

// Encode signs the envelope and returns its JSON wire form.
func (c *Codec) Encode(env domain.Envelope) ([]byte, error) {
	env.Signature = crypto.SignMessage(c.secret, canonical(env))
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("relay: encode envelope: %w", err)
	}
	return payload, nil
}

// Decode parses an envelope from its wire form and verifies the signature.
func (c *Codec) Decode(payload []byte) (domain.Envelope, error) {
	var env domain.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return domain.Envelope{}, fmt.Errorf("relay: decode envelope: %w: %v", domain.ErrBadEnvelope, err)
	}
	if !crypto.VerifyMessage(c.secret, canonical(env), env.Signature) {
		return domain.Envelope{}, fmt.Errorf("relay: decode envelope: %w: bad signature", domain.ErrBadEnvelope)
	}
	return env, nil
}

// Sender implements domain.RelaySender over a transport, signing each
// envelope before publication.
type Sender struct {
	codec     *Codec
	transport domain.RelayTransport
}

// NewSender creates a Sender.
func NewSender(codec *Codec, transport domain.RelayTransport) *Sender {
	return &Sender{codec: codec, transport: transport}
}

// Send signs env and publishes it to its target node's channel.
func (s *Sender) Send(ctx context.Context, env domain.Envelope) error {
	payload, err := s.codec.Encode(env)
	if err != nil {
		return err
	}
	if err := s.transport.Publish(ctx, env.Target, payload); err != nil {
		return fmt.Errorf("relay: send to %s: %w", env.Target, err)
	}
	return nil
}

// EnvelopeHandler is the state-machine entry point for relayed bets.
type EnvelopeHandler interface {
	HandleEnvelope(ctx context.Context, env domain.Envelope) error
}

// Dispatcher consumes envelopes addressed to this node, verifies them, and
// feeds them to the handler. A bad or rejected envelope is logged and
// dropped; it never stops the loop.
type Dispatcher struct {
	node      domain.NodeID
	codec     *Codec
	transport domain.RelayTransport
	handler   EnvelopeHandler
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher for the given node.
func NewDispatcher(node domain.NodeID, codec *Codec, transport domain.RelayTransport, handler EnvelopeHandler, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		node:      node,
		codec:     codec,
		transport: transport,
		handler:   handler,
		logger:    logger,
	}
}

// Run subscribes to this node's channel and processes envelopes until ctx
// is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	payloads, err := d.transport.Subscribe(ctx, d.node)
	if err != nil {
		return fmt.Errorf("relay: subscribe %s: %w", d.node, err)
	}

	d.logger.InfoContext(ctx, "relay: dispatcher started",
		slog.String("node", string(d.node)),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-payloads:
			if !ok {
				return ctx.Err()
			}
			d.dispatch(ctx, payload)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, payload []byte) {
	env, err := d.codec.Decode(payload)
	if err != nil {
		d.logger.WarnContext(ctx, "relay: dropping envelope",
			slog.String("error", err.Error()),
		)
		return
	}
	if env.Target != d.node {
		d.logger.WarnContext(ctx, "relay: dropping misaddressed envelope",
			slog.String("envelope_id", env.ID.String()),
			slog.String("target", string(env.Target)),
		)
		return
	}

	if err := d.handler.HandleEnvelope(ctx, env); err != nil {
		d.logger.WarnContext(ctx, "relay: envelope rejected",
			slog.String("envelope_id", env.ID.String()),
			slog.String("owner", env.Owner.Hex()),
			slog.String("error", err.Error()),
		)
		return
	}

	d.logger.InfoContext(ctx, "relay: envelope applied",
		slog.String("envelope_id", env.ID.String()),
		slog.String("origin", string(env.Origin)),
		slog.String("owner", env.Owner.Hex()),
	)
}
