package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/smazurov/monocam/internal/logging"
	"github.com/smazurov/monocam/internal/params"
)

// ErrNotConnected is returned when publishing while offline.
var ErrNotConnected = errors.New("nats: not connected")

// Publisher is the node's NATS connection. It publishes bridged channels
// and answers parameter requests. Publishing degrades to a counted no-op
// while NATS is unavailable.
type Publisher struct {
	url       string
	name      string
	conn      *nats.Conn
	sub       *nats.Subscription
	logger    logging.Logger
	mu        sync.RWMutex
	connected bool
}

// NewPublisher creates a publisher for the NATS server at url.
func NewPublisher(url, name string, logger logging.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		url:    url,
		name:   name,
		logger: logger,
	}
}

// Connect establishes a connection to the NATS server.
func (p *Publisher) Connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	opts := []nats.Option{
		nats.Name("monocam-" + subjectToken(p.name)),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			p.mu.Lock()
			p.connected = false
			p.mu.Unlock()
			if err != nil {
				p.logger.Warn("NATS disconnected", "error", err)
			} else {
				p.logger.Debug("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			p.mu.Lock()
			p.connected = true
			p.mu.Unlock()
			p.logger.Info("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(p.url, opts...)
	if err != nil {
		p.logger.Warn("Failed to connect to NATS, running without bridge", "error", err)
		return err
	}

	p.conn = conn
	p.connected = true
	p.logger.Info("Connected to NATS", "url", p.url)
	return nil
}

// PublishMsg sends msg. It returns ErrNotConnected while offline.
func (p *Publisher) PublishMsg(msg *nats.Msg) error {
	p.mu.RLock()
	conn := p.conn
	connected := p.connected
	p.mu.RUnlock()

	if conn == nil || !connected {
		return ErrNotConnected
	}
	return conn.PublishMsg(msg)
}

// Publish sends data on subject.
func (p *Publisher) Publish(subject string, data []byte) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	return p.PublishMsg(msg)
}

// ServeParameters answers parameter requests for camera by applying them
// through gate. The subscription survives reconnects.
func (p *Publisher) ServeParameters(camera string, gate *params.Gate) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return ErrNotConnected
	}

	subject := SubjectParameters(camera)
	sub, err := p.conn.Subscribe(subject, func(msg *nats.Msg) {
		reply := p.handleParameters(msg.Data, gate)
		data, err := reply.Marshal()
		if err != nil {
			p.logger.Warn("Failed to marshal parameter reply", "error", err)
			return
		}
		if msg.Reply != "" {
			if err := msg.Respond(data); err != nil {
				p.logger.Warn("Failed to answer parameter request", "error", err)
			}
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}

	if p.sub != nil {
		_ = p.sub.Unsubscribe()
	}
	p.sub = sub
	p.logger.Info("Serving parameter requests", "subject", subject)
	return nil
}

func (p *Publisher) handleParameters(data []byte, gate *params.Gate) ParameterReply {
	req, err := UnmarshalParameterRequest(data)
	if err != nil {
		p.logger.Warn("Failed to unmarshal parameter request", "error", err)
		return ParameterReply{Error: err.Error()}
	}
	if len(req.Changes) == 0 {
		return ParameterReply{Error: "no changes"}
	}

	res := gate.ApplyBatch(req.Changes)
	if err := res.Err(); err != nil {
		p.logger.Warn("Rejected parameter request", "reason", req.Reason, "error", err)
	} else {
		p.logger.Info("Applied parameter request", "reason", req.Reason, "changes", len(req.Changes))
	}
	return replyFrom(res)
}

// IsConnected returns true if connected to NATS.
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected && p.conn != nil
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sub != nil {
		_ = p.sub.Unsubscribe()
		p.sub = nil
	}

	if p.conn != nil {
		if err := p.conn.Flush(); err != nil {
			p.logger.Debug("NATS flush failed", "error", err)
		}
		p.conn.Close()
		p.conn = nil
	}

	p.connected = false
	p.logger.Debug("NATS publisher closed")
}

// ParameterClient sends parameter requests to a running node.
type ParameterClient struct {
	conn   *nats.Conn
	logger logging.Logger
}

// NewParameterClient connects to the NATS server at url.
func NewParameterClient(url string, logger logging.Logger) (*ParameterClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(url,
		nats.Name("monocam-params"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(5),
	)
	if err != nil {
		return nil, err
	}

	return &ParameterClient{
		conn:   conn,
		logger: logger,
	}, nil
}

// Apply sends changes to camera and waits for the reply.
func (c *ParameterClient) Apply(ctx context.Context, camera string, changes []params.Change, reason string) (ParameterReply, error) {
	data, err := ParameterRequest{Changes: changes, Reason: reason}.Marshal()
	if err != nil {
		return ParameterReply{}, err
	}

	subject := SubjectParameters(camera)
	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return ParameterReply{}, fmt.Errorf("request %s: %w", subject, err)
	}

	reply, err := UnmarshalParameterReply(msg.Data)
	if err != nil {
		return ParameterReply{}, fmt.Errorf("decode reply: %w", err)
	}
	c.logger.Debug("Parameter reply", "camera", camera, "applied", reply.Applied)
	return reply, nil
}

// Close closes the client connection.
func (c *ParameterClient) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
