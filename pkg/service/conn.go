package service

import (
	"github.com/nats-io/nats.go"
)

// Msg is an incoming request with a way to answer it.
type Msg struct {
	Subject string
	Header  nats.Header
	Data    []byte

	respond func([]byte) error
}

// NewMsg builds a message answered through respond.
func NewMsg(subject string, header nats.Header, data []byte, respond func([]byte) error) *Msg {
	return &Msg{Subject: subject, Header: header, Data: data, respond: respond}
}

// Respond sends the reply.
func (m *Msg) Respond(data []byte) error {
	if m.respond == nil {
		return nats.ErrMsgNoReply
	}
	return m.respond(data)
}

// Subscription is the part of a NATS subscription the service uses.
type Subscription interface {
	Drain() error
	IsValid() bool
}

// Conn is the minimal subset of a NATS connection the service depends on.
// Tests provide a double that needs no running server.
type Conn interface {
	QueueSubscribe(subject, queue string, handler func(*Msg)) (Subscription, error)
}

// WrapNATSConn adapts a *nats.Conn to Conn.
func WrapNATSConn(nc *nats.Conn) Conn {
	return &natsConnAdapter{nc: nc}
}

type natsConnAdapter struct {
	nc *nats.Conn
}

func (a *natsConnAdapter) QueueSubscribe(subject, queue string, handler func(*Msg)) (Subscription, error) {
	cb := func(m *nats.Msg) {
		handler(&Msg{Subject: m.Subject, Header: m.Header, Data: m.Data, respond: m.Respond})
	}
	if queue == "" {
		return a.nc.Subscribe(subject, cb)
	}
	return a.nc.QueueSubscribe(subject, queue, cb)
}
