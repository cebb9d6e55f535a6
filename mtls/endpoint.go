// Package mtls implements one-shot mutually authenticated TLS exchange between devices certified by the same CA.
//
// One endpoint performs one handshake and transfers one message: the server
// returns the first line it receives, the client sends its message and waits
// briefly for an acknowledgment. There is no reconnection or retry.
package mtls

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
	"github.com/whitekid/goxp/log"
)

var (
	ErrBind            = errors.New("bind failed")
	ErrConnect         = errors.New("connect failed")
	ErrHandshakeFailed = errors.New("TLS handshake failed")
	ErrEndpointUsed    = errors.New("endpoint already used")
)

// Endpoint single use mTLS endpoint
type Endpoint struct {
	id  string
	cfg *Config

	mu    sync.Mutex
	state State
}

func NewEndpoint(cfg *Config) *Endpoint {
	return &Endpoint{
		id:    shortuuid.New(),
		cfg:   cfg.withDefaults(),
		state: StateIdle,
	}
}

func (e *Endpoint) ID() string { return e.id }

func (e *Endpoint) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Endpoint) setState(state State) {
	e.mu.Lock()
	defer e.mu.Unlock()

	log.Debugf("endpoint %s: %s -> %s", e.id, e.state, state)
	e.state = state
}

// start move Idle endpoint to given state
func (e *Endpoint) start(state State) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateIdle {
		return errors.Wrapf(ErrEndpointUsed, "state=%s", e.state)
	}

	log.Debugf("endpoint %s: %s -> %s", e.id, e.state, state)
	e.state = state
	return nil
}

// finish set terminal state by the result
func (e *Endpoint) finish(err error) {
	if err != nil {
		log.Infof("endpoint %s failed: %v", e.id, err)
		e.setState(StateFailed)
		return
	}
	e.setState(StateClosed)
}

// AcceptOnce listen on port, accept one connection and returns first line sent by the client
func AcceptOnce(ctx context.Context, port int, cfg *Config) (string, error) {
	return NewEndpoint(cfg).AcceptOnce(ctx, port)
}

// SendOnce connect to target, send message and close
func SendOnce(ctx context.Context, target string, cfg *Config, message []byte) error {
	return NewEndpoint(cfg).SendOnce(ctx, target, message)
}

func (e *Endpoint) AcceptOnce(ctx context.Context, port int) (string, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		if e.State() == StateIdle {
			e.finish(err)
		}
		return "", errors.Wrap(ErrBind, err.Error())
	}

	return e.Accept(ctx, ln)
}

// Accept accept one connection from listener and returns the first line.
// listener is closed when returns.
// returns empty or partial line if the peer closes before sending line terminator.
func (e *Endpoint) Accept(ctx context.Context, ln net.Listener) (line string, err error) {
	if err := e.start(StateListening); err != nil {
		ln.Close()
		return "", err
	}

	var closers closeGroup
	closers.add("listener", ln)

	defer func() {
		if cerr := closers.close(e.id); err == nil && cerr != nil {
			err = cerr
		}
		e.finish(err)
	}()

	tlsConfig, err := e.cfg.ServerTLSConfig()
	if err != nil {
		return "", err
	}

	stop := closeOnDone(ctx, ln)
	log.Debugf("endpoint %s: listening on %s", e.id, ln.Addr())
	conn, err := ln.Accept()
	stop()
	if err != nil {
		return "", errors.Wrapf(ErrBind, "accept failed: %v", err)
	}
	closers.add("connection", conn)

	// no more connection
	ln.Close()

	e.setState(StateHandshaking)
	tlsConn := tls.Server(conn, tlsConfig)
	closers.add("tls", tlsConn)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return "", errors.Wrap(ErrHandshakeFailed, err.Error())
	}

	e.setState(StateEstablished)
	log.Debugf("endpoint %s: established with %s", e.id, conn.RemoteAddr())

	stop = closeOnDone(ctx, conn)
	defer stop()

	line, err = bufio.NewReader(io.LimitReader(tlsConn, e.cfg.MaxMessageSize)).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return line, errors.Wrap(err, "fail to read message")
	}

	return line, nil
}

func (e *Endpoint) SendOnce(ctx context.Context, target string, message []byte) (err error) {
	if err := e.start(StateConnecting); err != nil {
		return err
	}

	var closers closeGroup
	defer func() {
		if cerr := closers.close(e.id); err == nil && cerr != nil {
			err = cerr
		}
		e.finish(err)
	}()

	tlsConfig, err := e.cfg.ClientTLSConfig()
	if err != nil {
		return err
	}

	dialer := &net.Dialer{Timeout: e.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return errors.Wrap(ErrConnect, err.Error())
	}
	closers.add("connection", conn)

	e.setState(StateHandshaking)
	tlsConn := tls.Client(conn, tlsConfig)
	closers.add("tls", tlsConn)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return errors.Wrap(ErrHandshakeFailed, err.Error())
	}

	e.setState(StateEstablished)

	stop := closeOnDone(ctx, conn)
	defer stop()

	if _, err := tlsConn.Write(message); err != nil {
		return errors.Wrap(err, "fail to send message")
	}

	// acknowledgment is optional; server usually just closes the connection.
	// with TLS 1.3 a rejected client certificate arrives here as an alert.
	ack := make([]byte, AckSize)
	tlsConn.SetReadDeadline(time.Now().Add(e.cfg.AckTimeout))
	n, err := tlsConn.Read(ack)
	switch {
	case err == nil:
		log.Debugf("endpoint %s: acknowledgment %d bytes discarded", e.id, n)
	case isAckTolerated(err):
		log.Debugf("endpoint %s: no acknowledgment: %v", e.id, err)
	default:
		return errors.Wrap(ErrHandshakeFailed, err.Error())
	}

	return nil
}

// isAckTolerated peer closed or did not answer in time
func isAckTolerated(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// closeOnDone close c when ctx is done; call stop to release
func closeOnDone(ctx context.Context, c io.Closer) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-done:
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// closeGroup closes resources in reverse order
type closeGroup struct {
	names   []string
	closers []io.Closer
}

func (g *closeGroup) add(name string, c io.Closer) {
	g.names = append(g.names, name)
	g.closers = append(g.closers, c)
}

// close returns every close failure except already closed resources
func (g *closeGroup) close(id string) error {
	var result *multierror.Error
	for i := len(g.closers) - 1; i >= 0; i-- {
		if err := g.closers[i].Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, errors.Wrapf(err, "close %s", g.names[i]))
		}
	}

	err := result.ErrorOrNil()
	if err != nil {
		log.Debugf("endpoint %s: %v", id, err)
	}
	return err
}
