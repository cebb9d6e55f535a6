package mtls

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"setls/ca"
	"setls/pkg/helper"
	"setls/pkg/testutils/testpki"
	"setls/signer"
)

func newConfig(device *testpki.Device) *Config {
	return &Config{
		Chain:      device.Chain,
		Identity:   device.Identity,
		AckTimeout: time.Second,
	}
}

func listen(t *testing.T) net.Listener {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

type acceptResult struct {
	line string
	err  error
}

func acceptAsync(ctx context.Context, e *Endpoint, ln net.Listener) <-chan acceptResult {
	result := make(chan acceptResult, 1)
	go func() {
		line, err := e.Accept(ctx, ln)
		result <- acceptResult{line, err}
	}()
	return result
}

func TestSendAndAccept(t *testing.T) {
	authority := testpki.NewAuthority(t)
	serverDevice := testpki.NewDevice(t, authority)
	clientDevice := testpki.NewDevice(t, authority)

	type args struct {
		message []byte
	}
	tests := [...]struct {
		name string
		args args
		want string
	}{
		{`hello`, args{[]byte("hello\n")}, "hello\n"},
		{`first line only`, args{[]byte("first\nsecond\n")}, "first\n"},
		{`no terminator`, args{[]byte("partial")}, "partial"},
		{`empty`, args{[]byte{}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			ln := listen(t)
			server := NewEndpoint(newConfig(serverDevice))
			result := acceptAsync(ctx, server, ln)

			client := NewEndpoint(newConfig(clientDevice))
			err := client.SendOnce(ctx, ln.Addr().String(), tt.args.message)
			require.NoError(t, err)
			require.Equal(t, StateClosed, client.State())

			got := <-result
			require.NoError(t, got.err)
			require.Equal(t, tt.want, got.line)
			require.Equal(t, StateClosed, server.State())
		})
	}
}

func TestHandshakeFailedWithOtherCA(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	serverDevice := testpki.NewDevice(t, testpki.NewAuthority(t))
	clientDevice := testpki.NewDevice(t, testpki.NewAuthority(t))

	ln := listen(t)
	server := NewEndpoint(newConfig(serverDevice))
	result := acceptAsync(ctx, server, ln)

	client := NewEndpoint(newConfig(clientDevice))
	err := client.SendOnce(ctx, ln.Addr().String(), []byte("hello\n"))
	require.Truef(t, errors.Is(err, ErrHandshakeFailed), "client error = %+v", err)
	require.Equal(t, StateFailed, client.State())

	got := <-result
	require.Truef(t, errors.Is(got.err, ErrHandshakeFailed), "server error = %+v", got.err)
	require.Empty(t, got.line)
	require.Equal(t, StateFailed, server.State())
}

// TestRejectedClientCertificate server refuses client leaf after client side of TLS 1.3 handshake completed
func TestRejectedClientCertificate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	issuedAt := time.Now().Add(-ca.DefaultValidity - 24*time.Hour)
	authority, err := ca.New(ca.WithClock(func() time.Time { return issuedAt }))
	require.NoError(t, err)

	expiredDevice := testpki.NewDevice(t, authority)
	issuedAt = time.Now()
	serverDevice := testpki.NewDevice(t, authority)

	ln := listen(t)
	server := NewEndpoint(newConfig(serverDevice))
	result := acceptAsync(ctx, server, ln)

	client := NewEndpoint(newConfig(expiredDevice))
	err = client.SendOnce(ctx, ln.Addr().String(), []byte("hello\n"))
	require.Truef(t, errors.Is(err, ErrHandshakeFailed), "client error = %+v", err)
	require.Equal(t, StateFailed, client.State())

	got := <-result
	require.Truef(t, errors.Is(got.err, ErrHandshakeFailed), "server error = %+v", got.err)
	require.Empty(t, got.line)
	require.Equal(t, StateFailed, server.State())
}

func TestSigningFailedFailsHandshake(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	authority := testpki.NewAuthority(t)
	serverDevice := testpki.NewDevice(t, authority)
	clientDevice := testpki.NewDevice(t, authority)

	// server key provider stops signing after enrollment
	broken, err := signer.New(&signer.Funcs{
		PublicKeyFunc: func() []byte { b, _ := serverDevice.Provider.PublicKey(); return b },
		SignFunc:      func([]byte) []byte { return nil },
	})
	require.NoError(t, err)

	ln := listen(t)
	server := NewEndpoint(&Config{Chain: serverDevice.Chain, Identity: broken})
	result := acceptAsync(ctx, server, ln)

	err = SendOnce(ctx, ln.Addr().String(), newConfig(clientDevice), []byte("hello\n"))
	require.Truef(t, errors.Is(err, ErrHandshakeFailed), "client error = %+v", err)

	got := <-result
	require.Truef(t, errors.Is(got.err, ErrHandshakeFailed), "server error = %+v", got.err)
}

func TestConnectError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	device := testpki.NewDevice(t, testpki.NewAuthority(t))

	// reserve then release a port so nothing listens on it
	ln := listen(t)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	client := NewEndpoint(newConfig(device))
	err := client.SendOnce(ctx, addr, []byte("hello\n"))
	require.Truef(t, errors.Is(err, ErrConnect), "error = %+v", err)
	require.Equal(t, StateFailed, client.State())
}

func TestBindError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	device := testpki.NewDevice(t, testpki.NewAuthority(t))

	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()

	_, err = AcceptOnce(ctx, ln.Addr().(*net.TCPAddr).Port, newConfig(device))
	require.Truef(t, errors.Is(err, ErrBind), "error = %+v", err)
}

func TestAcceptCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	device := testpki.NewDevice(t, testpki.NewAuthority(t))

	ln := listen(t)
	server := NewEndpoint(newConfig(device))
	result := acceptAsync(ctx, server, ln)

	cancel()
	got := <-result
	require.Error(t, got.err)
	require.Equal(t, StateFailed, server.State())
}

func TestHandshakeCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	device := testpki.NewDevice(t, testpki.NewAuthority(t))

	// peer accepts TCP but never speaks TLS
	ln := listen(t)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		<-ctx.Done()
		conn.Close()
	}()

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	err := SendOnce(ctx, ln.Addr().String(), newConfig(device), []byte("hello\n"))
	require.Truef(t, errors.Is(err, ErrHandshakeFailed), "error = %+v", err)
}

func TestEndpointSingleUse(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	authority := testpki.NewAuthority(t)
	serverDevice := testpki.NewDevice(t, authority)
	clientDevice := testpki.NewDevice(t, authority)

	ln := listen(t)
	result := acceptAsync(ctx, NewEndpoint(newConfig(serverDevice)), ln)

	client := NewEndpoint(newConfig(clientDevice))
	require.Equal(t, StateIdle, client.State())
	require.NoError(t, client.SendOnce(ctx, ln.Addr().String(), []byte("hello\n")))
	require.NoError(t, (<-result).err)

	err := client.SendOnce(ctx, ln.Addr().String(), []byte("hello\n"))
	require.True(t, errors.Is(err, ErrEndpointUsed))
	require.Equal(t, StateClosed, client.State())
}

func TestConfigValidation(t *testing.T) {
	device := testpki.NewDevice(t, testpki.NewAuthority(t))

	type args struct {
		cfg *Config
	}
	tests := [...]struct {
		name    string
		args    args
		wantErr bool
	}{
		{`valid`, args{&Config{Chain: device.Chain, Identity: device.Identity}}, false},
		{`no chain`, args{&Config{Identity: device.Identity}}, true},
		{`no identity`, args{&Config{Chain: device.Chain}}, true},
		{`negative timeout`, args{&Config{Chain: device.Chain, Identity: device.Identity, DialTimeout: -1}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.args.cfg.ServerTLSConfig()
			require.Truef(t, (err != nil) == tt.wantErr, `ServerTLSConfig() failed: error = %+v, wantErr = %v`, err, tt.wantErr)
			if tt.wantErr {
				require.True(t, helper.IsValidationError(err))
			}

			_, err = tt.args.cfg.ClientTLSConfig()
			require.Truef(t, (err != nil) == tt.wantErr, `ClientTLSConfig() failed: error = %+v, wantErr = %v`, err, tt.wantErr)
		})
	}
}

func TestStateString(t *testing.T) {
	require.Equal(t, "Established", StateEstablished.String())
	require.Equal(t, "Unknown", State(100).String())
	require.True(t, StateClosed.Terminal())
	require.True(t, StateFailed.Terminal())
	require.False(t, StateHandshaking.Terminal())
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestCloseGroup(t *testing.T) {
	type args struct {
		closers []io.Closer
	}
	tests := [...]struct {
		name    string
		args    args
		wantErr bool
	}{
		{`all closed`, args{[]io.Closer{closerFunc(func() error { return nil })}}, false},
		{`already closed`, args{[]io.Closer{closerFunc(func() error { return net.ErrClosed })}}, false},
		{`close failed`, args{[]io.Closer{
			closerFunc(func() error { return errors.New("broken pipe") }),
			closerFunc(func() error { return nil }),
		}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var g closeGroup
			for _, c := range tt.args.closers {
				g.add("test", c)
			}

			err := g.close("test")
			require.Truef(t, (err != nil) == tt.wantErr, `close() failed: error = %+v, wantErr = %v`, err, tt.wantErr)
		})
	}
}

func TestCloseGroupOrder(t *testing.T) {
	var order []string
	var g closeGroup
	g.add("listener", closerFunc(func() error { order = append(order, "listener"); return nil }))
	g.add("connection", closerFunc(func() error { order = append(order, "connection"); return nil }))

	require.NoError(t, g.close("test"))
	require.Equal(t, []string{"connection", "listener"}, order)
}
