// Package quicdgram supplies the unreliable datagram substrate the
// core stack is designed to sit on top of: QUIC's unordered,
// droppable DATAGRAM frames (RFC 9221) stand in for "lossy UDP/radio"
// more faithfully than a reliable stream would, per SPEC_FULL.md's
// domain-stack wiring. Grounded on the teacher's internal/network/quic.go
// (dev TLS cert generation, listen/dial shape) adapted from
// stream-based transfer to SendDatagram/ReceiveDatagram.
package quicdgram

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"math/big"
	"net"
	"time"

	quic "github.com/quic-go/quic-go"
)

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

// devTLSCert deterministically derives a self-signed certificate, the
// same way the teacher's quic.go does for its local-dev listener.
func devTLSCert() (tls.Certificate, []byte, error) {
	seed := sha256.Sum256([]byte("puffer-quic-dev-key"))
	priv := ed25519.NewKeyFromSeed(seed[:])
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(zeroReader{}, &template, &template, priv.Public(), priv)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, der, nil
}

func serverTLSConfig() (*tls.Config, error) {
	cert, _, err := devTLSCert()
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{"puffer-quic"}}, nil
}

func clientTLSConfig(insecure bool) (*tls.Config, error) {
	if insecure {
		return &tls.Config{InsecureSkipVerify: true, NextProtos: []string{"puffer-quic"}}, nil
	}
	_, der, err := devTLSCert()
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	pool.AddCert(cert)
	return &tls.Config{RootCAs: pool, NextProtos: []string{"puffer-quic"}}, nil
}

func datagramConfig() *quic.Config {
	return &quic.Config{EnableDatagrams: true}
}

// Endpoint is a single substrate connection: Send enqueues a bundle
// for unreliable delivery, Recv blocks for the next arrival, exactly
// the two-method shape the engine's Flush/Parse pair needs to be
// driven over the wire.
type Endpoint struct {
	conn quic.Connection
}

func (e *Endpoint) Send(bundle []byte) error {
	return e.conn.SendDatagram(bundle)
}

func (e *Endpoint) Recv(ctx context.Context) ([]byte, error) {
	return e.conn.ReceiveDatagram(ctx)
}

func (e *Endpoint) Close() error {
	return e.conn.CloseWithError(0, "")
}

// Listener accepts inbound QUIC connections, each becoming one
// Endpoint once its handshake completes.
type Listener struct {
	ql *quic.Listener
}

func Listen(addr string) (*Listener, error) {
	tlsConf, err := serverTLSConfig()
	if err != nil {
		return nil, err
	}
	ql, err := quic.ListenAddr(addr, tlsConf, datagramConfig())
	if err != nil {
		return nil, err
	}
	return &Listener{ql: ql}, nil
}

func (l *Listener) Accept(ctx context.Context) (*Endpoint, error) {
	conn, err := l.ql.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return &Endpoint{conn: conn}, nil
}

func (l *Listener) Close() error {
	return l.ql.Close()
}

// Dial opens an outbound connection to addr. insecure skips server
// certificate verification, meant for same-host demo/test use only.
func Dial(ctx context.Context, addr string, insecure bool) (*Endpoint, error) {
	tlsConf, err := clientTLSConfig(insecure)
	if err != nil {
		return nil, err
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, datagramConfig())
	if err != nil {
		return nil, err
	}
	return &Endpoint{conn: conn}, nil
}
