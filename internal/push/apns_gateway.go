package push

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"
)

const (
	DefaultAPNSProductionGateway = "gateway.push.apple.com:2195"
	DefaultAPNSSandboxGateway    = "gateway.sandbox.push.apple.com:2195"

	apnsCommandEnhanced  = 1
	apnsCommandError     = 8
	apnsDeviceTokenLen   = 32
	apnsErrorFrameLen    = 6
	apnsStatusUnknown    = 255
	defaultAPNSDialWait  = 10 * time.Second
	defaultAPNSReplyWait = time.Second
)

// Notification is one enhanced-format frame for the APNs binary gateway.
// Token is the hex device token as registered by the client.
type Notification struct {
	Identifier uint32
	Expiry     time.Time
	Token      string
	Payload    []byte
}

// Gateway delivers a notification and reports the provider status byte.
// Status 0 means the gateway accepted the frame.
type Gateway interface {
	Send(ctx context.Context, cert tls.Certificate, production bool, n Notification) (uint8, error)
}

type TLSGatewayOptions struct {
	ProductionAddr string
	SandboxAddr    string
	DialTimeout    time.Duration
	// ReplyWait is how long to wait for an error frame before treating the
	// notification as accepted.
	ReplyWait time.Duration
	RootCAs   *x509.CertPool
}

// TLSGateway speaks the legacy APNs binary protocol over TLS, one
// connection per notification.
type TLSGateway struct {
	productionAddr string
	sandboxAddr    string
	dialTimeout    time.Duration
	replyWait      time.Duration
	rootCAs        *x509.CertPool
	dial           func(ctx context.Context, addr string, cfg *tls.Config) (net.Conn, error)
}

func NewTLSGateway(opts TLSGatewayOptions) *TLSGateway {
	g := &TLSGateway{
		productionAddr: opts.ProductionAddr,
		sandboxAddr:    opts.SandboxAddr,
		dialTimeout:    opts.DialTimeout,
		replyWait:      opts.ReplyWait,
		rootCAs:        opts.RootCAs,
	}
	if g.productionAddr == "" {
		g.productionAddr = DefaultAPNSProductionGateway
	}
	if g.sandboxAddr == "" {
		g.sandboxAddr = DefaultAPNSSandboxGateway
	}
	if g.dialTimeout <= 0 {
		g.dialTimeout = defaultAPNSDialWait
	}
	if g.replyWait <= 0 {
		g.replyWait = defaultAPNSReplyWait
	}
	g.dial = g.dialTLS
	return g
}

func (g *TLSGateway) dialTLS(ctx context.Context, addr string, cfg *tls.Config) (net.Conn, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: g.dialTimeout},
		Config:    cfg,
	}
	return dialer.DialContext(ctx, "tcp", addr)
}

func (g *TLSGateway) Send(ctx context.Context, cert tls.Certificate, production bool, n Notification) (uint8, error) {
	token, status := decodeDeviceToken(n.Token)
	if status != apnsStatusOK {
		return status, nil
	}
	addr := g.sandboxAddr
	if production {
		addr = g.productionAddr
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	conn, err := g.dial(ctx, addr, &tls.Config{
		Certificates: []tls.Certificate{cert},
		ServerName:   host,
		RootCAs:      g.rootCAs,
		MinVersion:   tls.VersionTLS12,
	})
	if err != nil {
		return 0, fmt.Errorf("dial apns gateway %s: %w", addr, err)
	}
	defer conn.Close()

	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		_ = conn.SetWriteDeadline(deadline)
	}
	if _, err := conn.Write(encodeNotificationFrame(n.Identifier, n.Expiry, token, n.Payload)); err != nil {
		return 0, err
	}

	replyDeadline := time.Now().Add(g.replyWait)
	if hasDeadline && deadline.Before(replyDeadline) {
		replyDeadline = deadline
	}
	_ = conn.SetReadDeadline(replyDeadline)
	reply := make([]byte, apnsErrorFrameLen)
	if _, err := io.ReadFull(conn, reply); err != nil {
		switch {
		case errors.Is(err, os.ErrDeadlineExceeded):
			if hasDeadline && !time.Now().Before(deadline) {
				return 0, context.DeadlineExceeded
			}
			return 0, nil
		case errors.Is(err, io.EOF):
			return 0, nil
		default:
			return 0, err
		}
	}
	if reply[0] != apnsCommandError {
		return apnsStatusUnknown, nil
	}
	return reply[1], nil
}

// decodeDeviceToken applies the gateway's token checks locally so a bad
// token is rejected with the status the gateway would report, without
// opening a connection.
func decodeDeviceToken(token string) ([]byte, uint8) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apnsStatusMissingToken
	}
	raw, err := hex.DecodeString(token)
	if err != nil {
		return nil, apnsStatusInvalidToken
	}
	if len(raw) != apnsDeviceTokenLen {
		return nil, apnsStatusInvalidSize
	}
	return raw, apnsStatusOK
}

// encodeNotificationFrame builds command 1: identifier, expiry, then the
// token and payload each prefixed with a big-endian uint16 length.
func encodeNotificationFrame(identifier uint32, expiry time.Time, token, payload []byte) []byte {
	frame := make([]byte, 0, 1+4+4+2+len(token)+2+len(payload))
	frame = append(frame, apnsCommandEnhanced)
	frame = binary.BigEndian.AppendUint32(frame, identifier)
	var expiresAt uint32
	if !expiry.IsZero() {
		expiresAt = uint32(expiry.Unix())
	}
	frame = binary.BigEndian.AppendUint32(frame, expiresAt)
	frame = binary.BigEndian.AppendUint16(frame, uint16(len(token)))
	frame = append(frame, token...)
	frame = binary.BigEndian.AppendUint16(frame, uint16(len(payload)))
	frame = append(frame, payload...)
	return frame
}
