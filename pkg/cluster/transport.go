package cluster

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/rk8s-dev/rk8s/pkg/apis"
	"github.com/rk8s-dev/rk8s/pkg/log"
)

// ALPN identifies this protocol in the QUIC/TLS handshake so a shared port
// can eventually be multiplexed with something else.
const ALPN = "rk8s-cluster/1"

func tlsConfig(insecureSkipVerify bool) *tls.Config {
	return &tls.Config{
		NextProtos:         []string{ALPN},
		InsecureSkipVerify: insecureSkipVerify,
	}
}

// Listen opens a QUIC listener on addr using tlsConf (a real cert in
// production, a self-signed one acceptable for a single-cluster deployment
// with no external PKI).
func Listen(addr string, tlsConf *tls.Config) (*quic.Listener, error) {
	if tlsConf == nil {
		tlsConf = tlsConfig(false)
	} else {
		tlsConf.NextProtos = []string{ALPN}
	}
	ln, err := quic.ListenAddr(addr, tlsConf, &quic.Config{KeepAlivePeriod: 15 * time.Second})
	if err != nil {
		return nil, apis.WithKind(apis.ErrTransport, "cluster listen "+addr, err)
	}
	return ln, nil
}

// DialRetry connects to the master at addr, retrying with a fixed backoff
// until ctx is cancelled. A node agent that starts before the master (or
// momentarily loses it) must keep trying rather than exit.
func DialRetry(ctx context.Context, addr string, retryEvery time.Duration) (*quic.Conn, error) {
	var lastErr error
	for {
		select {
		case <-ctx.Done():
			return nil, apis.WithKind(apis.ErrTransport, "cluster dial "+addr, ctx.Err())
		default:
		}
		conn, err := quic.DialAddr(ctx, addr, tlsConfig(true), &quic.Config{KeepAlivePeriod: 15 * time.Second})
		if err == nil {
			return conn, nil
		}
		lastErr = err
		log.FromContext(ctx).Warnw("dial master failed, retrying", "addr", addr, "err", err)
		select {
		case <-ctx.Done():
			return nil, apis.WithKind(apis.ErrTransport, "cluster dial "+addr, lastErr)
		case <-time.After(retryEvery):
		}
	}
}
