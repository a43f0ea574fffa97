// Package transport ships read-query result buffers to a
// client-provided TCP endpoint.  The receiving side is typically set up
// by the same controller that issued the read, so the first connect
// attempts are expected to fail while the receiver binds; the sender
// retries on a fixed backoff instead of bailing out.
package transport

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/retry"
	"github.com/pkg/errors"
)

const (
	// connectAttempts bounds the connect loop; with the fixed backoff
	// below, a transmit gives up after about 50 seconds.
	connectAttempts = 500
	connectBackoff  = 100 * time.Millisecond
)

var backoffPolicy = retry.Backoff(connectBackoff, connectBackoff, 1)

// Transmit connects to host:port, writes buf in its entirety, and
// closes the connection.  Connection failures are retried with a fixed
// 100 ms backoff up to 500 attempts.  buf is only read.
func Transmit(ctx context.Context, host string, port int, buf []byte) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var (
		conn net.Conn
		err  error
	)
	for n := 0; ; n++ {
		if conn, err = net.Dial("tcp", addr); err == nil {
			break
		}
		if n+1 >= connectAttempts {
			return errors.Wrapf(err, "transport: connect %s: giving up after %d attempts", addr, connectAttempts)
		}
		if werr := retry.Wait(ctx, backoffPolicy, n); werr != nil {
			return werr
		}
	}
	defer conn.Close() // nolint: errcheck
	if _, err := conn.Write(buf); err != nil {
		return errors.Wrapf(err, "transport: write %s", addr)
	}
	return nil
}

// TransmitAsync runs Transmit on a detached worker.  The outcome is
// delivered on the returned channel (buffered, never blocking the
// worker) and logged on failure, so callers that acknowledge
// immediately can still surface the error later.
func TransmitAsync(ctx context.Context, host string, port int, buf []byte) <-chan error {
	ch := make(chan error, 1)
	go func() {
		err := Transmit(ctx, host, port, buf)
		if err != nil {
			log.Error.Printf("transport: %s:%d: %v", host, port, err)
		}
		ch <- err
	}()
	return ch
}
