// Package discovery answers UDP broadcast probes so wall clients can find
// the server without configuration.
package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/codefionn/tilewall/internal/consts"
	"github.com/codefionn/tilewall/internal/logger"
)

// Responder replies to discovery requests. It keeps no state between
// datagrams.
type Responder struct {
	raw      net.PacketConn
	conn     *ipv4.PacketConn
	request  []byte
	response []byte
	log      *logger.Logger
}

// Listen binds the responder. A bind failure is returned to the caller,
// which treats it as fatal.
func Listen(addr, request, response string) (*Responder, error) {
	if request == "" {
		request = consts.DiscoveryRequest
	}
	if response == "" {
		response = consts.DiscoveryResponse
	}

	raw, err := net.ListenPacket("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind discovery socket %s: %w", addr, err)
	}

	r := &Responder{
		raw:      raw,
		conn:     ipv4.NewPacketConn(raw),
		request:  []byte(request),
		response: []byte(response),
		log:      logger.Global().WithPrefix("discovery"),
	}
	if err := r.conn.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface, true); err != nil {
		r.log.Debug("control messages unavailable: %v", err)
	}
	return r, nil
}

// Addr returns the bound address
func (r *Responder) Addr() net.Addr {
	return r.raw.LocalAddr()
}

// Close closes the socket, ending Serve
func (r *Responder) Close() error {
	return r.conn.Close()
}

// Serve answers requests until ctx is done or the socket is closed
func (r *Responder) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		r.conn.Close()
	}()

	r.log.Info("Discovery responder listening on %s", r.Addr())

	buf := make([]byte, consts.DiscoveryReadSize)
	for {
		n, cm, src, err := r.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("discovery read failed: %w", err)
		}

		payload := bytes.TrimSpace(buf[:n])
		if !bytes.Equal(payload, r.request) {
			r.log.Debug("ignoring %d byte datagram from %s", n, src)
			continue
		}

		if cm != nil {
			r.log.Debug("discovery request from %s to %s on interface %d", src, cm.Dst, cm.IfIndex)
		} else {
			r.log.Debug("discovery request from %s", src)
		}
		if _, err := r.conn.WriteTo(r.response, nil, src); err != nil {
			r.log.Warn("failed to answer %s: %v", src, err)
		}
	}
}

// Probe sends a discovery request to target and collects every sender
// that answers with response before wait elapses.
func Probe(ctx context.Context, target, request, response string, wait time.Duration) ([]net.Addr, error) {
	if request == "" {
		request = consts.DiscoveryRequest
	}
	if response == "" {
		response = consts.DiscoveryResponse
	}

	dst, err := net.ResolveUDPAddr("udp4", target)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", target, err)
	}

	lc := net.ListenConfig{Control: allowBroadcast}
	conn, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("failed to open probe socket: %w", err)
	}
	defer conn.Close()

	if _, err := conn.WriteTo([]byte(request), dst); err != nil {
		return nil, fmt.Errorf("failed to send probe: %w", err)
	}

	deadline := time.Now().Add(wait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var found []net.Addr
	buf := make([]byte, consts.DiscoveryReadSize)
	for {
		if ctx.Err() != nil {
			return found, nil
		}
		n, src, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return found, nil
			}
			return found, fmt.Errorf("probe read failed: %w", err)
		}
		if string(bytes.TrimSpace(buf[:n])) != response || seen[src.String()] {
			continue
		}
		seen[src.String()] = true
		found = append(found, src)
	}
}
