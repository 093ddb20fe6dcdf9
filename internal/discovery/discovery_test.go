package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/tilewall/internal/consts"
)

func startResponder(t *testing.T) *Responder {
	t.Helper()
	r, err := Listen("127.0.0.1:0", "", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("responder did not stop")
		}
	})
	return r
}

func exchange(t *testing.T, addr net.Addr, payload string) (string, error) {
	t.Helper()
	conn, err := net.Dial("udp4", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))

	buf := make([]byte, 128)
	n, err := conn.Read(buf)
	return string(buf[:n]), err
}

func TestResponderAnswersRequest(t *testing.T) {
	r := startResponder(t)

	reply, err := exchange(t, r.Addr(), consts.DiscoveryRequest)
	require.NoError(t, err)
	assert.Equal(t, consts.DiscoveryResponse, reply)
}

func TestResponderTrimsWhitespace(t *testing.T) {
	r := startResponder(t)

	reply, err := exchange(t, r.Addr(), "  "+consts.DiscoveryRequest+"\r\n")
	require.NoError(t, err)
	assert.Equal(t, consts.DiscoveryResponse, reply)
}

func TestResponderIgnoresOtherPayloads(t *testing.T) {
	r := startResponder(t)

	for _, payload := range []string{"HELLO", consts.DiscoveryRequest + "X", "video_wall_connect_request"} {
		_, err := exchange(t, r.Addr(), payload)
		var netErr net.Error
		require.ErrorAs(t, err, &netErr, payload)
		assert.True(t, netErr.Timeout())
	}

	reply, err := exchange(t, r.Addr(), consts.DiscoveryRequest)
	require.NoError(t, err)
	assert.Equal(t, consts.DiscoveryResponse, reply)
}

func TestResponderIgnoresOversizedDatagrams(t *testing.T) {
	r := startResponder(t)

	padded := consts.DiscoveryRequest
	for len(padded) <= consts.DiscoveryReadSize {
		padded += "!"
	}
	_, err := exchange(t, r.Addr(), padded)
	assert.Error(t, err)
}

func TestProbeFindsResponder(t *testing.T) {
	r := startResponder(t)

	found, err := Probe(context.Background(), r.Addr().String(), "", "", 500*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, r.Addr().String(), found[0].String())
}

func TestListenFailsOnBoundPort(t *testing.T) {
	r := startResponder(t)

	_, err := Listen(r.Addr().String(), "", "")
	assert.Error(t, err)
}
