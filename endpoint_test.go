package zmtp_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-zmtp/zmtp"
)

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		in        string
		transport zmtp.Transport
		target    string
	}{
		{"tcp://127.0.0.1:5555", zmtp.TCP, "127.0.0.1:5555"},
		{"udp://127.0.0.1:5555", zmtp.UDP, "127.0.0.1:5555"},
		{"ipc:///tmp/my.sock", zmtp.IPC, "/tmp/my.sock"},
		{"inproc://my-name", zmtp.Inproc, "my-name"},
	}
	for _, c := range cases {
		ep, err := zmtp.ParseEndpoint(c.in)
		require.NoError(t, err)
		require.Equal(t, c.transport, ep.Transport)
		require.Equal(t, c.target, ep.Target)
	}
}

func TestParseEndpointRejectsMalformed(t *testing.T) {
	_, err := zmtp.ParseEndpoint("not-an-endpoint")
	require.Error(t, err)

	_, err = zmtp.ParseEndpoint("tcp://")
	require.Error(t, err)
}

func TestParseEndpointRejectsUnknownScheme(t *testing.T) {
	_, err := zmtp.ParseEndpoint("quic://127.0.0.1:1234")
	require.Error(t, err)
	require.ErrorIs(t, err, zmtp.TransportUnknown)
}
