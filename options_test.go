package zmtp_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-zmtp/zmtp"
)

func TestDefaultOptions(t *testing.T) {
	o := zmtp.DefaultOptions()
	require.Equal(t, 1024, o.OutgoingQueueSize)
	require.Equal(t, 1024, o.IncomingQueueSize)
	require.Equal(t, 10*time.Second, o.HeartbeatTimeout)
	require.Equal(t, 30*time.Second, o.MaxReconnectInterval)
	require.Equal(t, 0, o.MaxMessageSize)
	require.Equal(t, 8192, o.MaxDatagramSize)
}
