package wireudp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := []Frame{
		{Group: []byte("sports"), Payload: []byte("score update")},
		{Group: nil, Payload: []byte("no group")},
		{Group: []byte("g"), Payload: nil},
	}
	for _, f := range cases {
		buf, err := Encode(f)
		require.NoError(t, err)

		got, err := Decode(buf, 0)
		require.NoError(t, err)
		require.Equal(t, f.Group, got.Group)
		require.Equal(t, f.Payload, got.Payload)
	}
}

func TestDecodeRejectsEmptyDatagram(t *testing.T) {
	_, err := Decode(nil, 0)
	require.Error(t, err)
}

func TestDecodeRejectsTruncatedGroup(t *testing.T) {
	_, err := Decode([]byte{5, 'a', 'b'}, 0)
	require.Error(t, err)
}

func TestDecodeEnforcesMaxMessageSize(t *testing.T) {
	buf, err := Encode(Frame{Payload: make([]byte, 100)})
	require.NoError(t, err)

	_, err = Decode(buf, 10)
	require.Error(t, err)
}

func TestEncodeRejectsOverlongGroup(t *testing.T) {
	_, err := Encode(Frame{Group: make([]byte, 16)})
	require.Error(t, err)
}
