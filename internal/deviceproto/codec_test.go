package deviceproto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildFrameIsAlwaysOutboundFrameSize(t *testing.T) {
	for _, cmd := range []Command{CmdIdentify, CmdBIST, CmdChallengeResponse, CmdChallengeResponseWithEK} {
		frame, err := BuildFrame(cmd, nil)
		require.NoError(t, err)
		require.Len(t, frame, OutboundFrameSize)
		require.Equal(t, byte(cmd), frame[0])
	}
}

func TestBuildFrameChallengeResponseReservedBytes(t *testing.T) {
	frame, err := BuildFrame(CmdChallengeResponse, make([]byte, 16))
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x08, 0x00}, frame[1:4])
}

func TestBuildFrameIdentifyReservedBytes(t *testing.T) {
	frame, err := BuildFrame(CmdIdentify, nil)
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x00, 0x00}, frame[1:4])
}

func TestBuildFrameRejectsOversizedChallenge(t *testing.T) {
	_, err := BuildFrame(CmdChallengeResponse, make([]byte, 33))
	require.ErrorIs(t, err, ErrChallengeTooLong)
}

func TestEncodeDecodeWireRoundTrip(t *testing.T) {
	frame, err := BuildFrame(CmdIdentify, nil)
	require.NoError(t, err)

	wire := EncodeWire(frame)
	require.True(t, strings.HasSuffix(string(wire), "\r"))

	decoded, err := DecodeHexStream(wire)
	require.NoError(t, err)
	require.Equal(t, frame, decoded)
}

func TestDecodeHexStreamStripsWhitespace(t *testing.T) {
	decoded, err := DecodeHexStream([]byte("aa\r\nbb  cc\r"))
	require.NoError(t, err)
	require.Equal(t, []byte{0xaa, 0xbb, 0xcc}, decoded)
}

func TestDecodeHexStreamTruncatesOddTrailingNibble(t *testing.T) {
	decoded, err := DecodeHexStream([]byte("aabbc"))
	require.NoError(t, err)
	require.Equal(t, []byte{0xaa, 0xbb}, decoded)
}

func TestDecodeHexStreamRejectsEmpty(t *testing.T) {
	_, err := DecodeHexStream([]byte("   \r\n"))
	require.ErrorIs(t, err, ErrInvalidHex)
}
