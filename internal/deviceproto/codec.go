// Package deviceproto implements the fixed-length byte frame exchanged with
// a cryptographic identity token over a serial line: building outbound
// command frames, encoding them as ASCII hex, and decoding + parsing the
// token's hex reply back into typed fields.
package deviceproto

import (
	"errors"
	"time"
)

// Command is one operation a frame can request of the device.
type Command byte

const (
	// CmdIdentify reads the device's PCC/ID pair.
	CmdIdentify Command = 0x01
	// CmdBIST runs the built-in self-test.
	CmdBIST Command = 0x80
	// CmdChallengeResponse poses a challenge word and reads back the response word.
	CmdChallengeResponse Command = 0x03
	// CmdChallengeResponseWithEK is CmdChallengeResponse plus an encryption-key field.
	CmdChallengeResponseWithEK Command = 0x07
)

// OutboundFrameSize is the fixed length, in bytes, of every frame sent to a device.
const OutboundFrameSize = 72

// Outbound frame layout offsets, per the wire format.
const (
	offCommand       = 0
	lenCommand       = 1
	offReserved      = 1
	lenChallenge     = 32
	offChallenge     = 5
	offTrailingPadAt = offChallenge + lenChallenge + 1 // one zero separator before the pad
)

// reservedBytes returns the 3 literal bytes that follow the opcode. CR and
// CR+EK frames use a different reserved pattern than Identify/BIST.
func reservedBytes(cmd Command) [3]byte {
	switch cmd {
	case CmdChallengeResponse, CmdChallengeResponseWithEK:
		return [3]byte{0x00, 0x08, 0x00}
	default:
		return [3]byte{0x00, 0x00, 0x00}
	}
}

// ErrChallengeTooLong is returned when the supplied challenge payload does
// not fit in the 32-byte challenge field.
var ErrChallengeTooLong = errors.New("deviceproto: challenge payload exceeds 32 bytes")

// BuildFrame assembles a 72-byte outbound frame for cmd, embedding challenge
// (the big-endian challenge-word bytes for CR/CR+EK, empty for Identify/BIST).
func BuildFrame(cmd Command, challenge []byte) ([]byte, error) {
	if len(challenge) > lenChallenge {
		return nil, ErrChallengeTooLong
	}

	frame := make([]byte, OutboundFrameSize)
	frame[offCommand] = byte(cmd)

	reserved := reservedBytes(cmd)
	copy(frame[offReserved:offReserved+3], reserved[:])
	// frame[4] stays zero: separator before the challenge field.

	copy(frame[offChallenge:offChallenge+len(challenge)], challenge)
	// frame[37] stays zero: separator before the trailing pad.
	// frame[38:72] stays zero: trailing pad.

	return frame, nil
}

// ProcessingDelay is the settle interval the Transport must sleep after
// writing a frame for cmd, before it starts reading the reply.
func ProcessingDelay(cmd Command) time.Duration {
	switch cmd {
	case CmdIdentify:
		return 250 * time.Millisecond
	case CmdChallengeResponse, CmdChallengeResponseWithEK:
		return 300 * time.Millisecond
	default:
		return 150 * time.Millisecond
	}
}
