package deviceproto

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// Inbound field offsets and lengths, measured in the decoded (post-hex) byte slice.
const (
	offPCC  = 5
	lenPCC  = 16
	offID   = 21
	lenID   = 16
	offRW   = 71
	lenRW   = 16
	offEK   = 87
	lenEK   = 16
	offBIST = 71

	bistPassByte = 0x50
)

// ErrShortFrame is returned when a decoded reply is too short to contain a
// requested field.
var ErrShortFrame = errors.New("deviceproto: response too short for field")

func extractField(decoded []byte, offset, length int) ([]byte, error) {
	if len(decoded) < offset+length {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortFrame, length, offset, len(decoded))
	}
	field := make([]byte, length)
	copy(field, decoded[offset:offset+length])
	return field, nil
}

// PCCID is the 32-byte device identity (16-byte PCC concatenated with
// 16-byte ID), rendered as 64 lowercase hex characters.
type PCCID string

// Bytes decodes the PCCID back to its 32 raw bytes.
func (p PCCID) Bytes() ([]byte, error) {
	return hex.DecodeString(string(p))
}

// ParseIdentity extracts the PCC and ID fields from a decoded Identify reply
// and renders them as a PCCID.
func ParseIdentity(decoded []byte) (PCCID, error) {
	pcc, err := extractField(decoded, offPCC, lenPCC)
	if err != nil {
		return "", err
	}
	id, err := extractField(decoded, offID, lenID)
	if err != nil {
		return "", err
	}
	return PCCID(hex.EncodeToString(pcc) + hex.EncodeToString(id)), nil
}

// ParseResponseWord extracts the RW field from a decoded CR reply and
// returns it as 32 lowercase hex characters.
func ParseResponseWord(decoded []byte) (string, error) {
	rw, err := extractField(decoded, offRW, lenRW)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(rw), nil
}

// ParseEncryptionKey extracts the EK field from a decoded CR+EK reply.
func ParseEncryptionKey(decoded []byte) (string, error) {
	ek, err := extractField(decoded, offEK, lenEK)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(ek), nil
}

// BISTResult is the parsed outcome of a built-in self-test reply.
type BISTResult struct {
	Pass bool
	PCC  string
	ID   string
	RW   string
	EK   string
}

// ParseBIST extracts every field a BIST reply carries, including the pass byte.
func ParseBIST(decoded []byte) (BISTResult, error) {
	if len(decoded) < offBIST+1 {
		return BISTResult{}, fmt.Errorf("%w: need 1 byte at offset %d, have %d", ErrShortFrame, offBIST, len(decoded))
	}
	pcc, err := extractField(decoded, offPCC, lenPCC)
	if err != nil {
		return BISTResult{}, err
	}
	id, err := extractField(decoded, offID, lenID)
	if err != nil {
		return BISTResult{}, err
	}
	rw, err := extractField(decoded, offRW, lenRW)
	if err != nil {
		return BISTResult{}, err
	}
	ek, err := extractField(decoded, offEK, lenEK)
	if err != nil {
		return BISTResult{}, err
	}
	return BISTResult{
		Pass: decoded[offBIST] == bistPassByte,
		PCC:  hex.EncodeToString(pcc),
		ID:   hex.EncodeToString(id),
		RW:   hex.EncodeToString(rw),
		EK:   hex.EncodeToString(ek),
	}, nil
}
