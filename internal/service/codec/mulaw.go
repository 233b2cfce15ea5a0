// Package codec converts telephony audio between G.711 mu-law and
// 16-bit little-endian linear PCM.
package codec

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrDecode is returned for payloads that cannot be turned into PCM samples.
var ErrDecode = errors.New("decode error")

const (
	muLawBias = 0x84
	muLawClip = 32635
)

// muLawTable holds the G.711 expansion of every mu-law byte.
var muLawTable = func() [256]int16 {
	var t [256]int16
	for i := 0; i < 256; i++ {
		t[i] = expand(byte(i))
	}
	return t
}()

func expand(u byte) int16 {
	u = ^u
	exponent := (u >> 4) & 0x07
	mantissa := int32(u & 0x0F)
	magnitude := ((mantissa << 3) + muLawBias) << exponent
	if u&0x80 != 0 {
		return int16(muLawBias - magnitude)
	}
	return int16(magnitude - muLawBias)
}

// MuLawToLinear expands a single mu-law sample.
func MuLawToLinear(u byte) int16 {
	return muLawTable[u]
}

// LinearToMuLaw compresses a single linear sample.
func LinearToMuLaw(sample int16) byte {
	s := int32(sample)
	sign := byte(0)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > muLawClip {
		s = muLawClip
	}
	s += muLawBias

	exponent := byte(7)
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((s >> (exponent + 3)) & 0x0F)
	return ^(sign | exponent<<4 | mantissa)
}

// DecodeMuLaw expands mu-law samples into PCM16 little-endian bytes.
// The output is exactly twice the input length.
func DecodeMuLaw(encoded []byte) []byte {
	out := make([]byte, len(encoded)*2)
	for i, u := range encoded {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(MuLawToLinear(u)))
	}
	return out
}

// EncodeMuLaw compresses PCM16 little-endian bytes into mu-law samples.
func EncodeMuLaw(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: odd PCM16 byte count %d", ErrDecode, len(pcm))
	}
	out := make([]byte, len(pcm)/2)
	for i := range out {
		out[i] = LinearToMuLaw(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out, nil
}

// DecodePayload decodes a base64 media payload carrying mu-law audio into
// PCM16 bytes. Empty payloads, payloads whose encoded length does not cover
// whole bytes, and invalid base64 all fail with ErrDecode.
func DecodePayload(payload string) ([]byte, error) {
	if payload == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	if len(payload)%4 != 0 {
		return nil, fmt.Errorf("%w: payload length %d is not byte aligned", ErrDecode, len(payload))
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	return DecodeMuLaw(raw), nil
}

// EncodePayload is the inverse of DecodePayload.
func EncodePayload(pcm []byte) (string, error) {
	ulaw, err := EncodeMuLaw(pcm)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ulaw), nil
}

// Samples reinterprets PCM16 little-endian bytes as samples.
func Samples(pcm []byte) ([]int16, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: odd PCM16 byte count %d", ErrDecode, len(pcm))
	}
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out, nil
}
