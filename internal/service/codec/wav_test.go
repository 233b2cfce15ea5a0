package codec

import (
	"bytes"
	"testing"
)

func TestEncodeWAV_DecodeWAV(t *testing.T) {
	pcm := DecodeMuLaw(bytes.Repeat([]byte{0x10, 0x90}, 80))

	wav, err := EncodeWAV(pcm, 8000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(wav) != wavHeaderSize+len(pcm) {
		t.Errorf("expected %d bytes, got %d", wavHeaderSize+len(pcm), len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE markers")
	}

	data, info, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.SampleRate != 8000 || info.Channels != 1 || info.BitsPerSample != 16 {
		t.Errorf("unexpected info %+v", info)
	}
	if !bytes.Equal(data, pcm) {
		t.Error("PCM payload did not survive the round trip")
	}
}

func TestEncodeWAV_Errors(t *testing.T) {
	if _, err := EncodeWAV(nil, 8000); err == nil {
		t.Error("expected error for empty audio")
	}
	if _, err := EncodeWAV([]byte{1, 2, 3}, 8000); err == nil {
		t.Error("expected error for odd byte count")
	}
	if _, err := EncodeWAV([]byte{1, 2}, 0); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("short")); err == nil {
		t.Error("expected error for short input")
	}
	if _, _, err := DecodeWAV(make([]byte, 64)); err == nil {
		t.Error("expected error for missing RIFF header")
	}
}
