package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const wavHeaderSize = 44

// wavHeader is the canonical 44-byte RIFF/WAVE header for PCM data.
type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// EncodeWAV wraps mono PCM16 little-endian bytes in a WAV container.
func EncodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio")
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: odd PCM16 byte count %d", ErrDecode, len(pcm))
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(pcm)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(len(pcm)),
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// WAVInfo describes the PCM payload of a WAV file.
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DecodeWAV returns the PCM data of a canonical PCM WAV file.
func DecodeWAV(data []byte) ([]byte, WAVInfo, error) {
	if len(data) < wavHeaderSize {
		return nil, WAVInfo{}, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", wavHeaderSize, len(data))
	}

	var header wavHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, WAVInfo{}, fmt.Errorf("failed to read WAV header: %w", err)
	}
	if string(header.ChunkID[:]) != "RIFF" || string(header.Format[:]) != "WAVE" {
		return nil, WAVInfo{}, fmt.Errorf("not a RIFF/WAVE file")
	}
	if header.AudioFormat != 1 {
		return nil, WAVInfo{}, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}

	info := WAVInfo{
		SampleRate:    int(header.SampleRate),
		Channels:      int(header.NumChannels),
		BitsPerSample: int(header.BitsPerSample),
	}

	end := wavHeaderSize + int(header.Subchunk2Size)
	if end > len(data) || header.Subchunk2Size == 0 {
		end = len(data)
	}
	return data[wavHeaderSize:end], info, nil
}
