package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Format describes PCM audio as the output device needs it.
type Format struct {
	SampleRate     int
	Channels       int
	BytesPerSample int
}

var (
	ErrNotWAV = errors.New("not a RIFF/WAVE stream")
	ErrNoData = errors.New("wav stream has no data chunk")
	ErrNotPCM = errors.New("wav stream is not linear PCM")
)

// ParseWAV extracts the PCM format and sample data from a WAV byte stream.
// Only linear PCM is supported, which is what the synthesis engine emits.
func ParseWAV(data []byte) (Format, []byte, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Format{}, nil, ErrNotWAV
	}

	var format Format
	var pcm []byte
	haveFmt := false

	// Walk the chunk list; chunks other than fmt/data are skipped.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return Format{}, nil, fmt.Errorf("fmt chunk too short: %d bytes", size)
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			if audioFormat != 1 {
				return Format{}, nil, ErrNotPCM
			}
			format.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits := int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			format.BytesPerSample = bits / 8
			haveFmt = true
		case "data":
			pcm = data[body : body+size]
		}

		// Chunks are word-aligned.
		off = body + size + size%2
	}

	if !haveFmt {
		return Format{}, nil, ErrNotWAV
	}
	if pcm == nil {
		return Format{}, nil, ErrNoData
	}
	return format, pcm, nil
}

// Duration returns the playback length of pcm in seconds.
func (f Format) Duration(pcmLen int) float64 {
	rate := f.SampleRate * f.Channels * f.BytesPerSample
	if rate == 0 {
		return 0
	}
	return float64(pcmLen) / float64(rate)
}
