package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// DefaultSampleRate is the canonical extraction rate.
const DefaultSampleRate = 16000

const formatPCM = 1

// Info describes the PCM stream of a WAV file.
type Info struct {
	Format        uint16
	Channels      int
	SampleRate    int
	BitsPerSample int
	DataBytes     int64
}

// DurationMS returns the stream length in milliseconds.
func (i Info) DurationMS() int64 {
	frameBytes := int64(i.Channels * i.BitsPerSample / 8)
	if frameBytes <= 0 || i.SampleRate <= 0 {
		return 0
	}
	return i.DataBytes / frameBytes * 1000 / int64(i.SampleRate)
}

// ValidateWAV requires mono 16-bit PCM at sampleRate.
func ValidateWAV(info Info, sampleRate int) error {
	switch {
	case info.Format != formatPCM:
		return fmt.Errorf("wav format %d is not PCM", info.Format)
	case info.Channels != 1:
		return fmt.Errorf("wav has %d channels, want mono", info.Channels)
	case info.SampleRate != sampleRate:
		return fmt.Errorf("wav sample rate %d, want %d", info.SampleRate, sampleRate)
	case info.BitsPerSample != 16:
		return fmt.Errorf("wav has %d bits per sample, want 16", info.BitsPerSample)
	}
	return nil
}

// ReadWAVInfo parses only the header chunks of the WAV at path.
func ReadWAVInfo(path string) (Info, error) {
	file, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer file.Close()
	info, _, err := readHeader(file)
	if err != nil {
		return Info{}, err
	}
	offset, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return Info{}, err
	}
	stat, err := file.Stat()
	if err != nil {
		return Info{}, err
	}
	if remaining := stat.Size() - offset; remaining < info.DataBytes {
		info.DataBytes = remaining
	}
	return info, nil
}

// ReadWAV returns the header and raw little-endian PCM payload of path.
func ReadWAV(path string) (Info, []byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return Info{}, nil, err
	}
	defer file.Close()
	info, data, err := readHeader(file)
	if err != nil {
		return Info{}, nil, err
	}
	pcm, err := io.ReadAll(data)
	if err != nil {
		return Info{}, nil, fmt.Errorf("read wav data: %w", err)
	}
	pcm = pcm[:len(pcm)-len(pcm)%2]
	info.DataBytes = int64(len(pcm))
	return info, pcm, nil
}

// readHeader walks RIFF chunks until the data chunk and returns a reader
// positioned at its payload.
func readHeader(r io.Reader) (Info, io.Reader, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Info{}, nil, fmt.Errorf("read riff header: %w", err)
	}
	if !bytes.Equal(riff[0:4], []byte("RIFF")) || !bytes.Equal(riff[8:12], []byte("WAVE")) {
		return Info{}, nil, errors.New("not a RIFF/WAVE file")
	}

	var (
		info    Info
		haveFmt bool
	)
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return Info{}, nil, fmt.Errorf("read chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := int64(binary.LittleEndian.Uint32(chunk[4:8]))
		switch id {
		case "fmt ":
			if size < 16 {
				return Info{}, nil, fmt.Errorf("fmt chunk too small: %d", size)
			}
			body := make([]byte, size+size%2)
			if _, err := io.ReadFull(r, body); err != nil {
				return Info{}, nil, fmt.Errorf("read fmt chunk: %w", err)
			}
			info.Format = binary.LittleEndian.Uint16(body[0:2])
			info.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return Info{}, nil, errors.New("data chunk before fmt chunk")
			}
			// ffmpeg writes 0xFFFFFFFF when streaming to a pipe.
			if size == 0xFFFFFFFF {
				size = 1<<62 - 1
			}
			info.DataBytes = size
			return info, io.LimitReader(r, size), nil
		default:
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return Info{}, nil, fmt.Errorf("skip %q chunk: %w", id, err)
			}
		}
	}
}

// WriteWAV writes mono 16-bit PCM samples to path.
func WriteWAV(path string, sampleRate int, samples []int16) error {
	var buf bytes.Buffer
	dataBytes := uint32(len(samples) * 2)
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, 36+dataBytes)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(formatPCM))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataBytes)
	_ = binary.Write(&buf, binary.LittleEndian, samples)
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
