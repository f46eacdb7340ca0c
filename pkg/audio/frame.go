package audio

import (
	"encoding/binary"
	"errors"
	"time"
)

// Direction marks which way a frame is flowing.
type Direction uint8

const (
	Capture Direction = iota
	Playback
)

// Frame is one chunk of raw PCM16LE samples with ordering metadata.
// Frames are transient; nothing retains them past the active turn buffer.
type Frame struct {
	Seq        uint64
	Direction  Direction
	Data       []byte
	Timestamp  time.Time
	SampleRate int32
	Channels   int16
}

// DurationMs returns the frame length in milliseconds.
func (f *Frame) DurationMs() int {
	if f.SampleRate == 0 || f.Channels == 0 {
		return 0
	}
	samples := len(f.Data) / 2 / int(f.Channels)
	return samples * 1000 / int(f.SampleRate)
}

// MarshalBinary serializes a frame for ring storage.
// Format: seq(8) + direction(1) + timestamp(8) + sampleRate(4) + channels(2) + dataLen(4) + data
func (f *Frame) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 8+1+8+4+2+4+len(f.Data))

	offset := 0
	binary.LittleEndian.PutUint64(buf[offset:], f.Seq)
	offset += 8

	buf[offset] = byte(f.Direction)
	offset++

	binary.LittleEndian.PutUint64(buf[offset:], uint64(f.Timestamp.UnixNano()))
	offset += 8

	binary.LittleEndian.PutUint32(buf[offset:], uint32(f.SampleRate))
	offset += 4

	binary.LittleEndian.PutUint16(buf[offset:], uint16(f.Channels))
	offset += 2

	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(f.Data)))
	offset += 4

	copy(buf[offset:], f.Data)

	return buf, nil
}

func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < 27 { // minimum size: 8+1+8+4+2+4
		return errors.New("frame data too short")
	}

	offset := 0
	f.Seq = binary.LittleEndian.Uint64(data[offset:])
	offset += 8

	f.Direction = Direction(data[offset])
	offset++

	timestamp := int64(binary.LittleEndian.Uint64(data[offset:]))
	f.Timestamp = time.Unix(0, timestamp)
	offset += 8

	f.SampleRate = int32(binary.LittleEndian.Uint32(data[offset:]))
	offset += 4

	f.Channels = int16(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2

	dataLen := binary.LittleEndian.Uint32(data[offset:])
	offset += 4

	if len(data[offset:]) >= int(dataLen) {
		f.Data = make([]byte, dataLen)
		copy(f.Data, data[offset:offset+int(dataLen)])
	}

	return nil
}
