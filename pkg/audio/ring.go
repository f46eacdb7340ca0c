package audio

import (
	"errors"

	"github.com/smallnest/ringbuffer"
)

// FrameRing buffers serialized frames in a fixed-size ring, evicting the
// oldest complete frame when full. Used for the capture pre-roll and the
// pre-connect audio buffer.
type FrameRing interface {
	Enqueue(frame Frame) error
	Dequeue() (Frame, bool)
	Len() int
	Capacity() int
	Drain() []Frame
	Reset()
}

type frameRing struct {
	size int
	rb   *ringbuffer.RingBuffer
}

// NewRing creates a frame ring with the given byte capacity.
func NewRing(size int) FrameRing {
	return &frameRing{
		size: size,
		rb:   ringbuffer.New(size).SetBlocking(false),
	}
}

// Capacity implements FrameRing.
func (r *frameRing) Capacity() int {
	return r.size
}

// Len implements FrameRing.
func (r *frameRing) Len() int {
	return r.rb.Length()
}

// Enqueue implements FrameRing. Frames are stored with a 4-byte size prefix;
// when space runs out the oldest complete frame is removed first.
func (r *frameRing) Enqueue(frame Frame) error {
	data, err := frame.MarshalBinary()
	if err != nil {
		return err
	}

	requiredSpace := len(data) + 4
	if requiredSpace > r.rb.Capacity() {
		return errors.New("audio frame too large for buffer")
	}

	for r.rb.Free() < requiredSpace {
		if !r.removeOldestFrame() {
			r.rb.Reset()
			break
		}
	}

	sizeBytes := make([]byte, 4)
	sizeBytes[0] = byte(len(data))
	sizeBytes[1] = byte(len(data) >> 8)
	sizeBytes[2] = byte(len(data) >> 16)
	sizeBytes[3] = byte(len(data) >> 24)

	if _, err = r.rb.Write(sizeBytes); err != nil {
		return err
	}

	_, err = r.rb.Write(data)
	return err
}

// Dequeue implements FrameRing.
func (r *frameRing) Dequeue() (Frame, bool) {
	if r.rb.IsEmpty() {
		return Frame{}, false
	}

	sizeBytes := make([]byte, 4)
	n, err := r.rb.Read(sizeBytes)
	if err != nil || n != 4 {
		return Frame{}, false
	}

	size := int(sizeBytes[0]) | int(sizeBytes[1])<<8 | int(sizeBytes[2])<<16 | int(sizeBytes[3])<<24

	data := make([]byte, size)
	n, err = r.rb.Read(data)
	if err != nil || n != size {
		return Frame{}, false
	}

	var frame Frame
	if err := frame.UnmarshalBinary(data); err != nil {
		return Frame{}, false
	}

	return frame, true
}

// Drain empties the ring and returns all buffered frames in order.
func (r *frameRing) Drain() []Frame {
	var out []Frame
	for {
		frame, ok := r.Dequeue()
		if !ok {
			break
		}
		out = append(out, frame)
	}
	return out
}

// Reset discards all buffered frames.
func (r *frameRing) Reset() {
	r.rb.Reset()
}

// removeOldestFrame removes the oldest complete frame from the buffer.
func (r *frameRing) removeOldestFrame() bool {
	if r.rb.IsEmpty() {
		return false
	}

	sizeBytes := make([]byte, 4)
	n, err := r.rb.Read(sizeBytes)
	if err != nil || n != 4 {
		return false
	}

	size := int(sizeBytes[0]) | int(sizeBytes[1])<<8 | int(sizeBytes[2])<<16 | int(sizeBytes[3])<<24

	if size > 0 {
		skipData := make([]byte, size)
		n, err := r.rb.Read(skipData)
		if err != nil || n != size {
			return false
		}
	}

	return true
}
