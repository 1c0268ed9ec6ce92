package message

import (
	"encoding/binary"
	"io"
)

// StreamReader reads length-prefixed frames from a stream transport.
type StreamReader struct {
	r io.Reader
}

// NewStreamReader creates a new stream reader.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{r: r}
}

// ReadFrame reads one frame and returns it without the length prefix.
// io.EOF is returned unchanged when the stream ends cleanly between frames.
func (sr *StreamReader) ReadFrame() ([]byte, error) {
	var lenBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(sr.r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, ErrStreamReadFailed
	}

	frameLen := binary.LittleEndian.Uint16(lenBuf[:])
	if frameLen == 0 {
		return nil, ErrInvalidLengthPrefix
	}

	frame := make([]byte, frameLen)
	if _, err := io.ReadFull(sr.r, frame); err != nil {
		return nil, ErrStreamReadFailed
	}
	return frame, nil
}

// StreamWriter writes length-prefixed frames to a stream transport.
type StreamWriter struct {
	w io.Writer
}

// NewStreamWriter creates a new stream writer.
func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{w: w}
}

// WriteFrame writes frame with its length prefix in a single Write call.
func (sw *StreamWriter) WriteFrame(frame []byte) error {
	buf, err := EncodeWithLengthPrefix(frame)
	if err != nil {
		return err
	}
	_, err = sw.w.Write(buf)
	return err
}

// EncodeWithLengthPrefix adds the 2-byte little-endian length prefix.
func EncodeWithLengthPrefix(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, ErrInvalidLengthPrefix
	}
	if len(frame) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, LengthPrefixSize+len(frame))
	binary.LittleEndian.PutUint16(buf[:LengthPrefixSize], uint16(len(frame)))
	copy(buf[LengthPrefixSize:], frame)
	return buf, nil
}
