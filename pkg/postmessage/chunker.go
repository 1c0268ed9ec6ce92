package postmessage

// outboundObject is a queued serialized object with its send cursor.
type outboundObject struct {
	// data includes the NUL terminator.
	data   []byte
	offset int
}

func newOutboundObject(serialized []byte) *outboundObject {
	data := make([]byte, len(serialized)+1)
	copy(data, serialized)
	return &outboundObject{data: data}
}

// remaining counts the unsent bytes, terminator included.
func (o *outboundObject) remaining() int {
	return len(o.data) - o.offset
}

// next returns the chunk to send at the current offset for the given
// negotiated chunk size.
func (o *outboundObject) next(chunkSize int) Chunk {
	n := min(o.remaining(), chunkSize)
	c := Chunk{Data: o.data[o.offset : o.offset+n]}
	if o.offset == 0 {
		c.IsFirst = true
		c.Total = uint32(len(o.data))
	} else {
		c.Offset = uint32(o.offset)
	}
	return c
}

// advance records n bytes as transmitted and reports whether the object is
// complete.
func (o *outboundObject) advance(n int) bool {
	o.offset += n
	return o.offset >= len(o.data)
}

// rewind restarts the object from its first chunk.
func (o *outboundObject) rewind() {
	o.offset = 0
}

// serialized returns the object without its terminator.
func (o *outboundObject) serialized() []byte {
	return o.data[:len(o.data)-1]
}
