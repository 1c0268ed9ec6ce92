package postmessage

// reassembler rebuilds one inbound object from its chunks. A Session holds a
// nil *reassembler between objects.
type reassembler struct {
	buf   []byte
	total uint32
}

// startReassembly validates a first chunk and allocates the object buffer.
// A declared total over maxSize is ErrObjectTooLarge.
func startReassembly(c Chunk, maxSize int) (*reassembler, error) {
	if c.Total == 0 || uint32(len(c.Data)) > c.Total {
		return nil, ErrChunkOverrun
	}
	if maxSize > 0 && uint64(c.Total) > uint64(maxSize) {
		return nil, ErrObjectTooLarge
	}
	r := &reassembler{
		buf:   make([]byte, 0, c.Total),
		total: c.Total,
	}
	r.buf = append(r.buf, c.Data...)
	return r, nil
}

// received returns the number of bytes collected so far.
func (r *reassembler) received() uint32 {
	return uint32(len(r.buf))
}

// done returns true once the declared total has arrived.
func (r *reassembler) done() bool {
	return r.received() == r.total
}

// feed appends a continuation chunk. Its offset must equal the bytes already
// received and it must not run past the declared total.
func (r *reassembler) feed(c Chunk) error {
	if c.Offset != r.received() {
		return ErrChunkOffset
	}
	if uint64(c.Offset)+uint64(len(c.Data)) > uint64(r.total) {
		return ErrChunkOverrun
	}
	r.buf = append(r.buf, c.Data...)
	return nil
}

// payload returns the object without its terminator, or ErrMissingTerminator
// if the final byte is not NUL. Only valid once done.
func (r *reassembler) payload() ([]byte, error) {
	if r.buf[len(r.buf)-1] != 0 {
		return nil, ErrMissingTerminator
	}
	return r.buf[:len(r.buf)-1], nil
}
