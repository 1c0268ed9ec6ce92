package postmessage

// Capabilities is what a peer advertises in its ResetComplete.
type Capabilities struct {
	// MinVersion and MaxVersion bound the supported protocol versions.
	MinVersion uint8
	MaxVersion uint8

	// MaxTxChunkSize is the largest chunk payload this side sends.
	MaxTxChunkSize uint16

	// MaxRxChunkSize is the largest chunk payload this side accepts.
	MaxRxChunkSize uint16
}

// Capability defaults.
const (
	DefaultMinVersion   = 1
	DefaultMaxVersion   = 1
	DefaultMaxChunkSize = 2000
)

// DefaultCapabilities returns version 1 with 2000 byte chunks both ways.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		MinVersion:     DefaultMinVersion,
		MaxVersion:     DefaultMaxVersion,
		MaxTxChunkSize: DefaultMaxChunkSize,
		MaxRxChunkSize: DefaultMaxChunkSize,
	}
}

// Validate checks that the version range is ordered and both chunk sizes are
// non-zero.
func (c Capabilities) Validate() error {
	if c.MinVersion > c.MaxVersion {
		return ErrInvalidVersionRange
	}
	if c.MaxTxChunkSize == 0 || c.MaxRxChunkSize == 0 {
		return ErrInvalidChunkSize
	}
	return nil
}

// Params are the values negotiated for an open session.
type Params struct {
	Version     uint8
	TxChunkSize uint16
	RxChunkSize uint16
}

// Compatible reports whether remote's version range overlaps local's.
func Compatible(local, remote Capabilities) bool {
	return remote.MaxVersion >= local.MinVersion && remote.MinVersion <= local.MaxVersion
}

// Negotiate returns the session parameters as seen from local. The version is
// the lower of the two maxima; each direction's chunk size is bounded by the
// receiver's limit. ok is false when the ranges do not overlap.
func Negotiate(local, remote Capabilities) (params Params, ok bool) {
	if !Compatible(local, remote) {
		return Params{}, false
	}
	return Params{
		Version:     min(local.MaxVersion, remote.MaxVersion),
		TxChunkSize: min(local.MaxTxChunkSize, remote.MaxRxChunkSize),
		RxChunkSize: min(local.MaxRxChunkSize, remote.MaxTxChunkSize),
	}, true
}
