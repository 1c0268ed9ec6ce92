package discovery

import (
	"fmt"
	"strconv"
	"strings"
)

// TXT record keys.
const (
	TXTKeyVersion = "ver"
	TXTKeyRxChunk = "rx"
	TXTKeyRole    = "role"
	TXTKeyName    = "name"
)

// MaxNameLength is the longest friendly name carried in the TXT record.
const MaxNameLength = 32

// AdvertisementTXT is the TXT payload of a _pebblemsg._tcp service.
type AdvertisementTXT struct {
	// MinVersion and MaxVersion are the supported protocol version range.
	MinVersion uint8
	MaxVersion uint8

	// MaxRxChunkSize is the largest chunk payload the advertiser accepts.
	MaxRxChunkSize uint16

	Role Role

	// Name is an optional friendly name.
	Name string
}

// Validate checks the TXT values.
func (t *AdvertisementTXT) Validate() error {
	if t.MinVersion == 0 || t.MinVersion > t.MaxVersion {
		return fmt.Errorf("%w: version range %d-%d", ErrInvalidTXTRecord, t.MinVersion, t.MaxVersion)
	}
	if t.MaxRxChunkSize == 0 {
		return fmt.Errorf("%w: rx chunk size is zero", ErrInvalidTXTRecord)
	}
	if !t.Role.IsValid() {
		return fmt.Errorf("%w: role %s", ErrInvalidTXTRecord, t.Role)
	}
	if len(t.Name) > MaxNameLength || strings.ContainsRune(t.Name, '=') {
		return fmt.Errorf("%w: name %q", ErrInvalidTXTRecord, t.Name)
	}
	return nil
}

// Encode returns the TXT strings in key=value form.
func (t *AdvertisementTXT) Encode() []string {
	txt := []string{
		fmt.Sprintf("%s=%d-%d", TXTKeyVersion, t.MinVersion, t.MaxVersion),
		fmt.Sprintf("%s=%d", TXTKeyRxChunk, t.MaxRxChunkSize),
		fmt.Sprintf("%s=%s", TXTKeyRole, t.Role),
	}
	if t.Name != "" {
		txt = append(txt, TXTKeyName+"="+t.Name)
	}
	return txt
}

// ParseTXT parses raw TXT record strings into a map.
func ParseTXT(records []string) map[string]string {
	result := make(map[string]string)
	for _, record := range records {
		if idx := strings.IndexByte(record, '='); idx > 0 {
			result[record[:idx]] = record[idx+1:]
		}
	}
	return result
}

// ParseAdvertisementTXT parses raw TXT records. The version, rx and role
// keys are required.
func ParseAdvertisementTXT(records []string) (*AdvertisementTXT, error) {
	m := ParseTXT(records)
	txt := &AdvertisementTXT{Name: m[TXTKeyName]}

	ver, ok := m[TXTKeyVersion]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidTXTRecord, TXTKeyVersion)
	}
	lo, hi, found := strings.Cut(ver, "-")
	if !found {
		hi = lo
	}
	minV, err := strconv.ParseUint(lo, 10, 8)
	if err != nil {
		return nil, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, TXTKeyVersion, ver)
	}
	maxV, err := strconv.ParseUint(hi, 10, 8)
	if err != nil {
		return nil, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, TXTKeyVersion, ver)
	}
	txt.MinVersion, txt.MaxVersion = uint8(minV), uint8(maxV)

	rx, err := strconv.ParseUint(m[TXTKeyRxChunk], 10, 16)
	if err != nil {
		return nil, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, TXTKeyRxChunk, m[TXTKeyRxChunk])
	}
	txt.MaxRxChunkSize = uint16(rx)
	txt.Role = ParseRole(m[TXTKeyRole])

	if err := txt.Validate(); err != nil {
		return nil, err
	}
	return txt, nil
}
