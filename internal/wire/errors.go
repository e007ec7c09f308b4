package wire

import "errors"

// Sentinel errors classifying every codec and session fault: IO,
// NotAvailable, Serialize, Compression, IllegalState. Wrapped with
// fmt.Errorf at the detection site so callers can still errors.Is
// against these.
var (
	ErrIO          = errors.New("wire: io")
	ErrNotAvail    = errors.New("wire: not available")
	ErrSerialize   = errors.New("wire: serialize")
	ErrCompression = errors.New("wire: compression")
	ErrIllegal     = errors.New("wire: illegal state")
)
