package ipfix

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated is returned by the byte reader and record walkers when a
	// read would cross the declared remaining-bytes boundary.
	ErrTruncated = errors.New("ipfix: truncated")
	// ErrProtocol covers structural violations: zero flowset length, a
	// scope-field count of zero in an option template, a field count that
	// exceeds the bytes available, and similar.
	ErrProtocol = errors.New("ipfix: protocol violation")
	// ErrNoTemplate is returned by ProcessOptionData when the table id names
	// no option template the exporter has announced. A data flowset that
	// references an unknown template id is counted as dropped and returns no
	// error.
	ErrNoTemplate = errors.New("ipfix: no matching template")
	// ErrBufferFull is returned when the sink cannot accommodate the next
	// output record; the caller aborts the remainder of the datagram.
	ErrBufferFull = errors.New("ipfix: output buffer full")
)

// DecoderError wraps any error surfaced while decoding one IPFIX message,
// so callers can log it without losing the message's identity.
type DecoderError struct {
	Version uint16
	Err     error
}

func (e *DecoderError) Error() string {
	return fmt.Sprintf("ipfix v%d: %s", e.Version, e.Err.Error())
}

func (e *DecoderError) Unwrap() error {
	return e.Err
}

// FlowSetError wraps an error to a specific flowset within a message:
// its id, the observation domain, and (when known) the template id.
type FlowSetError struct {
	ObsDomainID uint32
	FlowSetID   uint16
	TemplateID  uint16
	Err         error
}

func (e *FlowSetError) Error() string {
	return fmt.Sprintf("ipfix: obs-domain %d flowset %d template %d: %s",
		e.ObsDomainID, e.FlowSetID, e.TemplateID, e.Err.Error())
}

func (e *FlowSetError) Unwrap() error {
	return e.Err
}
