package ipfix

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/flowlayer/ipfixcore/metrics"
	"github.com/flowlayer/ipfixcore/utils/errwrap"
)

const ipfixVersion = 10
const messageHeaderSize = 16

// flowsetTemplate and flowsetOptionTemplate are the two reserved flowset ids
// RFC 7011 carves out of the set-id space; anything below 256 besides these
// two is reserved and logged/skipped, anything at or above is a data
// flowset referencing a previously announced template.
const (
	flowsetTemplate       = 2
	flowsetOptionTemplate = 3
	minDataFlowsetID      = 256
)

// MessageHeader is the fixed 16-byte prefix of one IPFIX message.
type MessageHeader struct {
	Version             uint16
	Length              uint16
	ExportTime          uint32
	SequenceNumber      uint32
	ObservationDomainID uint32
}

// ProcessPacket decodes one IPFIX message received from sourceIP at
// receivedAt, updating registry/exporter state and writing any decoded data
// records to sink. It never panics on malformed input. A broken message
// header, a zero-length or oversized flowset, or a full output buffer aborts
// the whole message and is returned to the caller; any other flowset error
// is logged here and processing continues with the next flowset.
func ProcessPacket(buf []byte, sourceIP net.IP, receivedAt time.Time, registry *Registry, sink Sink, overwriteSampling, defaultSampling uint32, enabledExt map[ExtensionID]bool, logger *slog.Logger) error {
	r := newReader(buf)
	hdr, err := parseMessageHeader(r)
	if err != nil {
		return &DecoderError{Version: ipfixVersion, Err: err}
	}
	if hdr.Version != ipfixVersion {
		return &DecoderError{Version: hdr.Version, Err: fmt.Errorf("%w: unsupported message version", ErrProtocol)}
	}

	exp, err := registry.GetOrCreate(sourceIP, hdr.ObservationDomainID, sink)
	if err != nil {
		return &DecoderError{Version: ipfixVersion, Err: errwrap.Wrap(err)}
	}
	exp.PacketCount++

	exporterLabel := sourceIP.String()
	obsDomainLabel := strconv.Itoa(int(hdr.ObservationDomainID))

	if exp.HasSeenData && hdr.SequenceNumber != exp.ExpectedSequence {
		sink.Stats().SequenceFailures++
		metrics.SequenceFailures.WithLabelValues(exporterLabel, obsDomainLabel).Inc()
		if logger != nil {
			logger.Warn("ipfix sequence gap", "source", sourceIP.String(), "obs_domain", hdr.ObservationDomainID,
				"expected", exp.ExpectedSequence, "got", hdr.SequenceNumber)
		}
	}
	exp.ExpectedSequence = hdr.SequenceNumber
	isIPv6 := sourceIP.To4() == nil

	for r.remaining() > 0 {
		if r.remaining() < 4 {
			break // trailing padding
		}
		flowsetID, err := r.u16()
		if err != nil {
			return &DecoderError{Version: ipfixVersion, Err: errwrap.Wrap(err)}
		}
		length, err := r.u16()
		if err != nil {
			return &DecoderError{Version: ipfixVersion, Err: errwrap.Wrap(err)}
		}
		if length == 0 {
			return &DecoderError{Version: ipfixVersion, Err: &FlowSetError{
				ObsDomainID: hdr.ObservationDomainID, FlowSetID: flowsetID,
				Err: fmt.Errorf("%w: zero-length flowset", ErrProtocol),
			}}
		}
		if length <= 4 {
			continue // header-only flowset, padding
		}
		payloadLen := int(length) - 4
		if payloadLen > r.remaining() {
			return &DecoderError{Version: ipfixVersion, Err: &FlowSetError{
				ObsDomainID: hdr.ObservationDomainID, FlowSetID: flowsetID,
				Err: fmt.Errorf("%w: length %d exceeds remaining bytes", ErrProtocol, length),
			}}
		}
		payload, err := r.bytes(payloadLen)
		if err != nil {
			return &DecoderError{Version: ipfixVersion, Err: &FlowSetError{
				ObsDomainID: hdr.ObservationDomainID, FlowSetID: flowsetID, Err: errwrap.Wrap(err),
			}}
		}

		switch {
		case flowsetID == flowsetTemplate:
			if ferr := dispatchTemplateFlowset(exp, flowsetID, payload, isIPv6, enabledExt, receivedAt, sink, logger, exporterLabel, obsDomainLabel); ferr != nil && logger != nil {
				logger.Warn("ipfix: template flowset error", "error", ferr)
			}
		case flowsetID == flowsetOptionTemplate:
			if ferr := dispatchOptionTemplateFlowset(exp, flowsetID, payload, logger, exporterLabel, obsDomainLabel); ferr != nil && logger != nil {
				logger.Warn("ipfix: option template flowset error", "error", ferr)
			}
		case flowsetID < minDataFlowsetID:
			if logger != nil {
				logger.Debug("ipfix: reserved flowset id", "flowset", flowsetID)
			}
		default:
			ferr := dispatchDataFlowset(exp, flowsetID, payload, hdr.ExportTime, receivedAt, overwriteSampling, defaultSampling, sink, logger, exporterLabel, obsDomainLabel)
			if errors.Is(ferr, ErrBufferFull) {
				return &DecoderError{Version: ipfixVersion, Err: ferr}
			}
			if ferr != nil && logger != nil {
				logger.Warn("ipfix: data flowset error", "error", ferr)
			}
		}
	}
	return nil
}

// PeekHeader parses only the fixed 16-byte message header, without touching
// any flowset. Callers that want to feed a sequence-number-based loss
// estimator (see utils.MissingFlowsTracker) alongside ProcessPacket can call
// this first; it does no exporter lookups and has no side effects.
func PeekHeader(buf []byte) (MessageHeader, error) {
	return parseMessageHeader(newReader(buf))
}

func parseMessageHeader(r *reader) (MessageHeader, error) {
	var hdr MessageHeader
	if err := r.need(messageHeaderSize); err != nil {
		return hdr, errwrap.Wrap(err)
	}
	var err error
	if hdr.Version, err = r.u16(); err != nil {
		return hdr, errwrap.Wrap(err)
	}
	if hdr.Length, err = r.u16(); err != nil {
		return hdr, errwrap.Wrap(err)
	}
	if hdr.ExportTime, err = r.u32(); err != nil {
		return hdr, errwrap.Wrap(err)
	}
	if hdr.SequenceNumber, err = r.u32(); err != nil {
		return hdr, errwrap.Wrap(err)
	}
	if hdr.ObservationDomainID, err = r.u32(); err != nil {
		return hdr, errwrap.Wrap(err)
	}
	return hdr, nil
}

// parseFieldSpecs reads count consecutive field specifiers: a 16-bit type
// (high bit set marks an enterprise-scoped element), a 16-bit length, and,
// only when the enterprise bit is set, a 32-bit enterprise number.
func parseFieldSpecs(r *reader, count int) ([]TemplateField, error) {
	fields := make([]TemplateField, 0, count)
	for i := 0; i < count; i++ {
		rawType, err := r.u16()
		if err != nil {
			return nil, errwrap.Wrap(err)
		}
		length, err := r.u16()
		if err != nil {
			return nil, errwrap.Wrap(err)
		}
		var enterprise uint32
		if rawType&0x8000 != 0 {
			enterprise, err = r.u32()
			if err != nil {
				return nil, errwrap.Wrap(err)
			}
		}
		fields = append(fields, TemplateField{ElementID: rawType &^ 0x8000, Length: length, Enterprise: enterprise})
	}
	return fields, nil
}

// dispatchTemplateFlowset walks every template record packed into one
// set-id-2 flowset. A field count of zero withdraws that single template,
// or every template this exporter holds when its own id equals the
// template flowset id (RFC 7011 §8.1's "All Templates Withdrawal"). A
// malformed record aborts the rest of this flowset and is reported as a
// FlowSetError; an individually unsupported template is dropped and the
// flowset keeps walking.
func dispatchTemplateFlowset(exp *Exporter, flowsetID uint16, payload []byte, isIPv6 bool, enabledExt map[ExtensionID]bool, now time.Time, sink Sink, logger *slog.Logger, exporterLabel, obsDomainLabel string) error {
	r := newReader(payload)
	for r.remaining() >= 4 {
		templateID, err := r.u16()
		if err != nil {
			return &FlowSetError{ObsDomainID: exp.ObsDomainID, FlowSetID: flowsetID, Err: errwrap.Wrap(err)}
		}
		fieldCount, err := r.u16()
		if err != nil {
			return &FlowSetError{ObsDomainID: exp.ObsDomainID, FlowSetID: flowsetID, TemplateID: templateID, Err: errwrap.Wrap(err)}
		}
		if fieldCount == 0 {
			if templateID == flowsetTemplate {
				exp.withdrawAllTemplates(sink)
			} else {
				exp.withdrawTemplate(templateID, sink)
			}
			metrics.TemplatesWithdrawn.WithLabelValues(exporterLabel, obsDomainLabel).Inc()
			continue
		}
		fields, err := parseFieldSpecs(r, int(fieldCount))
		if err != nil {
			return &FlowSetError{ObsDomainID: exp.ObsDomainID, FlowSetID: flowsetID, TemplateID: templateID, Err: fmt.Errorf("truncated template record: %w", err)}
		}
		t, err := CompileTemplate(templateID, fields, isIPv6, enabledExt, now, logger)
		if err != nil {
			if logger != nil {
				logger.Warn("ipfix: dropping template", "error", &FlowSetError{ObsDomainID: exp.ObsDomainID, FlowSetID: flowsetID, TemplateID: templateID, Err: err})
			}
			continue
		}
		exp.setTemplate(t, sink)
		metrics.TemplatesReceived.WithLabelValues(exporterLabel, obsDomainLabel, "template").Inc()
	}
	return nil
}

// dispatchOptionTemplateFlowset walks every option template record packed
// into one set-id-3 flowset: template id, total field count, scope field
// count, then that many scope field specs followed by the option field
// specs.
func dispatchOptionTemplateFlowset(exp *Exporter, flowsetID uint16, payload []byte, logger *slog.Logger, exporterLabel, obsDomainLabel string) error {
	r := newReader(payload)
	for r.remaining() >= 6 {
		templateID, err := r.u16()
		if err != nil {
			return &FlowSetError{ObsDomainID: exp.ObsDomainID, FlowSetID: flowsetID, Err: errwrap.Wrap(err)}
		}
		totalFields, err := r.u16()
		if err != nil {
			return &FlowSetError{ObsDomainID: exp.ObsDomainID, FlowSetID: flowsetID, TemplateID: templateID, Err: errwrap.Wrap(err)}
		}
		scopeFields, err := r.u16()
		if err != nil {
			return &FlowSetError{ObsDomainID: exp.ObsDomainID, FlowSetID: flowsetID, TemplateID: templateID, Err: errwrap.Wrap(err)}
		}
		if totalFields == 0 {
			delete(exp.OptionTemplates, templateID)
			metrics.TemplatesWithdrawn.WithLabelValues(exporterLabel, obsDomainLabel).Inc()
			continue
		}
		if int(scopeFields) > int(totalFields) {
			return &FlowSetError{ObsDomainID: exp.ObsDomainID, FlowSetID: flowsetID, TemplateID: templateID,
				Err: fmt.Errorf("%w: scope count %d exceeds field count %d", ErrProtocol, scopeFields, totalFields)}
		}
		specs, err := parseFieldSpecs(r, int(totalFields))
		if err != nil {
			return &FlowSetError{ObsDomainID: exp.ObsDomainID, FlowSetID: flowsetID, TemplateID: templateID, Err: fmt.Errorf("truncated option template record: %w", err)}
		}
		fields := make([]OptionField, len(specs))
		for i, s := range specs {
			fields[i] = OptionField{ElementID: s.ElementID, Length: s.Length, IsScope: i < int(scopeFields)}
		}
		ot, err := CompileOptionTemplate(templateID, fields)
		if err != nil {
			if logger != nil {
				logger.Warn("ipfix: dropping option template", "error", &FlowSetError{ObsDomainID: exp.ObsDomainID, FlowSetID: flowsetID, TemplateID: templateID, Err: err})
			}
			continue
		}
		exp.OptionTemplates[templateID] = ot
		metrics.TemplatesReceived.WithLabelValues(exporterLabel, obsDomainLabel, "options_template").Inc()
	}
	return nil
}

// dispatchDataFlowset executes every data record packed into one data
// flowset against the referenced template, or extracts option data if the
// id instead names a known option template; an id matching neither is
// counted as a dropped record and discarded.
func dispatchDataFlowset(exp *Exporter, flowsetID uint16, payload []byte, exportTime uint32, receivedAt time.Time, overwriteSampling, defaultSampling uint32, sink Sink, logger *slog.Logger, exporterLabel, obsDomainLabel string) error {
	if tmpl, ok := exp.template(flowsetID); ok {
		remaining := payload
		for len(remaining) >= 4 {
			n, err := ExecuteDataRecord(exp, tmpl, remaining, exportTime, receivedAt, overwriteSampling, defaultSampling, sink)
			exp.HasSeenData = true
			exp.ExpectedSequence++
			exp.FlowCount++
			if err != nil {
				metrics.DataRecordsDropped.WithLabelValues(exporterLabel, obsDomainLabel).Inc()
				return &FlowSetError{ObsDomainID: exp.ObsDomainID, FlowSetID: flowsetID, TemplateID: tmpl.ID, Err: fmt.Errorf("data record decode failed: %w", err)}
			}
			metrics.DataRecordsDecoded.WithLabelValues(exporterLabel, obsDomainLabel).Inc()
			if n <= 0 {
				return nil
			}
			remaining = remaining[n:]
		}
		return nil
	}

	if ot, ok := exp.OptionTemplates[flowsetID]; ok {
		remaining := payload
		for ot.RecordLength > 0 && len(remaining) >= int(ot.RecordLength) {
			if err := ProcessOptionData(exp, flowsetID, remaining[:ot.RecordLength], sink); err != nil {
				return &FlowSetError{ObsDomainID: exp.ObsDomainID, FlowSetID: flowsetID, TemplateID: ot.TableID, Err: fmt.Errorf("option data decode failed: %w", err)}
			}
			remaining = remaining[ot.RecordLength:]
		}
		return nil
	}

	metrics.DataRecordsDropped.WithLabelValues(exporterLabel, obsDomainLabel).Inc()
	if logger != nil {
		logger.Debug("ipfix: data flowset references unknown template", "flowset", flowsetID, "obs_domain", exp.ObsDomainID)
	}
	return nil
}
