package ipfix

import "fmt"

// fieldSpan locates one option-data field within an option record: its byte
// offset and width.
type fieldSpan struct {
	offset uint16
	length uint16
	valid  bool
}

// OptionTemplate describes an option-record layout this decoder understands:
// sampler descriptors and/or a system-uptime reference. table_id is the
// option template's own id, since a single exporter may announce several
// option templates describing different things (or the same thing twice, on
// refresh).
type OptionTemplate struct {
	TableID uint16

	SamplerID       fieldSpan
	SamplerMode     fieldSpan
	SamplerInterval fieldSpan

	SysUpTime fieldSpan

	RecordLength uint16
}

// OptionField is one (element id, length) pair from an option template's
// scope or option section, in wire order.
type OptionField struct {
	ElementID uint16
	Length    uint16
	IsScope   bool
}

// CompileOptionTemplate walks an option template's scope and option fields
// and installs offsets for any recognized sampler or system-uptime field.
// Scope fields only contribute to the cumulative offset; they carry no
// data this decoder consumes.
func CompileOptionTemplate(tableID uint16, fields []OptionField) (*OptionTemplate, error) {
	hasScope := false
	ot := &OptionTemplate{TableID: tableID}

	var offset uint16
	for _, f := range fields {
		if f.IsScope {
			hasScope = true
			offset += f.Length
			continue
		}
		span := fieldSpan{offset: offset, length: f.Length, valid: true}
		switch f.ElementID {
		case ieSamplerIDv1, ieSamplerIDv2:
			ot.SamplerID = span
		case ieSamplerModeV1, ieSamplerModeV2, ieSamplingAlgorithm:
			ot.SamplerMode = span
		case ieSamplerIntervalV1, ieSamplerIntervalV2, ieSamplingInterval:
			ot.SamplerInterval = span
		case ieSystemInitTimeMillis:
			ot.SysUpTime = span
		}
		offset += f.Length
	}
	ot.RecordLength = offset

	if !hasScope {
		return nil, fmt.Errorf("%w: option template %d has no scope fields", ErrProtocol, tableID)
	}
	return ot, nil
}

// hasSampler reports whether this option template describes a sampler mode
// or interval field (standard or per-sampler-id variant); a sampler id field
// on its own does not count.
func (ot *OptionTemplate) hasSampler() bool {
	return ot.SamplerMode.valid || ot.SamplerInterval.valid
}
