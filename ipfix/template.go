package ipfix

import (
	"fmt"
	"log/slog"
	"time"
)

// TemplateField is one (element id, length[, enterprise number]) triple as
// it appears in a wire template record, in wire order.
type TemplateField struct {
	ElementID  uint16
	Enterprise uint32
	// Length is the declared field width, or 65535 for a variable-length
	// field (RFC 7011 §7).
	Length uint16
}

// templateScratch holds the per-record working values the executor fills in
// while walking a template's sequencer and later reads back to resolve
// time stamps, ICMP fix-ups, and protocol statistics. It is reset to zero
// at the start of every data record.
type templateScratch struct {
	FlowStart    uint64
	FlowEnd      uint64
	Duration     uint64
	Packets      uint64
	OutPackets   uint64
	Bytes        uint64
	OutBytes     uint64
	SysUpTime    uint64
	ICMPTypeCode uint16
	HasTimeMili  bool
}

// Template is a compiled translation table: the decoded-element order,
// extension map, and sequencer for one template id within one exporter.
type Template struct {
	ID        uint16
	UpdatedAt time.Time
	Flags     RecordFlags

	OutputSize uint16
	wireSize   uint16
	hasDynamic bool

	RouterIPOffset    uint16
	HasRouterIPOffset bool
	ReceivedOffset    uint16
	HasReceivedOffset bool

	ProtocolOffset    uint16
	HasProtocolOffset bool
	SrcPortOffset     uint16
	DstPortOffset     uint16
	HasPortOffsets    bool

	FlowStartOffset uint16
	FlowEndOffset   uint16

	extMap *ExtensionMap
	slots  []sequencerSlot

	scratch templateScratch
}

// WireSize reports the template's declared wire-record size, exposed so
// tests can assert the Σ(input_length + skip_count) == wire_size invariant
// directly against the compiler's own bookkeeping.
func (t *Template) WireSize() uint16 {
	return t.wireSize
}

// ExtensionMap returns the template's owned extension map, exposed so a
// Sink implementation's tests can exercise AddExtensionMap/RemoveExtensionMap
// against a real compiled template instead of a hand-built one.
func (t *Template) ExtensionMap() *ExtensionMap {
	return t.extMap
}

type matchedField struct {
	entry  catalogEntry
	length uint16
}

// CompileTemplate builds a Template from one template record's field list.
// isIPv6 selects whether the exporter's router-IP reservation is 4 or 16
// bytes; enabledExt gates optional extensions (nil enables everything).
func CompileTemplate(id uint16, fields []TemplateField, isIPv6 bool, enabledExt map[ExtensionID]bool, now time.Time, logger *slog.Logger) (*Template, error) {
	found := make(map[uint16]matchedField, len(fields))
	var wireSize uint16
	hasDynamic := false

	for _, f := range fields {
		if f.Length == 0xFFFF {
			hasDynamic = true
			continue
		}
		wireSize += f.Length
		res := MapElement(f.ElementID, f.Length, f.Enterprise, logger)
		if !res.found {
			continue
		}
		if !extensionAllowed(res.ext, enabledExt) {
			continue
		}
		found[res.entry.id] = matchedField{entry: res.entry, length: f.Length}
	}

	t := &Template{ID: id, UpdatedAt: now, extMap: newExtensionMap(), wireSize: wireSize, hasDynamic: hasDynamic}
	members := map[ExtensionID]bool{ExtReceived: true}

	// planned holds, per element id, the opcode/output-offset/stack-target
	// this template assigns it. It is keyed by element id rather than wire
	// position because the canonical push order below (time, then the
	// fixed header fields, then extensions) does not match wire order; the
	// final pass further down walks `fields` in wire order and looks each
	// one up here, so every slot still consumes its bytes in the position
	// they actually appear on the wire.
	planned := make(map[uint16]sequencerSlot, len(found))

	var offset uint16
	push := func(m matchedField) {
		planned[m.entry.id] = sequencerSlot{
			opcode:       m.entry.copyOp,
			elementID:    m.entry.id,
			outputOffset: offset,
			target:       m.entry.target,
		}
		offset += m.entry.outputLen
		if m.entry.ext != ExtIgnoreOutput {
			members[m.entry.ext] = true
		}
	}

	pickFirst := func(candidates ...uint16) (matchedField, bool) {
		for _, id := range candidates {
			if m, ok := found[id]; ok {
				return m, true
			}
		}
		return matchedField{}, false
	}

	// Time families: pick the first present. The 8-byte slot is reserved
	// at this canonical position regardless of which family (or none) is
	// chosen; the executor fills it from scratch during time resolution,
	// not from the opcode's own output_offset.
	t.FlowStartOffset = offset
	if m, ok := pickFirst(ieFlowStartDeltaMicros, ieFlowStartMillisecs, ieFlowStartSysUpTime, ieFlowStartSeconds); ok {
		push(m)
	} else {
		offset += 8
	}
	t.FlowEndOffset = offset
	if m, ok := pickFirst(ieFlowEndDeltaMicros, ieFlowEndMillisecs, ieFlowEndSysUpTime, ieFlowEndSeconds); ok {
		push(m)
	} else {
		offset += 8
	}
	if m, ok := found[ieFlowDurationMillis]; ok {
		push(m)
	}
	if m, ok := found[ieSystemInitTimeMillis]; ok {
		push(m)
	}
	// Both ICMP variants may legitimately be present; the second simply
	// overwrites the scratch target (documented open question in the
	// original collector this decodes for).
	if m, ok := found[ieICMPTypeCodeIPv4]; ok {
		push(m)
	}
	if m, ok := found[ieICMPTypeCodeIPv6]; ok {
		push(m)
	}
	if m, ok := found[ieICMPTypeIPv4]; ok {
		push(m)
	}
	if m, ok := found[ieICMPCodeIPv4]; ok {
		push(m)
	}

	// These occupy a fixed position in the output record regardless of
	// whether the wire template actually carries them, matching the
	// original collector's common_record layout: push the catalog entry
	// when present, else reserve its width with a zero-filled gap (a
	// freshly allocated output buffer is already zero, so the gap needs
	// no opcode of its own).
	reserve := func(id uint16, width uint16) {
		if m, ok := found[id]; ok {
			push(m)
			return
		}
		offset += width
	}
	if m, ok := found[ieForwardingStatus]; ok {
		push(m)
	} else {
		offset++
	}
	if m, ok := found[ieTCPControlBits]; ok {
		push(m)
	} else {
		offset++
	}
	t.ProtocolOffset = offset
	t.HasProtocolOffset = true
	reserve(ieProtocolIdentifier, 1)
	reserve(ieIPClassOfService, 1)
	t.SrcPortOffset = offset
	reserve(ieSourceTransportPort, 2)
	t.DstPortOffset = offset
	reserve(ieDestTransportPort, 2)
	t.HasPortOffsets = true
	offset += 2 // reserved for exporter sysid
	reserve(ieFlowDirection, 1)
	reserve(ieFlowEndReason, 1)

	// Addresses: v4 pair, else v6 pair, else a reserved zero v4 pair.
	srcV4, srcV4ok := found[ieSourceIPv4Address]
	dstV4, dstV4ok := found[ieDestIPv4Address]
	srcV6, srcV6ok := found[ieSourceIPv6Address]
	dstV6, dstV6ok := found[ieDestIPv6Address]
	switch {
	case srcV4ok && dstV4ok:
		push(srcV4)
		push(dstV4)
	case srcV6ok && dstV6ok:
		push(srcV6)
		push(dstV6)
		t.Flags |= FlagIPv6
	default:
		offset += 8
	}

	// Counters: prefer the Total variant over the Delta variant; always
	// reserve 8 bytes even when neither is present.
	if m, ok := pickFirst(iePacketTotalCount, iePacketDeltaCount); ok {
		push(m)
	} else {
		offset += 8
	}
	if m, ok := pickFirst(ieOctetTotalCount, ieOctetDeltaCount); ok {
		push(m)
	} else {
		offset += 8
	}
	t.Flags |= FlagCounter64

	for _, id := range []uint16{ieIngressInterface} {
		if m, ok := found[id]; ok {
			push(m)
		}
	}
	for _, id := range []uint16{ieEgressInterface} {
		if m, ok := found[id]; ok {
			push(m)
		}
	}
	for _, id := range []uint16{ieBGPSourceAsNumber, ieBGPDestAsNumber} {
		if m, ok := found[id]; ok {
			push(m)
		}
	}
	for _, id := range []uint16{ieSourceIPv4PrefixLen, ieDestIPv4PrefixLen, ieSourceIPv6PrefixLen, ieDestIPv6PrefixLen, iePostIPClassOfService} {
		if m, ok := found[id]; ok {
			push(m)
		}
	}
	if m, ok := found[ieIPNextHopIPv4]; ok {
		push(m)
	}
	if m, ok := found[ieIPNextHopIPv6]; ok {
		push(m)
		t.Flags |= FlagIPv6NextHop
	}
	if m, ok := found[ieBGPNextHopIPv4]; ok {
		push(m)
	}
	if m, ok := found[ieBGPNextHopIPv6]; ok {
		push(m)
		t.Flags |= FlagIPv6BGPNextHop
	}
	for _, id := range []uint16{ieVlanID, iePostVlanID} {
		if m, ok := found[id]; ok {
			push(m)
		}
	}
	for _, id := range []uint16{iePostOctetDeltaCount, iePostPacketDeltaCount} {
		if m, ok := found[id]; ok {
			push(m)
		}
	}
	for _, id := range []uint16{ieSourceMacAddress, ieDestMacAddress, iePostSourceMacAddress, iePostDestMacAddress} {
		if m, ok := found[id]; ok {
			push(m)
		}
	}
	for label := uint16(0); label <= ieMPLSLabelStack10-ieMPLSLabelStack1; label++ {
		if m, ok := found[ieMPLSLabelStack1+label]; ok {
			push(m)
		}
	}
	for _, id := range []uint16{iePostNATSourceIPv4, iePostNATDestIPv4, iePostNAPTSourcePort, iePostNAPTDestPort, ieIngressVRFID, ieEgressVRFID} {
		if m, ok := found[id]; ok {
			push(m)
		}
	}

	// Router IP: no wire input, always reserved; dimension follows the
	// exporter's own address family, not anything carried in the template.
	t.RouterIPOffset = offset
	t.HasRouterIPOffset = true
	if isIPv6 {
		offset += 16
		t.Flags |= FlagExporterIPv6
		members[ExtRouterIPv6] = true
	} else {
		offset += 4
		members[ExtRouterIPv4] = true
	}

	// Received time: no wire input, always reserved.
	t.ReceivedOffset = offset
	t.HasReceivedOffset = true
	offset += 8

	// Pad so the full record (fixed header + this payload) lands on a 4-byte
	// boundary; the optional extension groups above contribute odd widths
	// (single-byte prefix lengths, NAT ports) that would otherwise leave the
	// total unaligned.
	if rem := (recordHeaderSize + offset) % 4; rem != 0 {
		offset += 4 - rem
	}
	t.OutputSize = offset
	t.extMap.set(members)

	// Final pass: walk the fields in wire order and emit one sequencer slot
	// per field, so the executor's cursor advances correctly regardless of
	// the canonical push order used above to assign output offsets. A
	// mapped-and-enabled field becomes its planned copy slot; a variable-
	// length field becomes a dyn_skip; everything else becomes a fixed skip.
	for _, f := range fields {
		if f.Length == 0xFFFF {
			t.slots = append(t.slots, sequencerSlot{opcode: opDynSkip})
			continue
		}
		res := MapElement(f.ElementID, f.Length, f.Enterprise, nil)
		if res.found {
			if slot, ok := planned[res.entry.id]; ok {
				slot.inputLength = f.Length
				t.slots = append(t.slots, slot)
				continue
			}
		}
		t.slots = append(t.slots, sequencerSlot{opcode: opNop, skipAfter: f.Length})
	}

	if len(planned) == 0 && !hasDynamic {
		return nil, fmt.Errorf("%w: template %d has no decodable fields", ErrProtocol, id)
	}
	return t, nil
}

func extensionAllowed(ext ExtensionID, enabled map[ExtensionID]bool) bool {
	if enabled == nil {
		return true
	}
	if ext == ExtReceived || ext == ExtIgnoreOutput {
		return true
	}
	return enabled[ext]
}
