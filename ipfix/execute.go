package ipfix

import (
	"fmt"
	"time"
)

// epoch before which a resolved flow time is treated as exporter nonsense
// rather than a real timestamp (1996-01-01T00:00:00Z).
const minSaneEpochSeconds = 820454400

// ExecuteDataRecord decodes one data record against data, starting at its
// first byte, using tmpl's compiled sequencer. It returns the number of
// input bytes the record actually consumed (equal to tmpl.WireSize() for a
// fixed-length template, or however many variable-length fields demanded
// for one that has them) so the dispatcher can step to the next record
// packed into the same flowset.
func ExecuteDataRecord(exp *Exporter, tmpl *Template, data []byte, exportTimeSec uint32, receivedAt time.Time, overwriteSampling, defaultSampling uint32, sink Sink) (int, error) {
	if len(data) < 4 {
		return len(data), nil
	}

	need := int(recordHeaderSize) + int(tmpl.OutputSize)
	if !sink.CheckBufferSpace(need) {
		return 0, fmt.Errorf("%w: no room for %d-byte record", ErrBufferFull, need)
	}

	tmpl.scratch = templateScratch{}
	rate := resolveSamplingRate(exp, overwriteSampling, defaultSampling)

	out := make([]byte, need)
	payload := out[recordHeaderSize:]

	in := 0
	for _, slot := range tmpl.slots {
		switch slot.opcode {
		case opNop:
			in += int(slot.skipAfter)
		case opDynSkip:
			if in >= len(data) {
				return in, fmt.Errorf("%w: dyn_skip length byte", ErrTruncated)
			}
			l := int(data[in])
			in++
			if l == 255 {
				if in+2 > len(data) {
					return in, fmt.Errorf("%w: dyn_skip 16-bit length", ErrTruncated)
				}
				l = int(beU16(data[in : in+2]))
				in += 2
			}
			if in+l > len(data) {
				return in, fmt.Errorf("%w: dyn_skip payload", ErrTruncated)
			}
			in += l
		default:
			n := int(slot.inputLength)
			if in+n > len(data) {
				return in, fmt.Errorf("%w: field at offset %d", ErrTruncated, in)
			}
			execSlot(tmpl, slot, data[in:in+n], payload, rate, exportTimeSec)
			in += n
		}
	}

	flags := tmpl.Flags
	if rate != 1 {
		flags |= FlagSampled
	}

	finishRecord(tmpl, payload, exp, receivedAt)

	extID := uint16(0)
	if tmpl.extMap != nil {
		extID = sink.AddExtensionMap(tmpl.extMap)
	}
	writeRecordHeader(out, flags, uint16(need), extID, exp.SysID)

	stats := sink.Stats()
	if stats.FirstSeen.IsZero() || receivedAt.Before(stats.FirstSeen) {
		stats.FirstSeen = receivedAt
	}
	if receivedAt.After(stats.LastSeen) {
		stats.LastSeen = receivedAt
	}
	updateProtoStats(tmpl, payload, stats)

	if err := sink.Append(out); err != nil {
		return in, fmt.Errorf("ipfix: appending record: %w", err)
	}
	return in, nil
}

// execSlot performs one sequencer slot's move/zero/time opcode against src
// (already sliced to the slot's declared input width), writing to payload
// and/or the template's per-record scratch.
func execSlot(tmpl *Template, slot sequencerSlot, src []byte, payload []byte, rate uint32, exportTimeSec uint32) {
	off := slot.outputOffset
	switch slot.opcode {
	case opMove8:
		payload[off] = src[0]
		setStack(tmpl, slot.target, uint64(src[0]))
	case opMove16:
		copy(payload[off:off+2], src[:2])
		setStack(tmpl, slot.target, uint64(beU16(src)))
	case opMove24:
		v := beU24(src)
		payload[off] = byte(v >> 16)
		payload[off+1] = byte(v >> 8)
		payload[off+2] = byte(v)
	case opMove32:
		copy(payload[off:off+4], src[:4])
		setStack(tmpl, slot.target, uint64(beU32(src)))
	case opMove40:
		copy(payload[off:off+5], src[:5])
	case opMove48:
		copy(payload[off:off+6], src[:6])
	case opMove56:
		copy(payload[off:off+7], src[:7])
	case opMove64:
		copy(payload[off:off+8], src[:8])
		setStack(tmpl, slot.target, beU64(src))
	case opMove128:
		copy(payload[off:off+16], src[:16])

	case opMove32Sampling:
		v := uint64(beU32(src)) * uint64(rate)
		putBeU64(payload[off:off+8], v)
		setStack(tmpl, slot.target, v)
	case opMove48Sampling:
		v := beU48(src) * uint64(rate)
		putBeU64(payload[off:off+8], v)
		setStack(tmpl, slot.target, v)
	case opMove64Sampling:
		v := beU64(src) * uint64(rate)
		putBeU64(payload[off:off+8], v)
		setStack(tmpl, slot.target, v)

	case opMoveMAC:
		payload[off] = 0
		payload[off+1] = 0
		copy(payload[off+2:off+8], src[:6])
	case opMoveMPLS:
		putBeU32(payload[off:off+4], beU24(src))
	case opMoveFlags:
		v := beU16(src)
		payload[off] = byte(v)

	case opTime64Mili:
		setStack(tmpl, slot.target, beU64(src))
	case opTime64MiliDur:
		setStack(tmpl, slot.target, uint64(beU32(src)))
	case opTimeUnix:
		setStack(tmpl, slot.target, uint64(beU32(src))*1000)
	case opTimeDeltaMicro:
		raw := int64(beU32(src))
		deltaUs := int64(exportTimeSec)*1_000_000 - raw
		var ms uint64
		if deltaUs > 0 {
			ms = uint64(deltaUs) / 1000
		}
		setStack(tmpl, slot.target, ms)
	case opSystemInitTime:
		setStack(tmpl, slot.target, beU64(src))
	case opTimeMili:
		setStack(tmpl, slot.target, uint64(beU32(src)))
		tmpl.scratch.HasTimeMili = true

	case opSaveICMP:
		tmpl.scratch.ICMPTypeCode = beU16(src)

	case opZero8:
		payload[off] = 0
	case opZero16:
		payload[off], payload[off+1] = 0, 0
	case opZero24:
		payload[off], payload[off+1], payload[off+2] = 0, 0, 0
	case opZero32:
		for i := uint16(0); i < 4; i++ {
			payload[off+i] = 0
		}
	case opZero64:
		for i := uint16(0); i < 8; i++ {
			payload[off+i] = 0
		}
	case opZero128:
		for i := uint16(0); i < 16; i++ {
			payload[off+i] = 0
		}
	}
}

func setStack(tmpl *Template, target stackTarget, v uint64) {
	switch target {
	case stackFlowStart:
		tmpl.scratch.FlowStart = v
	case stackFlowEnd:
		tmpl.scratch.FlowEnd = v
	case stackDuration:
		tmpl.scratch.Duration = v
	case stackPackets:
		tmpl.scratch.Packets = v
	case stackOutPackets:
		tmpl.scratch.OutPackets = v
	case stackBytes:
		tmpl.scratch.Bytes = v
	case stackOutBytes:
		tmpl.scratch.OutBytes = v
	case stackSysUpTime:
		tmpl.scratch.SysUpTime = v
	case stackICMPTypeCode:
		tmpl.scratch.ICMPTypeCode = uint16(v)
	}
}

// finishRecord performs every post-execution step that depends on the
// whole record rather than a single field: ICMP port relocation, received
// time stamping, sysup-relative time resolution with its epoch sanity
// check, and router-IP stamping.
func finishRecord(tmpl *Template, payload []byte, exp *Exporter, receivedAt time.Time) {
	s := &tmpl.scratch

	if tmpl.HasProtocolOffset && tmpl.HasPortOffsets {
		proto := payload[tmpl.ProtocolOffset]
		if (proto == 1 || proto == 58) && s.ICMPTypeCode != 0 {
			putBeU16(payload[tmpl.SrcPortOffset:tmpl.SrcPortOffset+2], 0)
			putBeU16(payload[tmpl.DstPortOffset:tmpl.DstPortOffset+2], s.ICMPTypeCode)
		}
	}

	if tmpl.HasReceivedOffset {
		ms := uint64(receivedAt.Unix())*1000 + uint64(receivedAt.Nanosecond())/1_000_000
		putBeU64(payload[tmpl.ReceivedOffset:tmpl.ReceivedOffset+8], ms)
	}

	ref, hasRef := uint64(0), false
	if s.HasTimeMili {
		switch {
		case s.SysUpTime != 0:
			ref, hasRef = s.SysUpTime, true
		case exp.HasSystemInitTime:
			ref, hasRef = exp.SystemInitTime, true
		}
	}
	if hasRef {
		s.FlowStart += ref
		if s.FlowEnd != 0 {
			s.FlowEnd += ref
		}
	}
	if s.Duration != 0 && s.FlowEnd == 0 {
		s.FlowEnd = s.FlowStart + s.Duration
	}

	if s.FlowStart/1000 < minSaneEpochSeconds {
		s.FlowStart = 0
	}
	if s.FlowEnd/1000 < minSaneEpochSeconds {
		s.FlowEnd = 0
	}
	writeSplitTime(payload, tmpl.FlowStartOffset, s.FlowStart)
	writeSplitTime(payload, tmpl.FlowEndOffset, s.FlowEnd)

	if tmpl.HasRouterIPOffset {
		ip := exp.SourceIP
		if tmpl.Flags&FlagExporterIPv6 != 0 {
			copy(payload[tmpl.RouterIPOffset:tmpl.RouterIPOffset+16], ip.To16())
		} else {
			copy(payload[tmpl.RouterIPOffset:tmpl.RouterIPOffset+4], ip.To4())
		}
	}
}

// writeSplitTime stores a millisecond epoch value as (seconds, milliseconds)
// 32-bit fields, matching the original collector's split time representation.
func writeSplitTime(payload []byte, offset uint16, ms uint64) {
	putBeU32(payload[offset:offset+4], uint32(ms/1000))
	putBeU32(payload[offset+4:offset+8], uint32(ms%1000))
}

func updateProtoStats(tmpl *Template, payload []byte, stats *Stats) {
	s := &tmpl.scratch
	packets, bytes := s.Packets, s.Bytes
	outPackets, outBytes := s.OutPackets, s.OutBytes
	if outPackets == 0 {
		outPackets = packets
	}
	if outBytes == 0 {
		outBytes = bytes
	}

	var p *ProtoStats
	if tmpl.HasProtocolOffset {
		switch payload[tmpl.ProtocolOffset] {
		case 1, 58:
			p = &stats.ICMP
		case 6:
			p = &stats.TCP
		case 17:
			p = &stats.UDP
		default:
			p = &stats.Other
		}
	} else {
		p = &stats.Other
	}
	for _, acc := range [2]*ProtoStats{p, &stats.Total} {
		acc.Flows++
		acc.Packets += packets
		acc.Bytes += bytes
		acc.OutFlows++
		acc.OutPacket += outPackets
		acc.OutBytes += outBytes
	}
}
