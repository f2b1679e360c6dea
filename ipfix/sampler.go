package ipfix

import "github.com/flowlayer/ipfixcore/metrics"

// Sampler is one sampler descriptor known for an exporter. ID -1 denotes the
// standard/default sampler (the one described by the RFC 7011 standard
// sampling-interval/sampling-algorithm fields rather than a per-sampler-id
// option record).
type Sampler struct {
	ID       int32
	Mode     uint8
	Interval uint32
}

const standardSamplerID int32 = -1

// InsertSampler installs or updates a sampler descriptor. An update only
// notifies the sink via FlushInfoSampler when mode or interval actually
// changed, matching the original collector's behavior: re-announcing an
// unchanged sampler must not re-flush it downstream.
func InsertSampler(exp *Exporter, id int32, mode uint8, interval uint32, sink Sink) {
	if existing, ok := exp.Samplers[id]; ok {
		if existing.Mode == mode && existing.Interval == interval {
			return
		}
		existing.Mode = mode
		existing.Interval = interval
		sink.FlushInfoSampler(exp.SysID, id, mode, interval)
		return
	}
	exp.Samplers[id] = &Sampler{ID: id, Mode: mode, Interval: interval}
	metrics.SamplersActive.WithLabelValues(exp.SourceIP.String()).Inc()
	sink.FlushInfoSampler(exp.SysID, id, mode, interval)
}

// ProcessOptionData extracts sampler and system-uptime values out of one
// option data record, using the field offsets CompileOptionTemplate worked
// out for the option template it belongs to.
func ProcessOptionData(exp *Exporter, tableID uint16, data []byte, sink Sink) error {
	ot, ok := exp.OptionTemplates[tableID]
	if !ok {
		return ErrNoTemplate
	}

	if ot.SysUpTime.valid {
		if v, ok := readSpan(data, ot.SysUpTime); ok {
			exp.SystemInitTime = v
			exp.HasSystemInitTime = true
		}
	}

	if !ot.hasSampler() {
		return nil
	}

	id := standardSamplerID
	if ot.SamplerID.valid {
		if v, ok := readSpan(data, ot.SamplerID); ok {
			id = int32(v)
		}
	}

	var mode uint8
	if v, ok := readSpan(data, ot.SamplerMode); ok {
		mode = uint8(v)
	}
	var interval uint32
	if v, ok := readSpan(data, ot.SamplerInterval); ok {
		interval = uint32(v)
	}

	InsertSampler(exp, id, mode, interval, sink)
	return nil
}

func readSpan(data []byte, span fieldSpan) (uint64, bool) {
	if !span.valid {
		return 0, false
	}
	end := int(span.offset) + int(span.length)
	if end > len(data) {
		return 0, false
	}
	b := data[span.offset:end]
	switch span.length {
	case 1:
		return uint64(b[0]), true
	case 2:
		return uint64(beU16(b)), true
	case 4:
		return uint64(beU32(b)), true
	case 8:
		return beU64(b), true
	default:
		return 0, false
	}
}

// resolveSamplingRate picks the multiplier applied to sampled counters for
// one data record: an explicit override first, then the standard sampler,
// then the configured default.
func resolveSamplingRate(exp *Exporter, overwriteSampling, defaultSampling uint32) uint32 {
	if overwriteSampling > 0 {
		return overwriteSampling
	}
	if s, ok := exp.Samplers[standardSamplerID]; ok && s.Interval > 0 {
		return s.Interval
	}
	if defaultSampling > 0 {
		return defaultSampling
	}
	return 1
}
