package ipfix

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCompile(t *testing.T, fields []TemplateField) *Template {
	t.Helper()
	tmpl, err := CompileTemplate(256, fields, false, nil, time.Now(), nil)
	require.NoError(t, err)
	return tmpl
}

func newScratchExporter() *Exporter {
	return newExporter(net.ParseIP("10.0.0.1"), 0, 1)
}

func TestSamplingAppliesToDeltaCounters(t *testing.T) {
	fields := []TemplateField{
		{ElementID: ieProtocolIdentifier, Length: 1},
		{ElementID: iePacketDeltaCount, Length: 4},
		{ElementID: ieOctetDeltaCount, Length: 4},
	}
	const v = uint64(1) << 30 // well under 2^40, big enough to show overflow bugs

	for _, rate := range []uint32{1, 64, 1000} {
		tmpl := mustCompile(t, fields)
		exp := newScratchExporter()
		sink := newTestSink()

		data := []byte{6} // protocol=TCP
		data = appendU32(data, uint32(v))
		data = appendU32(data, uint32(v))

		_, err := ExecuteDataRecord(exp, tmpl, data, 0, time.Now(), rate, 0, sink)
		require.NoError(t, err)

		assert.Equal(t, v*uint64(rate), sink.stats.TCP.Packets)
		assert.Equal(t, v*uint64(rate), sink.stats.TCP.Bytes)
	}
}

func TestUpdateProtoStatsAccumulatesGlobalTotal(t *testing.T) {
	tmpl := mustCompile(t, []TemplateField{
		{ElementID: ieProtocolIdentifier, Length: 1},
		{ElementID: iePacketDeltaCount, Length: 4},
		{ElementID: ieOctetDeltaCount, Length: 4},
	})
	exp := newScratchExporter()
	sink := newTestSink()

	tcp := []byte{6}
	tcp = appendU32(tcp, 10)
	tcp = appendU32(tcp, 1000)
	_, err := ExecuteDataRecord(exp, tmpl, tcp, 0, time.Now(), 1, 1, sink)
	require.NoError(t, err)

	udp := []byte{17}
	udp = appendU32(udp, 5)
	udp = appendU32(udp, 500)
	_, err = ExecuteDataRecord(exp, tmpl, udp, 0, time.Now(), 1, 1, sink)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), sink.stats.Total.Flows)
	assert.Equal(t, uint64(15), sink.stats.Total.Packets)
	assert.Equal(t, uint64(1500), sink.stats.Total.Bytes)
	assert.Equal(t, uint64(10), sink.stats.TCP.Packets)
	assert.Equal(t, uint64(5), sink.stats.UDP.Packets)
}

func TestOverwriteSamplingTakesPriorityOverStandardSampler(t *testing.T) {
	tmpl := mustCompile(t, []TemplateField{{ElementID: iePacketDeltaCount, Length: 4}})
	exp := newScratchExporter()
	sink := newTestSink()
	exp.Samplers[standardSamplerID] = &Sampler{ID: standardSamplerID, Interval: 64}

	data := appendU32(nil, 3)
	_, err := ExecuteDataRecord(exp, tmpl, data, 0, time.Now(), 1000, 0, sink)
	require.NoError(t, err)
	assert.Equal(t, uint64(3000), sink.stats.Other.Packets)
}

func TestTimestampRoundTripAbsoluteMilliseconds(t *testing.T) {
	tmpl := mustCompile(t, []TemplateField{
		{ElementID: ieFlowStartMillisecs, Length: 8},
		{ElementID: ieFlowEndMillisecs, Length: 8},
	})
	exp := newScratchExporter()
	sink := newTestSink()

	const start = uint64(1_700_000_000_000)
	const end = uint64(1_700_000_000_500)
	data := appendU64(nil, start)
	data = appendU64(data, end)

	_, err := ExecuteDataRecord(exp, tmpl, data, 0, time.Now(), 1, 1, sink)
	require.NoError(t, err)

	rec := sink.records[0]
	payload := rec[recordHeaderSize:]
	firstSec := beU32(payload[tmpl.FlowStartOffset : tmpl.FlowStartOffset+4])
	firstMs := beU32(payload[tmpl.FlowStartOffset+4 : tmpl.FlowStartOffset+8])
	lastSec := beU32(payload[tmpl.FlowEndOffset : tmpl.FlowEndOffset+4])
	lastMs := beU32(payload[tmpl.FlowEndOffset+4 : tmpl.FlowEndOffset+8])

	assert.Equal(t, uint32(start/1000), firstSec)
	assert.Equal(t, uint32(0), firstMs)
	assert.Equal(t, uint32(end/1000), lastSec)
	assert.Equal(t, uint32(500), lastMs)
}

func TestTimestampBelowSaneEpochIsZeroed(t *testing.T) {
	tmpl := mustCompile(t, []TemplateField{{ElementID: ieFlowStartMillisecs, Length: 8}})
	exp := newScratchExporter()
	sink := newTestSink()

	data := appendU64(nil, 100) // far below minSaneEpochSeconds*1000
	_, err := ExecuteDataRecord(exp, tmpl, data, 0, time.Now(), 1, 1, sink)
	require.NoError(t, err)

	payload := sink.records[0][recordHeaderSize:]
	assert.Zero(t, beU32(payload[tmpl.FlowStartOffset:tmpl.FlowStartOffset+4]))
	assert.Zero(t, beU32(payload[tmpl.FlowStartOffset+4:tmpl.FlowStartOffset+8]))
}

func TestICMPFixupOverwritesPorts(t *testing.T) {
	tmpl := mustCompile(t, []TemplateField{
		{ElementID: ieProtocolIdentifier, Length: 1},
		{ElementID: ieSourceTransportPort, Length: 2},
		{ElementID: ieDestTransportPort, Length: 2},
		{ElementID: ieICMPTypeCodeIPv4, Length: 2},
	})
	exp := newScratchExporter()
	sink := newTestSink()

	data := []byte{1} // protocol=ICMP
	data = appendU16(data, 12345)
	data = appendU16(data, 54321)
	data = appendU16(data, 0x0803)

	_, err := ExecuteDataRecord(exp, tmpl, data, 0, time.Now(), 1, 1, sink)
	require.NoError(t, err)

	payload := sink.records[0][recordHeaderSize:]
	assert.Equal(t, uint16(0), beU16(payload[tmpl.SrcPortOffset:tmpl.SrcPortOffset+2]))
	assert.Equal(t, uint16(0x0803), beU16(payload[tmpl.DstPortOffset:tmpl.DstPortOffset+2]))
}

func TestDynSkipShortForm(t *testing.T) {
	tmpl := mustCompile(t, []TemplateField{
		{ElementID: 0xFFF0, Length: 0xFFFF}, // unrecognized dynamic field
		{ElementID: ieProtocolIdentifier, Length: 1},
	})
	exp := newScratchExporter()
	sink := newTestSink()

	data := []byte{5, 1, 2, 3, 4, 5, 17} // length byte 5, 5 bytes payload, protocol=17
	n, err := ExecuteDataRecord(exp, tmpl, data, 0, time.Now(), 1, 1, sink)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, uint64(1), sink.stats.UDP.Flows)
}

func TestDynSkipLongForm(t *testing.T) {
	tmpl := mustCompile(t, []TemplateField{
		{ElementID: 0xFFF0, Length: 0xFFFF},
		{ElementID: ieProtocolIdentifier, Length: 1},
	})
	exp := newScratchExporter()
	sink := newTestSink()

	inner := make([]byte, 10)
	data := []byte{255}
	data = appendU16(data, uint16(len(inner)))
	data = append(data, inner...)
	data = append(data, 17)

	n, err := ExecuteDataRecord(exp, tmpl, data, 0, time.Now(), 1, 1, sink)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, uint64(1), sink.stats.UDP.Flows)
}

func TestExecuteDataRecordUpdatesFirstAndLastSeen(t *testing.T) {
	tmpl := mustCompile(t, []TemplateField{{ElementID: ieProtocolIdentifier, Length: 1}})
	exp := newScratchExporter()
	sink := newTestSink()

	earlier := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Hour)

	data := []byte{6, 0, 0, 0} // protocol byte plus padding so len(data) >= 4
	_, err := ExecuteDataRecord(exp, tmpl, data, 0, later, 1, 1, sink)
	require.NoError(t, err)
	_, err = ExecuteDataRecord(exp, tmpl, data, 0, earlier, 1, 1, sink)
	require.NoError(t, err)

	assert.True(t, sink.stats.FirstSeen.Equal(earlier))
	assert.True(t, sink.stats.LastSeen.Equal(later))
}
