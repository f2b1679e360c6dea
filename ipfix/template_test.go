package ipfix

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scenario1Fields is the field list from the template-add/single-record
// end-to-end scenario, reused by several tests below.
func scenario1Fields() []TemplateField {
	return []TemplateField{
		{ElementID: ieFlowStartMillisecs, Length: 8},
		{ElementID: ieFlowEndMillisecs, Length: 8},
		{ElementID: ieProtocolIdentifier, Length: 1},
		{ElementID: ieSourceTransportPort, Length: 2},
		{ElementID: ieDestTransportPort, Length: 2},
		{ElementID: ieSourceIPv4Address, Length: 4},
		{ElementID: ieDestIPv4Address, Length: 4},
		{ElementID: iePacketDeltaCount, Length: 4},
		{ElementID: ieOctetDeltaCount, Length: 4},
	}
}

func TestWireSizeInvariant(t *testing.T) {
	cases := [][]TemplateField{
		scenario1Fields(),
		{
			{ElementID: ieSourceIPv6Address, Length: 16},
			{ElementID: ieDestIPv6Address, Length: 16},
			{ElementID: ieOctetTotalCount, Length: 8},
			{ElementID: 999, Length: 3}, // unsupported element, becomes a skip
		},
	}
	for i, fields := range cases {
		tmpl, err := CompileTemplate(uint16(256+i), fields, false, nil, time.Now(), nil)
		require.NoError(t, err)

		var consumed uint16
		for _, slot := range tmpl.slots {
			consumed += slot.wireConsumed()
		}
		var wantWire uint16
		for _, f := range fields {
			wantWire += f.Length
		}
		assert.Equal(t, wantWire, consumed)
		assert.Equal(t, wantWire, tmpl.WireSize())
	}
}

func TestOutputRecordSizeIsFourByteAligned(t *testing.T) {
	fieldSets := [][]TemplateField{
		scenario1Fields(),
		{{ElementID: ieSourceMacAddress, Length: 6}, {ElementID: iePostNAPTSourcePort, Length: 2}},
		{{ElementID: iePostNATSourceIPv4, Length: 4}, {ElementID: ieIngressVRFID, Length: 4}},
	}
	for _, fields := range fieldSets {
		tmpl, err := CompileTemplate(256, fields, false, nil, time.Now(), nil)
		require.NoError(t, err)
		size := recordHeaderSize + tmpl.OutputSize
		assert.Zero(t, size%4, "record size %d not 4-byte aligned", size)
	}
}

func TestReverseElementMapsToOutCounters(t *testing.T) {
	res := MapElement(iePacketTotalCount, 8, reverseInformationElementPEN, nil)
	require.True(t, res.found)
	assert.Equal(t, uint16(iePostPacketDeltaCount), res.entry.id)
	assert.Equal(t, stackOutPackets, res.entry.target)

	res = MapElement(ieOctetDeltaCount, 8, reverseInformationElementPEN, nil)
	require.True(t, res.found)
	assert.Equal(t, uint16(iePostOctetDeltaCount), res.entry.id)
	assert.Equal(t, stackOutBytes, res.entry.target)
}

func TestWithdrawingUnknownTemplateHasNoEffect(t *testing.T) {
	sink := newTestSink()
	exp := newExporter(nil, 0, sink.AssignSysID())
	exp.withdrawTemplate(999, sink)
	assert.Empty(t, exp.Templates)
}

func TestCompileTemplateRejectsAllUnsupportedFields(t *testing.T) {
	_, err := CompileTemplate(256, []TemplateField{{ElementID: 9999, Length: 4}}, false, nil, time.Now(), nil)
	assert.Error(t, err)
}
