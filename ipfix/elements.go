package ipfix

import "log/slog"

// ExtensionID names one optional group of fields in the output record.
// A template's extension map is the union of extension ids its fields
// resolved to; the sink re-registers the map whenever that set changes.
type ExtensionID uint8

const (
	ExtReceived ExtensionID = iota
	ExtRouterIPv4
	ExtRouterIPv6
	ExtSNMPIn
	ExtSNMPOut
	ExtAS
	ExtMultiple // postTOS, direction, src/dst prefix length
	ExtNextHopV4
	ExtNextHopV6
	ExtBGPNextHopV4
	ExtBGPNextHopV6
	ExtVlan
	ExtOutCounters // postOctetDeltaCount / postPacketDeltaCount
	ExtMAC
	ExtMPLS
	ExtNAT
	// ExtIgnoreOutput marks elements the catalog recognizes (so they don't
	// fall through to SKIP_ELEMENT) but which never allocate output bytes,
	// e.g. the router-id block from the original collector.
	ExtIgnoreOutput
)

// reverseInformationElementPEN (RFC 5103) re-interprets an element with its
// forward/reverse role swapped.
const reverseInformationElementPEN = 29305

// IANA IPFIX information element identifiers referenced by the template
// compiler's canonical push order. Only the elements this decoder gives a
// home to are named; anything else falls through MapElement as unsupported.
const (
	ieOctetDeltaCount      = 1
	ieOctetTotalCount      = 85
	iePacketDeltaCount     = 2
	iePacketTotalCount     = 86
	ieProtocolIdentifier   = 4
	ieIPClassOfService     = 5
	ieTCPControlBits       = 6
	ieSourceTransportPort  = 7
	ieSourceIPv4Address    = 8
	ieSourceIPv4PrefixLen  = 9
	ieIngressInterface     = 10
	ieDestTransportPort    = 11
	ieDestIPv4Address      = 12
	ieDestIPv4PrefixLen    = 13
	ieEgressInterface      = 14
	ieIPNextHopIPv4        = 15
	ieBGPSourceAsNumber    = 16
	ieBGPDestAsNumber      = 17
	ieBGPNextHopIPv4       = 18
	iePostOctetDeltaCount  = 23
	iePostPacketDeltaCount = 24
	ieSourceIPv6Address    = 27
	ieDestIPv6Address      = 28
	ieSourceIPv6PrefixLen  = 29
	ieDestIPv6PrefixLen    = 30
	ieICMPTypeCodeIPv4     = 32
	ieSamplerIDv1          = 48
	ieSamplerModeV1        = 49
	ieSamplerIntervalV1    = 50
	ieSourceMacAddress     = 56
	iePostDestMacAddress   = 57
	ieVlanID               = 58
	iePostVlanID           = 59
	ieIPNextHopIPv6        = 62
	ieBGPNextHopIPv6       = 63
	ieMPLSLabelStack1      = 70
	ieMPLSLabelStack10     = 79
	ieDestMacAddress       = 80
	iePostSourceMacAddress = 81
	ieExporterIPv4Address  = 130
	ieExporterIPv6Address  = 131
	ieFlowDirection        = 61
	ieFlowEndReason        = 136
	ieObservationDomainID  = 149
	ieFlowStartSeconds     = 150
	ieFlowEndSeconds       = 151
	ieFlowStartMillisecs   = 152
	ieFlowEndMillisecs     = 153
	ieFlowStartDeltaMicros = 158
	ieFlowEndDeltaMicros   = 159
	ieSystemInitTimeMillis = 160
	ieFlowDurationMillis   = 161
	ieFlowStartSysUpTime   = 22
	ieFlowEndSysUpTime     = 21
	ieICMPTypeIPv4         = 176
	ieICMPCodeIPv4         = 177
	ieICMPTypeCodeIPv6     = 139
	iePostNATSourceIPv4    = 225
	iePostNATDestIPv4      = 226
	iePostNAPTSourcePort   = 227
	iePostNAPTDestPort     = 228
	ieIngressVRFID         = 234
	ieEgressVRFID          = 235
	ieSamplerIDv2          = 302
	ieSamplerModeV2        = 304
	ieSamplerIntervalV2    = 305
	ieSamplingInterval     = 34
	ieSamplingAlgorithm    = 35
	ieForwardingStatus     = 89
	iePostIPClassOfService = 55
)

// catalogEntry is one row of the static (element id, input length) ->
// (opcode, output length, extension) table.
type catalogEntry struct {
	id          uint16
	inputLength uint16
	copyOp      Opcode
	zeroOp      Opcode
	outputLen   uint16
	target      stackTarget
	ext         ExtensionID
}

// catalog holds every entry this decoder recognizes. Entries sharing an id
// but differing on inputLength model an element reported at more than one
// wire width (e.g. a 4-byte or 8-byte counter).
var catalog = buildCatalog()

// catalogIndex maps an element id to the first catalog entry carrying it, so
// MapElement can start a linear scan at the right spot instead of walking
// the whole table per field.
var catalogIndex map[uint16]int

func buildCatalog() []catalogEntry {
	entries := []catalogEntry{
		{ieFlowStartMillisecs, 8, opTime64Mili, opZero64, 8, stackFlowStart, ExtReceived},
		{ieFlowEndMillisecs, 8, opTime64Mili, opZero64, 8, stackFlowEnd, ExtReceived},
		{ieFlowStartSysUpTime, 4, opTimeMili, opZero64, 8, stackFlowStart, ExtReceived},
		{ieFlowEndSysUpTime, 4, opTimeMili, opZero64, 8, stackFlowEnd, ExtReceived},
		{ieFlowStartSeconds, 4, opTimeUnix, opZero64, 8, stackFlowStart, ExtReceived},
		{ieFlowEndSeconds, 4, opTimeUnix, opZero64, 8, stackFlowEnd, ExtReceived},
		{ieFlowStartDeltaMicros, 4, opTimeDeltaMicro, opZero64, 8, stackFlowStart, ExtReceived},
		{ieFlowEndDeltaMicros, 4, opTimeDeltaMicro, opZero64, 8, stackFlowEnd, ExtReceived},
		{ieFlowDurationMillis, 4, opTime64MiliDur, opZero32, 0, stackDuration, ExtReceived},
		{ieSystemInitTimeMillis, 8, opSystemInitTime, opZero64, 0, stackSysUpTime, ExtReceived},

		{ieTCPControlBits, 1, opMove8, opZero8, 1, stackNone, ExtReceived},
		{ieTCPControlBits, 2, opMoveFlags, opZero8, 1, stackNone, ExtReceived},
		{ieProtocolIdentifier, 1, opMove8, opZero8, 1, stackNone, ExtReceived},
		{ieIPClassOfService, 1, opMove8, opZero8, 1, stackNone, ExtReceived},
		{ieSourceTransportPort, 2, opMove16, opZero16, 2, stackNone, ExtReceived},
		{ieDestTransportPort, 2, opMove16, opZero16, 2, stackNone, ExtReceived},
		{ieFlowDirection, 1, opMove8, opZero8, 1, stackNone, ExtReceived},
		{ieFlowEndReason, 1, opMove8, opZero8, 1, stackNone, ExtReceived},
		{ieForwardingStatus, 1, opMove8, opZero8, 1, stackNone, ExtReceived},

		{ieSourceIPv4Address, 4, opMove32, opZero32, 4, stackNone, ExtReceived},
		{ieDestIPv4Address, 4, opMove32, opZero32, 4, stackNone, ExtReceived},
		{ieSourceIPv6Address, 16, opMove128, opZero128, 16, stackNone, ExtReceived},
		{ieDestIPv6Address, 16, opMove128, opZero128, 16, stackNone, ExtReceived},

		{iePacketTotalCount, 8, opMove64, opZero64, 8, stackPackets, ExtReceived},
		{iePacketTotalCount, 4, opMove32, opZero64, 8, stackPackets, ExtReceived},
		{iePacketDeltaCount, 8, opMove64Sampling, opZero64, 8, stackPackets, ExtReceived},
		{iePacketDeltaCount, 4, opMove32Sampling, opZero64, 8, stackPackets, ExtReceived},
		{ieOctetTotalCount, 8, opMove64, opZero64, 8, stackBytes, ExtReceived},
		{ieOctetTotalCount, 4, opMove32, opZero64, 8, stackBytes, ExtReceived},
		{ieOctetDeltaCount, 8, opMove64Sampling, opZero64, 8, stackBytes, ExtReceived},
		{ieOctetDeltaCount, 4, opMove32Sampling, opZero64, 8, stackBytes, ExtReceived},

		{ieIngressInterface, 2, opMove16, opZero16, 2, stackNone, ExtSNMPIn},
		{ieIngressInterface, 4, opMove32, opZero32, 4, stackNone, ExtSNMPIn},
		{ieEgressInterface, 2, opMove16, opZero16, 2, stackNone, ExtSNMPOut},
		{ieEgressInterface, 4, opMove32, opZero32, 4, stackNone, ExtSNMPOut},

		{ieBGPSourceAsNumber, 2, opMove16, opZero16, 2, stackNone, ExtAS},
		{ieBGPSourceAsNumber, 4, opMove32, opZero32, 4, stackNone, ExtAS},
		{ieBGPDestAsNumber, 2, opMove16, opZero16, 2, stackNone, ExtAS},
		{ieBGPDestAsNumber, 4, opMove32, opZero32, 4, stackNone, ExtAS},

		{ieSourceIPv4PrefixLen, 1, opMove8, opZero8, 1, stackNone, ExtMultiple},
		{ieDestIPv4PrefixLen, 1, opMove8, opZero8, 1, stackNone, ExtMultiple},
		{ieSourceIPv6PrefixLen, 1, opMove8, opZero8, 1, stackNone, ExtMultiple},
		{ieDestIPv6PrefixLen, 1, opMove8, opZero8, 1, stackNone, ExtMultiple},
		{iePostIPClassOfService, 1, opMove8, opZero8, 1, stackNone, ExtMultiple},

		{ieIPNextHopIPv4, 4, opMove32, opZero32, 4, stackNone, ExtNextHopV4},
		{ieIPNextHopIPv6, 16, opMove128, opZero128, 16, stackNone, ExtNextHopV6},
		{ieBGPNextHopIPv4, 4, opMove32, opZero32, 4, stackNone, ExtBGPNextHopV4},
		{ieBGPNextHopIPv6, 16, opMove128, opZero128, 16, stackNone, ExtBGPNextHopV6},

		{ieVlanID, 2, opMove16, opZero16, 2, stackNone, ExtVlan},
		{iePostVlanID, 2, opMove16, opZero16, 2, stackNone, ExtVlan},

		{iePostOctetDeltaCount, 8, opMove64Sampling, opZero64, 8, stackOutBytes, ExtOutCounters},
		{iePostOctetDeltaCount, 4, opMove32Sampling, opZero64, 8, stackOutBytes, ExtOutCounters},
		{iePostPacketDeltaCount, 8, opMove64Sampling, opZero64, 8, stackOutPackets, ExtOutCounters},
		{iePostPacketDeltaCount, 4, opMove32Sampling, opZero64, 8, stackOutPackets, ExtOutCounters},

		{ieSourceMacAddress, 6, opMoveMAC, opZero64, 8, stackNone, ExtMAC},
		{ieDestMacAddress, 6, opMoveMAC, opZero64, 8, stackNone, ExtMAC},
		{iePostSourceMacAddress, 6, opMoveMAC, opZero64, 8, stackNone, ExtMAC},
		{iePostDestMacAddress, 6, opMoveMAC, opZero64, 8, stackNone, ExtMAC},

		{iePostNATSourceIPv4, 4, opMove32, opZero32, 4, stackNone, ExtNAT},
		{iePostNATDestIPv4, 4, opMove32, opZero32, 4, stackNone, ExtNAT},
		{iePostNAPTSourcePort, 2, opMove16, opZero16, 2, stackNone, ExtNAT},
		{iePostNAPTDestPort, 2, opMove16, opZero16, 2, stackNone, ExtNAT},
		{ieIngressVRFID, 4, opMove32, opZero32, 4, stackNone, ExtNAT},
		{ieEgressVRFID, 4, opMove32, opZero32, 4, stackNone, ExtNAT},

		{ieICMPTypeCodeIPv4, 2, opSaveICMP, opZero16, 0, stackICMPTypeCode, ExtReceived},
		{ieICMPTypeCodeIPv6, 2, opSaveICMP, opZero16, 0, stackICMPTypeCode, ExtReceived},
		{ieICMPTypeIPv4, 1, opMove8, opZero8, 1, stackNone, ExtReceived},
		{ieICMPCodeIPv4, 1, opMove8, opZero8, 1, stackNone, ExtReceived},

		// observationDomainId / exporter address fields: recognized so they
		// don't read as unsupported, but they carry no output bytes of
		// their own (the router IP is stamped by the executor, not copied
		// from the wire).
		{ieObservationDomainID, 4, opNop, opNop, 0, stackNone, ExtIgnoreOutput},
		{ieExporterIPv4Address, 4, opNop, opNop, 0, stackNone, ExtIgnoreOutput},
		{ieExporterIPv6Address, 16, opNop, opNop, 0, stackNone, ExtIgnoreOutput},
	}

	for label := uint16(0); label < ieMPLSLabelStack10-ieMPLSLabelStack1+1; label++ {
		entries = append(entries, catalogEntry{
			id: ieMPLSLabelStack1 + label, inputLength: 3,
			copyOp: opMoveMPLS, zeroOp: opZero32, outputLen: 4,
			target: stackNone, ext: ExtMPLS,
		})
	}

	return entries
}

func init() {
	catalogIndex = make(map[uint16]int, len(catalog))
	for i, e := range catalog {
		if _, ok := catalogIndex[e.id]; !ok {
			catalogIndex[e.id] = i
		}
	}
}

// reverseElementTable maps a forward element id, carried under enterprise
// number reverseInformationElementPEN, to the catalog entry that represents
// its reverse-direction counterpart. Only counters have a meaningful
// reverse role in this decoder; anything else under PEN 29305 degrades to
// the forward element unchanged.
var reverseElementTable = map[uint16]uint16{
	ieOctetDeltaCount:  iePostOctetDeltaCount,
	iePacketDeltaCount: iePostPacketDeltaCount,
	ieOctetTotalCount:  iePostOctetDeltaCount,
	iePacketTotalCount: iePostPacketDeltaCount,
}

// mapResult is what MapElement returns for one template field: whether a
// catalog entry was found, which entry, and which extension (if any) it
// contributes.
type mapResult struct {
	found bool
	entry catalogEntry
	ext   ExtensionID
	extOK bool
}

// MapElement resolves one template field to a catalog entry, handling the
// enterprise bit, the reverse-information PEN, and unsupported enterprise
// numbers. Fields that don't resolve are reported as unsupported so the
// caller can fold them into a skip run.
func MapElement(elementID uint16, length uint16, enterpriseNumber uint32, logger *slog.Logger) mapResult {
	id := elementID
	switch enterpriseNumber {
	case 0:
		// standard element, nothing to rewrite
	case reverseInformationElementPEN:
		if rev, ok := reverseElementTable[elementID]; ok {
			id = rev
		}
	default:
		if logger != nil {
			logger.Debug("dropping enterprise field", "pen", enterpriseNumber, "element", elementID)
		}
		return mapResult{found: false}
	}

	idx, ok := catalogIndex[id]
	if !ok {
		return mapResult{found: false}
	}
	for i := idx; i < len(catalog) && catalog[i].id == id; i++ {
		if catalog[i].inputLength == length {
			return mapResult{found: true, entry: catalog[i], ext: catalog[i].ext, extOK: true}
		}
	}
	return mapResult{found: false}
}
