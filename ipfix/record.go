package ipfix

import "sort"

// RecordFlags describes the shape of one output record's optional fields,
// independent of its extension map (which describes which optional groups
// are present; flags describe which variant of the mandatory fields was
// chosen).
type RecordFlags uint64

const (
	FlagCounter64 RecordFlags = 1 << iota
	FlagIPv6
	FlagIPv6NextHop
	FlagIPv6BGPNextHop
	FlagExporterIPv6
	FlagSampled
)

// recordHeaderSize is the fixed prefix every output record carries before
// its per-template variable payload: flags(8) + size(2) + extMapID(2) +
// exporterSysID(4) + nfVersion(2).
const recordHeaderSize = 18

const ipfixNFVersion = 10

// writeRecordHeader stamps the fixed header at the front of an output slot.
func writeRecordHeader(out []byte, flags RecordFlags, size uint16, extMapID uint16, sysID uint32) {
	putBeU64(out[0:8], uint64(flags))
	putBeU16(out[8:10], size)
	putBeU16(out[10:12], extMapID)
	putBeU32(out[12:16], sysID)
	putBeU16(out[16:18], ipfixNFVersion)
}

// ExtensionMap enumerates, in ascending extension-id order, which optional
// field groups a translation table's output records carry. The sink keys
// downstream decoding of a block by this id, so it must be re-registered
// whenever its membership changes.
type ExtensionMap struct {
	id      uint16
	members []ExtensionID
	dirty   bool
}

func newExtensionMap() *ExtensionMap {
	return &ExtensionMap{dirty: true}
}

// set replaces the member set, sorts it for a stable wire order, and marks
// the map dirty if the membership actually changed.
func (m *ExtensionMap) set(members map[ExtensionID]bool) {
	next := make([]ExtensionID, 0, len(members))
	for ext := range members {
		next = append(next, ext)
	}
	sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })

	if !equalExtensions(m.members, next) {
		m.members = next
		m.dirty = true
	}
}

func equalExtensions(a, b []ExtensionID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// has reports whether the given extension is a member.
func (m *ExtensionMap) has(ext ExtensionID) bool {
	for _, e := range m.members {
		if e == ext {
			return true
		}
	}
	return false
}

// ID returns the map's sink-assigned registration id, or 0 before its first
// registration.
func (m *ExtensionMap) ID() uint16 { return m.id }

// Dirty reports whether the member set changed since the map was last
// registered with a sink.
func (m *ExtensionMap) Dirty() bool { return m.dirty }

// Members returns the map's extension ids in ascending order.
func (m *ExtensionMap) Members() []ExtensionID { return m.members }

// Assign records a sink's registration id for this map and clears the dirty
// flag, so a later AddExtensionMap call can short-circuit.
func (m *ExtensionMap) Assign(id uint16) {
	m.id = id
	m.dirty = false
}
