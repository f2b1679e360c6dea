package ipfix

import "net"

// testSink is a minimal in-package Sink used by the decoder's own tests; it
// keeps every callback's arguments around instead of doing anything with
// them, so a test can assert on exactly what the executor/dispatcher fed it.
type testSink struct {
	records [][]byte

	nextSysID uint32
	nextExtID uint16
	extMaps   map[uint16][]ExtensionID

	exportersSeen []net.IP
	samplersSeen  []struct {
		sysID    uint32
		id       int32
		mode     uint8
		interval uint32
	}

	stats Stats
}

func newTestSink() *testSink {
	return &testSink{extMaps: make(map[uint16][]ExtensionID)}
}

func (s *testSink) CheckBufferSpace(need int) bool { return true }

func (s *testSink) Append(record []byte) error {
	cp := append([]byte(nil), record...)
	s.records = append(s.records, cp)
	return nil
}

func (s *testSink) AssignSysID() uint32 {
	s.nextSysID++
	return s.nextSysID
}

func (s *testSink) AddExtensionMap(m *ExtensionMap) uint16 {
	if !m.Dirty() && m.ID() != 0 {
		return m.ID()
	}
	s.nextExtID++
	id := s.nextExtID
	m.Assign(id)
	s.extMaps[id] = append([]ExtensionID(nil), m.Members()...)
	return id
}

func (s *testSink) RemoveExtensionMap(id uint16) {
	delete(s.extMaps, id)
}

func (s *testSink) FlushInfoExporter(sourceIP net.IP, obsDomainID uint32, sysID uint32) {
	s.exportersSeen = append(s.exportersSeen, sourceIP)
}

func (s *testSink) FlushInfoSampler(sysID uint32, samplerID int32, mode uint8, interval uint32) {
	s.samplersSeen = append(s.samplersSeen, struct {
		sysID    uint32
		id       int32
		mode     uint8
		interval uint32
	}{sysID, samplerID, mode, interval})
}

func (s *testSink) Stats() *Stats { return &s.stats }
