package ipfix

import (
	"net"
	"time"
)

// ProtoStats accumulates per-protocol-family counters the sink exposes
// downstream (ICMP, TCP, UDP, other), plus the totals across all of them.
type ProtoStats struct {
	Flows     uint64
	Packets   uint64
	Bytes     uint64
	OutFlows  uint64
	OutPacket uint64
	OutBytes  uint64
}

// Stats is the statistics record the dispatcher and executor update as they
// process a datagram: sequence-failure counts and first/last-seen bookkeeping
// live here, not on the exporter, because they are the sink's own view of
// the stream rather than per-exporter protocol state.
type Stats struct {
	SequenceFailures uint64
	FirstSeen        time.Time
	LastSeen         time.Time

	// Total accumulates every field in ICMP/TCP/UDP/Other combined: the
	// global flow/packet/byte counts across every protocol family.
	Total ProtoStats

	ICMP  ProtoStats
	TCP   ProtoStats
	UDP   ProtoStats
	Other ProtoStats
}

// Sink is the contract the core consumes from its caller: a destination for
// decoded output records plus the bookkeeping callbacks the template and
// sampler compilers need (extension-map registration, exporter sysid
// assignment, sampler/exporter flush notifications). It mirrors the nfdump
// FlowSource contract: address family and remote IP of the datagram, an
// output buffer with bounded capacity, a statistics record, and explicit
// buffer-space and flush operations.
type Sink interface {
	// CheckBufferSpace reports whether at least need bytes remain in the
	// current output block; the caller aborts the datagram rather than
	// overrun it.
	CheckBufferSpace(need int) bool

	// Append writes one completed output record (header already stamped)
	// into the current block and advances its record count.
	Append(record []byte) error

	// AssignSysID hands back a process-lifetime-stable, monotonically
	// increasing small integer identifying a newly seen exporter.
	AssignSysID() uint32

	// AddExtensionMap registers (or re-registers, if the id was already
	// assigned) the member list for a dirty extension map and returns its
	// assigned id.
	AddExtensionMap(m *ExtensionMap) uint16
	// RemoveExtensionMap releases a previously registered extension map,
	// e.g. when its owning template is withdrawn.
	RemoveExtensionMap(id uint16)

	// FlushInfoExporter notifies the sink a new exporter was created.
	FlushInfoExporter(sourceIP net.IP, obsDomainID uint32, sysID uint32)
	// FlushInfoSampler notifies the sink a sampler descriptor changed.
	FlushInfoSampler(sysID uint32, samplerID int32, mode uint8, interval uint32)

	// Stats returns the sink's mutable statistics record.
	Stats() *Stats
}
