// Package memsink provides a bounded in-memory ipfix.Sink: an output block
// buffer, the sink-side bookkeeping the core needs (sysid assignment,
// extension-map registration, flush notifications), and the statistics
// record the dispatcher and executor update. It deliberately stops at the
// block boundary — file rotation, on-disk writing, and query/aggregation
// over flushed blocks are external collaborators, not this package's job.
package memsink

import (
	"log/slog"
	"net"
	"sync"

	"github.com/flowlayer/ipfixcore/ipfix"
)

// defaultMaxBlockSize mirrors the nffile block-size cap the original
// collector enforces before rotating to a new block.
const defaultMaxBlockSize = 1 << 20

// Block is one bounded batch of completed output records, plus the
// extension-map membership a caller needs to interpret them.
type Block struct {
	Records       [][]byte
	NumRecords    int
	Size          int
	ExtensionMaps map[uint16][]ipfix.ExtensionID
}

func newBlock() *Block {
	return &Block{ExtensionMaps: make(map[uint16][]ipfix.ExtensionID)}
}

// Sink accumulates decoded output records into bounded blocks. Its block,
// sysid and extension-map methods are guarded by a mutex; the statistics
// record returned by Stats is not (see Stats), so concurrent FlowSources
// sharing one Sink race on it.
type Sink struct {
	mu sync.Mutex

	maxBlockSize int
	block        *Block

	nextExtMapID uint16
	nextSysID    uint32

	stats ipfix.Stats

	logger *slog.Logger
}

// New builds a Sink with the given block-size cap (0 selects the default).
// logger may be nil to discard flush notifications.
func New(maxBlockSize int, logger *slog.Logger) *Sink {
	if maxBlockSize <= 0 {
		maxBlockSize = defaultMaxBlockSize
	}
	return &Sink{
		maxBlockSize: maxBlockSize,
		block:        newBlock(),
		logger:       logger,
	}
}

// CheckBufferSpace reports whether need more bytes still fit in the current
// block.
func (s *Sink) CheckBufferSpace(need int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.block.Size+need <= s.maxBlockSize
}

// Append adds one completed output record to the current block.
func (s *Sink) Append(record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.block.Size+len(record) > s.maxBlockSize {
		return ipfix.ErrBufferFull
	}
	s.block.Records = append(s.block.Records, record)
	s.block.NumRecords++
	s.block.Size += len(record)
	return nil
}

// AssignSysID hands back the next process-lifetime-stable exporter id.
func (s *Sink) AssignSysID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSysID++
	return s.nextSysID
}

// AddExtensionMap registers m's member set if it changed since its last
// registration, otherwise returns its existing id unchanged.
func (s *Sink) AddExtensionMap(m *ipfix.ExtensionMap) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !m.Dirty() && m.ID() != 0 {
		return m.ID()
	}
	s.nextExtMapID++
	id := s.nextExtMapID
	m.Assign(id)
	s.block.ExtensionMaps[id] = append([]ipfix.ExtensionID(nil), m.Members()...)
	return id
}

// RemoveExtensionMap drops a registered extension map, e.g. when its owning
// template is withdrawn.
func (s *Sink) RemoveExtensionMap(id uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.block.ExtensionMaps, id)
}

// FlushInfoExporter logs a newly seen exporter at info level.
func (s *Sink) FlushInfoExporter(sourceIP net.IP, obsDomainID uint32, sysID uint32) {
	if s.logger == nil {
		return
	}
	s.logger.Info("ipfix: new exporter", "source", sourceIP.String(), "obs_domain", obsDomainID, "sysid", sysID)
}

// FlushInfoSampler logs a new or changed sampler descriptor at info level.
func (s *Sink) FlushInfoSampler(sysID uint32, samplerID int32, mode uint8, interval uint32) {
	if s.logger == nil {
		return
	}
	s.logger.Info("ipfix: sampler update", "sysid", sysID, "sampler", samplerID, "mode", mode, "interval", interval)
}

// Stats returns the sink's mutable statistics record. Callers rely on
// spec §5's single-thread-per-source model rather than a lock here: the
// dispatcher and executor mutate it in place between Flush calls.
func (s *Sink) Stats() *ipfix.Stats {
	return &s.stats
}

// Flush hands back the current block and starts a fresh one. The caller
// decides where the block's bytes go (disk, Kafka, nothing at all); memsink
// only bounds how much memory one block can hold before the core must abort
// a datagram with ErrBufferFull.
func (s *Sink) Flush() *Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.block
	s.block = newBlock()
	return b
}

// NumRecords reports the current block's record count without flushing it.
func (s *Sink) NumRecords() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.block.NumRecords
}
