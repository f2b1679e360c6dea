package ipfix

import (
	"fmt"
	"net"
	"sync"

	"github.com/flowlayer/ipfixcore/metrics"
	"github.com/flowlayer/ipfixcore/state"
)

// exporterKey identifies one exporter: (source IP, observation domain).
// net.IP isn't comparable, so the registry keys on its string form, matching
// how the generic state.State[K,V] cache is used elsewhere in this module.
type exporterKey struct {
	sourceIP string
	obsID    uint32
}

// Registry maps (source IP, observation domain) to Exporter state. It is
// backed by the generic state.State cache so the registry can optionally
// persist across a collector restart (badger) or be shared across
// collector replicas (redis); "memory" is the default and matches the
// original collector's never-evicted, process-lifetime registry.
type Registry struct {
	backend state.State[exporterKey, *Exporter]

	mu sync.Mutex
}

// NewRegistry opens a registry backed by the given state URL ("memory://",
// "badger://path", "redis://host:port/db"); see state.NewState.
func NewRegistry(backendURL string) (*Registry, error) {
	backend, err := state.NewState[exporterKey, *Exporter](backendURL)
	if err != nil {
		return nil, fmt.Errorf("ipfix: opening exporter registry: %w", err)
	}
	return &Registry{backend: backend}, nil
}

// Close releases the backing state store.
func (r *Registry) Close() error {
	return r.backend.Close()
}

// GetOrCreate returns the exporter for (sourceIP, obsDomainID), creating one
// via the sink's AssignSysID/FlushInfoExporter callbacks on first sight.
func (r *Registry) GetOrCreate(sourceIP net.IP, obsDomainID uint32, sink Sink) (*Exporter, error) {
	key := exporterKey{sourceIP: sourceIP.String(), obsID: obsDomainID}

	if exp, err := r.backend.Get(key); err == nil {
		return exp, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the lock: another goroutine (a second FlowSource
	// sharing this registry) may have created it between the unlocked Get
	// above and here.
	if exp, err := r.backend.Get(key); err == nil {
		return exp, nil
	}

	sysID := sink.AssignSysID()
	exp := newExporter(sourceIP, obsDomainID, sysID)
	if err := r.backend.Add(key, exp); err != nil {
		return nil, fmt.Errorf("ipfix: registering exporter: %w", err)
	}
	metrics.ExportersActive.Inc()
	sink.FlushInfoExporter(sourceIP, obsDomainID, sysID)
	return exp, nil
}
