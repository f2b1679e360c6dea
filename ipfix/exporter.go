package ipfix

import "net"

// Exporter is the per-(source IP, observation domain) state the registry
// hands out. It owns every template, option template, and sampler
// descriptor that exporter has announced, plus the sequence-number and
// packet/flow counters used to detect loss. Exporters are created on first
// packet and never evicted for the lifetime of the process.
type Exporter struct {
	SourceIP    net.IP
	ObsDomainID uint32
	SysID       uint32

	PacketCount uint64
	FlowCount   uint64

	ExpectedSequence uint32
	HasSeenData      bool

	Templates    map[uint16]*Template
	lastTemplate *Template

	OptionTemplates map[uint16]*OptionTemplate
	Samplers        map[int32]*Sampler

	// SystemInitTime is the most recently extracted option-provided
	// system-uptime reference (milliseconds since epoch), used to resolve
	// sysup-relative time stamps when a data record itself carries no
	// per-record reference.
	SystemInitTime    uint64
	HasSystemInitTime bool
}

func newExporter(sourceIP net.IP, obsDomainID uint32, sysID uint32) *Exporter {
	return &Exporter{
		SourceIP:        sourceIP,
		ObsDomainID:     obsDomainID,
		SysID:           sysID,
		Templates:       make(map[uint16]*Template),
		OptionTemplates: make(map[uint16]*OptionTemplate),
		Samplers:        make(map[int32]*Sampler),
	}
}

// template looks a template up, consulting the one-slot last-used cache
// before the map, matching the original collector's hot-path shortcut.
func (e *Exporter) template(id uint16) (*Template, bool) {
	if e.lastTemplate != nil && e.lastTemplate.ID == id {
		return e.lastTemplate, true
	}
	t, ok := e.Templates[id]
	if ok {
		e.lastTemplate = t
	}
	return t, ok
}

// setTemplate installs or replaces a template, freeing the previous one's
// extension map registration first.
func (e *Exporter) setTemplate(t *Template, sink Sink) {
	if old, ok := e.Templates[t.ID]; ok && old.extMap != nil {
		sink.RemoveExtensionMap(old.extMap.id)
	}
	e.Templates[t.ID] = t
	if e.lastTemplate != nil && e.lastTemplate.ID == t.ID {
		e.lastTemplate = t
	}
}

// withdrawTemplate removes the single template with the given id; the
// all-templates withdrawal is handled by withdrawAllTemplates.
func (e *Exporter) withdrawTemplate(id uint16, sink Sink) {
	if t, ok := e.Templates[id]; ok {
		if t.extMap != nil {
			sink.RemoveExtensionMap(t.extMap.id)
		}
		delete(e.Templates, id)
		if e.lastTemplate == t {
			e.lastTemplate = nil
		}
	}
}

func (e *Exporter) withdrawAllTemplates(sink Sink) {
	for id := range e.Templates {
		e.withdrawTemplate(id, sink)
	}
}
