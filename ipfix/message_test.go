package ipfix

// Helpers to hand-assemble raw IPFIX messages for tests, mirroring the exact
// wire layout dispatch.go/template.go parse: a 16-byte message header
// followed by one or more (id, length, payload) flowsets.

func wrapFlowset(id uint16, body []byte) []byte {
	out := make([]byte, 0, 4+len(body))
	out = appendU16(out, id)
	out = appendU16(out, uint16(4+len(body)))
	return append(out, body...)
}

func appendU16(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}

func appendU32(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func appendU64(b []byte, v uint64) []byte {
	b = appendU32(b, uint32(v>>32))
	return appendU32(b, uint32(v))
}

// encodeFieldSpecs renders a template's field list in wire order: a 16-bit
// type (high bit marking an enterprise-scoped element), a 16-bit length, and
// an optional 32-bit enterprise number.
func encodeFieldSpecs(fields []TemplateField) []byte {
	var out []byte
	for _, f := range fields {
		typ := f.ElementID
		if f.Enterprise != 0 {
			typ |= 0x8000
		}
		out = appendU16(out, typ)
		out = appendU16(out, f.Length)
		if f.Enterprise != 0 {
			out = appendU32(out, f.Enterprise)
		}
	}
	return out
}

func buildTemplateFlowset(templateID uint16, fields []TemplateField) []byte {
	body := appendU16(nil, templateID)
	body = appendU16(body, uint16(len(fields)))
	body = append(body, encodeFieldSpecs(fields)...)
	return wrapFlowset(flowsetTemplate, body)
}

func buildWithdrawalFlowset(templateID uint16) []byte {
	body := appendU16(nil, templateID)
	body = appendU16(body, 0)
	return wrapFlowset(flowsetTemplate, body)
}

func buildDataFlowset(flowsetID uint16, records ...[]byte) []byte {
	var body []byte
	for _, rec := range records {
		body = append(body, rec...)
	}
	return wrapFlowset(flowsetID, body)
}

// buildOptionTemplateFlowset emits the field specs in slice order, with the
// scope count set to the number of IsScope fields. The dispatcher treats the
// first scope-count specs as scope fields, so scope fields must come first in
// the slice.
func buildOptionTemplateFlowset(templateID uint16, fields []OptionField) []byte {
	body := appendU16(nil, templateID)
	body = appendU16(body, uint16(len(fields)))
	scopeCount := 0
	for _, f := range fields {
		if f.IsScope {
			scopeCount++
		}
	}
	body = appendU16(body, uint16(scopeCount))
	for _, f := range fields {
		body = appendU16(body, f.ElementID)
		body = appendU16(body, f.Length)
	}
	return wrapFlowset(flowsetOptionTemplate, body)
}

func buildMessage(seq, obsDomain, exportTime uint32, flowsets ...[]byte) []byte {
	var body []byte
	for _, fs := range flowsets {
		body = append(body, fs...)
	}
	hdr := appendU16(nil, ipfixVersion)
	hdr = appendU16(hdr, uint16(messageHeaderSize+len(body)))
	hdr = appendU32(hdr, exportTime)
	hdr = appendU32(hdr, seq)
	hdr = appendU32(hdr, obsDomain)
	return append(hdr, body...)
}
