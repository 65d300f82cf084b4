package adbwire

import (
	"slices"
	"strings"
)

// Connection properties sent by the device in its A_CNXN banner. Other
// properties are ignored.
var ConnectionProps = []string{
	"ro.serialno",
	"ro.product.name",
	"ro.product.model",
}

// Banner is the payload of an A_CNXN packet, e.g.
// "device::ro.serialno=X;ro.product.name=y;features=cmd,stat_v2".
type Banner struct {
	Type     string
	Props    map[string]string
	Features []string
}

// HostBanner builds the banner sent by this host in its initial A_CNXN.
func HostBanner(features ...string) *Banner {
	return &Banner{
		Type:     "host",
		Features: features,
	}
}

// Encode formats the banner. The features prop, if any, is emitted last.
func (b *Banner) Encode() string {
	var s strings.Builder
	s.WriteString(b.Type)
	s.WriteString("::")
	for _, k := range propKeys(b.Props) {
		s.WriteString(k)
		s.WriteByte('=')
		s.WriteString(b.Props[k])
		s.WriteByte(';')
	}
	if len(b.Features) != 0 {
		s.WriteString("features=")
		s.WriteString(strings.Join(b.Features, ","))
	}
	return s.String()
}

// Decode parses a banner payload. NUL bytes are stripped first, then the
// string is split on the first "::", the tail on ';', and each entry on '=',
// keeping the first two trimmed components as key/value.
func (b *Banner) Decode(raw string) {
	raw = strings.ReplaceAll(raw, "\x00", "")
	b.Props = map[string]string{}
	b.Features = nil
	typ, rest, _ := strings.Cut(raw, "::")
	b.Type = typ
	for _, entry := range strings.Split(rest, ";") {
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 3)
		k, v := strings.TrimSpace(parts[0]), ""
		if len(parts) > 1 {
			v = strings.TrimSpace(parts[1])
		}
		if k == "features" {
			b.Features = strings.Split(v, ",")
			continue
		}
		b.Props[k] = v
	}
}

// propKeys returns the prop keys in a stable order.
func propKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
