package reach

import (
	"strconv"
	"strings"

	"puffer/internal/codec"
)

// NumericalHostname is a fully-resolved destination: a path of
// unsigned integer labels, the wire-friendly form every hop ultimately
// needs to route on.
type NumericalHostname []uint64

// Hostname is a dot-separated label path that may mix numeric labels
// ("10.0.0.1") with symbolic ones ("relay7.region-west") still needing
// resolution by an intermediate hop.
type Hostname string

func (h Hostname) labels() []string {
	if h == "" {
		return nil
	}
	return strings.Split(string(h), ".")
}

// IncludesNames reports whether any label fails to parse as a plain
// non-negative integer, i.e. whether further resolution is needed.
func (h Hostname) IncludesNames() bool {
	for _, l := range h.labels() {
		if _, err := strconv.ParseUint(l, 10, 64); err != nil {
			return true
		}
	}
	return false
}

// BeforeNamed returns the longest all-numeric prefix of h, i.e. the
// portion the current hop can already resolve without help.
func (h Hostname) BeforeNamed() Hostname {
	var out []string
	for _, l := range h.labels() {
		if _, err := strconv.ParseUint(l, 10, 64); err != nil {
			break
		}
		out = append(out, l)
	}
	return Hostname(strings.Join(out, "."))
}

// ToNumericalHostname parses every label of h as an integer. It
// fails if any label is symbolic.
func (h Hostname) ToNumericalHostname() (NumericalHostname, bool) {
	labels := h.labels()
	out := make(NumericalHostname, 0, len(labels))
	for _, l := range labels {
		v, err := strconv.ParseUint(l, 10, 64)
		if err != nil {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}

func (n NumericalHostname) String() string {
	parts := make([]string, len(n))
	for i, v := range n {
		parts[i] = strconv.FormatUint(v, 10)
	}
	return strings.Join(parts, ".")
}

// ToNumericalHostnameTargetSource encodes (target, source) as
// VarLong(len(source)) followed by every target label then every
// source label, matching
// Rho::Reach::toNumericalHostnameTargetSource's layout exactly (the
// total label count minus sourceLen on decode recovers target's
// length, since neither array's own length is stored directly).
func ToNumericalHostnameTargetSource(target, source NumericalHostname) []byte {
	buf := codec.WriteVarLong(nil, uint64(len(source)))
	for _, v := range target {
		buf = codec.WriteVarLong(buf, v)
	}
	for _, v := range source {
		buf = codec.WriteVarLong(buf, v)
	}
	return buf
}

// FromNumericalHostnameTargetSource is the inverse of
// ToNumericalHostnameTargetSource.
func FromNumericalHostnameTargetSource(data []byte) (target, source NumericalHostname, ok bool) {
	cursor := 0
	sourceLen, n, err := codec.ReadVarLong(data, cursor)
	if err != nil {
		return nil, nil, false
	}
	cursor += n

	var all []uint64
	for cursor < len(data) {
		v, n, err := codec.ReadVarLong(data, cursor)
		if err != nil {
			break
		}
		all = append(all, v)
		cursor += n
	}

	targetLen := 0
	if uint64(len(all)) > sourceLen {
		targetLen = len(all) - int(sourceLen)
	}
	return NumericalHostname(all[:targetLen]), NumericalHostname(all[targetLen:]), true
}
