// Package reach implements the reach loop (C6): iterative hop-by-hop
// resolution of a symbolic destination hostname down to a numerical
// one trusted root keys can vouch for. Grounded on
// _examples/original_source/include/Rho/Reach.hpp's Reach::run, with
// its implicit synchronous-network-I/O assumption made explicit via
// the Dialer seam below (the original's run() blocks conceptually on
// a tunnel handshake each hop; here that handshake is whatever the
// caller's Dialer does, typically pumping a session.Session to
// completion over a real transport).
package reach

import (
	"bytes"
	"errors"

	"puffer/internal/clock"
	"puffer/internal/codec"
	"puffer/internal/meta"
	"puffer/internal/metrics"
)

// defaultMaxHops matches Reach.hpp's own maxHops field default.
const defaultMaxHops = 50

// ErrMaxHopsExceeded is returned when a resolution does not converge
// within MaxHops iterations.
var ErrMaxHopsExceeded = errors.New("reach: max hops exceeded")

// ErrNoValidProof is returned when a hop's probe response carries no
// proofed key from the current trusted root set.
var ErrNoValidProof = errors.New("reach: peer proofed no trusted key")

// Dialer performs one hop's probe: open a transient session to dest,
// carry outMeta to the peer (conventionally meta.Hostname and
// meta.NumericalHostnameTargetSource), and return the peer's returned
// meta map once the exchange completes and the transient session has
// been disconnected.
type Dialer interface {
	Probe(dest NumericalHostname, outMeta map[uint64][]byte) (map[uint64][]byte, error)
}

// Resolver drives the reach loop for one destination resolution.
type Resolver struct {
	Dialer          Dialer
	Source          NumericalHostname
	RootPublicKeys  [][]byte
	DefaultServers  []NumericalHostname
	MaxHops         int
	Clock           clock.Clock
	Metrics         *metrics.Metrics

	// LastProofed holds the proofed key set returned by the most
	// recent hop, mirroring Reach.hpp's lastProofedPublicKeys.
	LastProofed [][]byte
}

// EncodeProofed serializes a list of proved public keys as
// VarLong(count) followed by VarLong(len)∥bytes per key.
func EncodeProofed(keys [][]byte) []byte {
	buf := codec.WriteVarLong(nil, uint64(len(keys)))
	for _, k := range keys {
		buf = codec.WriteVarLong(buf, uint64(len(k)))
		buf = append(buf, k...)
	}
	return buf
}

// DecodeProofed is the inverse of EncodeProofed.
func DecodeProofed(blob []byte) [][]byte {
	count, n, err := codec.ReadVarLong(blob, 0)
	if err != nil {
		return nil
	}
	cursor := n
	out := make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		klen, n, err := codec.ReadVarLong(blob, cursor)
		if err != nil {
			return out
		}
		cursor += n
		if uint64(cursor)+klen > uint64(len(blob)) {
			return out
		}
		out = append(out, append([]byte(nil), blob[cursor:cursor+int(klen)]...))
		cursor += int(klen)
	}
	return out
}

// Run resolves destination to a fully numerical hostname per
// Reach.hpp's run(): repeatedly probe the next hop, verify at least
// one of its proofed keys is already trusted, optionally extend the
// trusted set with a returned key, and replace destination with
// whatever the peer suggests, until no named labels remain.
func (r *Resolver) Run(destination Hostname) (NumericalHostname, error) {
	maxHops := r.MaxHops
	if maxHops <= 0 {
		maxHops = defaultMaxHops
	}

	for hop := 0; hop < maxHops; hop++ {
		if !destination.IncludesNames() {
			final, ok := destination.ToNumericalHostname()
			if !ok {
				return nil, errors.New("reach: destination not numerically resolvable")
			}
			return final, nil
		}

		// beforeNamed's own labels are all-numeric by construction, so
		// ToNumericalHostname never fails here; an empty beforeNamed
		// with no default servers configured just yields an empty
		// target, matching Reach.hpp's own fallthrough.
		var finalDestination NumericalHostname
		beforeNamed := destination.BeforeNamed()
		if beforeNamed == "" && len(r.DefaultServers) > 0 {
			idx := uint64(r.Clock.NowMillis()) % uint64(len(r.DefaultServers))
			finalDestination = r.DefaultServers[idx]
		} else {
			finalDestination, _ = beforeNamed.ToNumericalHostname()
		}

		nhts := ToNumericalHostnameTargetSource(finalDestination, r.Source)
		outMeta := map[uint64][]byte{
			meta.Hostname:                      []byte(destination),
			meta.NumericalHostnameTargetSource: nhts,
		}

		resp, err := r.Dialer.Probe(finalDestination, outMeta)
		if err != nil {
			return nil, err
		}

		proofed := DecodeProofed(resp[meta.Proofed])
		valid := false
		for _, root := range r.RootPublicKeys {
			for _, p := range proofed {
				if bytes.Equal(p, root) {
					valid = true
					break
				}
			}
			if valid {
				break
			}
		}
		if !valid {
			return nil, ErrNoValidProof
		}

		if nextKey := resp[meta.PublicKey]; len(nextKey) > 0 {
			r.RootPublicKeys = append(r.RootPublicKeys, nextKey)
		}
		if next := resp[meta.Hostname]; len(next) > 0 {
			destination = Hostname(next)
		}
		r.LastProofed = proofed

		if r.Metrics != nil {
			r.Metrics.IncReachHops()
		}
	}
	return nil, ErrMaxHopsExceeded
}
