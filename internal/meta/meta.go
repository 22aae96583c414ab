// Package meta names the reserved metadata keys shared by the session
// state machine (C4) and the reach loop (C6), grounded on
// _examples/original_source/include/Rho/Meta.hpp.
package meta

const (
	Proofed                       uint64 = 0
	Hostname                      uint64 = 1
	NumericalHostname             uint64 = 2
	NumericalHostnameTargetSource uint64 = 3
	Certs                         uint64 = 4
	PublicKey                     uint64 = 5
	Name                          uint64 = 6
	UUID                          uint64 = 7
)
