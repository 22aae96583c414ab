// Package metrics adapts the teacher's atomic-counter snapshot
// pattern (internal/metrics in the original) to the bundle engine's
// own counters.
package metrics

import (
	"encoding/json"
	"os"
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time read of every counter, suitable for
// periodic JSON export.
type Snapshot struct {
	GeneratedAt      time.Time `json:"generated_at"`
	BundlesSent      uint64    `json:"bundles_sent"`
	BundlesReceived  uint64    `json:"bundles_received"`
	DropReplay       uint64    `json:"drop_replay"`
	DropMalformed    uint64    `json:"drop_malformed"`
	DropAEAD         uint64    `json:"drop_aead"`
	DropGlare        uint64    `json:"drop_glare"`
	Retransmits      uint64    `json:"retransmits"`
	SwitchesComplete uint64    `json:"switches_complete"`
	ChannelsOpened   uint64    `json:"channels_opened"`
	ChannelsClosed   uint64    `json:"channels_closed"`
	ReachHops        uint64    `json:"reach_hops"`
}

// Metrics is a set of lock-free counters, one per outcome the bundle
// engine, session state machine, railway multiplexer and reach loop
// care to report. Safe for concurrent use across sessions; a single
// session's own Engine/StateMachine methods are not expected to call
// these concurrently with each other (spec.md §5's single-threaded
// per-session model), only across sessions.
type Metrics struct {
	bundlesSent      atomic.Uint64
	bundlesReceived  atomic.Uint64
	dropReplay       atomic.Uint64
	dropMalformed    atomic.Uint64
	dropAEAD         atomic.Uint64
	dropGlare        atomic.Uint64
	retransmits      atomic.Uint64
	switchesComplete atomic.Uint64
	channelsOpened   atomic.Uint64
	channelsClosed   atomic.Uint64
	reachHops        atomic.Uint64
}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncBundlesSent()      { m.bundlesSent.Add(1) }
func (m *Metrics) IncBundlesReceived()  { m.bundlesReceived.Add(1) }
func (m *Metrics) IncDropReplay()       { m.dropReplay.Add(1) }
func (m *Metrics) IncDropMalformed()    { m.dropMalformed.Add(1) }
func (m *Metrics) IncDropAEAD()         { m.dropAEAD.Add(1) }
func (m *Metrics) IncDropGlare()        { m.dropGlare.Add(1) }
func (m *Metrics) IncRetransmits()      { m.retransmits.Add(1) }
func (m *Metrics) IncSwitchesComplete() { m.switchesComplete.Add(1) }
func (m *Metrics) IncChannelsOpened()   { m.channelsOpened.Add(1) }
func (m *Metrics) IncChannelsClosed()   { m.channelsClosed.Add(1) }
func (m *Metrics) IncReachHops()        { m.reachHops.Add(1) }

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		GeneratedAt:      time.Now().UTC(),
		BundlesSent:      m.bundlesSent.Load(),
		BundlesReceived:  m.bundlesReceived.Load(),
		DropReplay:       m.dropReplay.Load(),
		DropMalformed:    m.dropMalformed.Load(),
		DropAEAD:         m.dropAEAD.Load(),
		DropGlare:        m.dropGlare.Load(),
		Retransmits:      m.retransmits.Load(),
		SwitchesComplete: m.switchesComplete.Load(),
		ChannelsOpened:   m.channelsOpened.Load(),
		ChannelsClosed:   m.channelsClosed.Load(),
		ReachHops:        m.reachHops.Load(),
	}
}

func (m *Metrics) WriteSnapshot(path string) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
