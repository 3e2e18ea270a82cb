package types

import "bmscore-go/bus"

// ------------------------
// Topics
// ------------------------

// bms/snapshot   retained, one per published cycle
// bms/fault      every escalated fault
// bms/state      retained monitor lifecycle
// config/<name>  retained boot configuration sections
func TopicSnapshot() bus.Topic { return bus.T("bms", "snapshot") }
func TopicFault() bus.Topic    { return bus.T("bms", "fault") }
func TopicState() bus.Topic    { return bus.T("bms", "state") }

func TopicConfig(section string) bus.Topic { return bus.T("config", section) }

// ------------------------
// Monitor state (retained)
// ------------------------

type MonitorState struct {
	Level  string `json:"level"`  // "starting", "running", "faulted", "stopped"
	Status string `json:"status"` // short code, see errcode
	TS     int64  `json:"ts_ms"`
}

// ------------------------
// Snapshot (retained)
// ------------------------

// Reading is a calibrated value and its flat index (slave*channels+offset).
type Reading struct {
	Value float64 `json:"value"`
	Index int     `json:"index"`
}

type Snapshot struct {
	Box    uint8  `json:"box"`
	Seq    uint64 `json:"seq"`
	TS     int64  `json:"ts_ms"`
	Mode   string `json:"mode"`
	Slaves int    `json:"slaves"`

	Cells []float64 `json:"cells_v"` // slave-major
	Temps []float64 `json:"temps_c"`

	MinCell    Reading `json:"min_cell"`
	MaxCell    Reading `json:"max_cell"`
	MinTemp    Reading `json:"min_temp"`
	MaxTemp    Reading `json:"max_temp"`
	TotalVolts float64 `json:"total_v"`

	Amps         float64 `json:"amps"`
	PackVolts    float64 `json:"pack_v"`
	CurrentFresh bool    `json:"current_fresh"`

	SiblingVolts float64 `json:"sibling_v,omitempty"`
	SiblingSeen  bool    `json:"sibling_seen"`

	CycleMs float64 `json:"cycle_ms"`
}

// ------------------------
// Faults
// ------------------------

type FaultEvent struct {
	Box     uint8   `json:"box"`
	Kind    string  `json:"kind"`
	Code    string  `json:"code"`
	Slave   int     `json:"slave"`   // -1 when not tied to an IC
	Channel int     `json:"channel"` // -1 when not tied to a channel
	Raw     uint16  `json:"raw,omitempty"`
	Value   float64 `json:"value,omitempty"`
	Index   int     `json:"index"`
	TS      int64   `json:"ts_ms"`
}
