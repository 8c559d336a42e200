// Package protocol defines the bus subjects and event payloads the
// pipeline publishes as units move through segmentation and synthesis.
package protocol

import "time"

const (
	SubjectUnitSegmented   = "fablecast.unit.segmented"
	SubjectUnitSynthesized = "fablecast.unit.synthesized"
	SubjectSynthFailed     = "fablecast.synth.failed"
)

// UnitSegmented announces that a chapter's transcript has been written.
type UnitSegmented struct {
	RunID     string    `json:"run_id"`
	UnitID    string    `json:"unit_id"`
	Segments  int       `json:"segments"`
	Timestamp time.Time `json:"timestamp"`
}

// UnitSynthesized announces that a unit's audio has been assembled and
// delivered.
type UnitSynthesized struct {
	RunID     string    `json:"run_id"`
	UnitID    string    `json:"unit_id"`
	Chunks    int       `json:"chunks"`
	Failed    int       `json:"failed"`
	AudioPath string    `json:"audio_path"`
	Timestamp time.Time `json:"timestamp"`
}

// SynthFailed reports one chunk that could not be synthesized. The unit
// continues without the fragment.
type SynthFailed struct {
	RunID        string    `json:"run_id"`
	UnitID       string    `json:"unit_id"`
	SegmentIndex int       `json:"segment_index"`
	SubIndex     int       `json:"sub_index"`
	Reason       string    `json:"reason"`
	Timestamp    time.Time `json:"timestamp"`
}
