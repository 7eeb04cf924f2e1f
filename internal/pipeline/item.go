package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/canon/internal/codec"
	"github.com/roach88/canon/internal/ir"
)

// Stage names, in processing order.
const (
	StageIntake      = "intake"
	StageStandardize = "standardize"
	StageKey         = "key"
	StageAssociate   = "associate"
	StageProject     = "project"
)

// Stages lists every stage in order.
var Stages = []string{StageIntake, StageStandardize, StageKey, StageAssociate, StageProject}

// RejectionsTopic carries rejection events for operator tooling.
const RejectionsTopic = "canon.rejections"

// Topic is the queue topic a stage consumes.
func Topic(stage string) string {
	return "canon." + stage
}

// NextStage returns the stage after stage, or false after the last one.
func NextStage(stage string) (string, bool) {
	for i, s := range Stages {
		if s == stage && i+1 < len(Stages) {
			return Stages[i+1], true
		}
	}
	return "", false
}

// IsStage reports whether name is a known stage.
func IsStage(name string) bool {
	for _, s := range Stages {
		if s == name {
			return true
		}
	}
	return false
}

// WorkItem is the unit that travels between stages.
type WorkItem struct {
	Record ir.Record

	// Keys and BusinessKey are filled by the key stage.
	Keys        []ir.AggregationKey
	BusinessKey string

	// ReferenceID and Version are filled by the associate stage.
	ReferenceID string
	Version     int64

	// Attempts counts retries consumed at the current stage. Reset when the
	// item advances or is reinjected.
	Attempts int

	// Generation counts operator reinjections.
	Generation int

	// Original is the record before the most recent Transform.
	Original *ir.Record

	// Trail records one line per stage outcome other than Continue.
	Trail []string
}

// Clone returns a copy that can be modified without touching w.
func (w *WorkItem) Clone() *WorkItem {
	c := *w
	c.Record.Payload = w.Record.Payload.Clone()
	c.Keys = append([]ir.AggregationKey(nil), w.Keys...)
	c.Trail = append([]string(nil), w.Trail...)
	return &c
}

// wireItem is the CBOR form of a WorkItem. Records travel as JSON so the
// payload keeps its integer-only value kinds.
type wireItem struct {
	Record      []byte              `cbor:"record"`
	Keys        []ir.AggregationKey `cbor:"keys,omitempty"`
	BusinessKey string              `cbor:"business_key,omitempty"`
	ReferenceID string              `cbor:"reference_id,omitempty"`
	Version     int64               `cbor:"version,omitempty"`
	Attempts    int                 `cbor:"attempts,omitempty"`
	Generation  int                 `cbor:"generation,omitempty"`
	Original    []byte              `cbor:"original,omitempty"`
	Trail       []string            `cbor:"trail,omitempty"`
}

// EncodeItem serializes a work item for the queue.
func EncodeItem(w *WorkItem) ([]byte, error) {
	record, err := json.Marshal(w.Record)
	if err != nil {
		return nil, fmt.Errorf("encode item %s: record: %w", w.Record.ID, err)
	}
	wire := wireItem{
		Record:      record,
		Keys:        w.Keys,
		BusinessKey: w.BusinessKey,
		ReferenceID: w.ReferenceID,
		Version:     w.Version,
		Attempts:    w.Attempts,
		Generation:  w.Generation,
		Trail:       w.Trail,
	}
	if w.Original != nil {
		if wire.Original, err = json.Marshal(w.Original); err != nil {
			return nil, fmt.Errorf("encode item %s: original: %w", w.Record.ID, err)
		}
	}
	return codec.Marshal(wire)
}

// DecodeItem is the inverse of EncodeItem.
func DecodeItem(data []byte) (*WorkItem, error) {
	var wire wireItem
	if err := codec.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	w := &WorkItem{
		Keys:        wire.Keys,
		BusinessKey: wire.BusinessKey,
		ReferenceID: wire.ReferenceID,
		Version:     wire.Version,
		Attempts:    wire.Attempts,
		Generation:  wire.Generation,
		Trail:       wire.Trail,
	}
	if err := json.Unmarshal(wire.Record, &w.Record); err != nil {
		return nil, fmt.Errorf("decode item: record: %w", err)
	}
	if len(wire.Original) > 0 {
		var orig ir.Record
		if err := json.Unmarshal(wire.Original, &orig); err != nil {
			return nil, fmt.Errorf("decode item: original: %w", err)
		}
		w.Original = &orig
	}
	return w, nil
}
