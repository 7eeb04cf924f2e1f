package stages

import (
	"fmt"
	"time"

	"github.com/roach88/canon/internal/codec"
	"github.com/roach88/canon/internal/ir"
)

// rejectionEvent is the wire form published on the rejections topic.
// Evidence travels as canonical JSON.
type rejectionEvent struct {
	Seq      int64     `cbor:"seq"`
	Code     string    `cbor:"reason_code"`
	RecordID string    `cbor:"record_id"`
	Model    string    `cbor:"model"`
	Stage    string    `cbor:"stage"`
	Evidence []byte    `cbor:"evidence"`
	At       time.Time `cbor:"at"`
}

// EncodeRejectionEvent serializes a rejection for the rejections topic.
func EncodeRejectionEvent(r ir.Rejection) ([]byte, error) {
	evidence, err := ir.MarshalCanonical(r.Evidence)
	if err != nil {
		return nil, fmt.Errorf("encode rejection %s: %w", r.RecordID, err)
	}
	return codec.Marshal(rejectionEvent{
		Seq:      r.Seq,
		Code:     string(r.Code),
		RecordID: r.RecordID,
		Model:    r.Model,
		Stage:    r.Stage,
		Evidence: evidence,
		At:       r.At,
	})
}

// DecodeRejectionEvent is the inverse of EncodeRejectionEvent.
func DecodeRejectionEvent(data []byte) (ir.Rejection, error) {
	var ev rejectionEvent
	if err := codec.Unmarshal(data, &ev); err != nil {
		return ir.Rejection{}, fmt.Errorf("decode rejection event: %w", err)
	}
	var evidence ir.Object
	if err := evidence.UnmarshalJSON(ev.Evidence); err != nil {
		return ir.Rejection{}, fmt.Errorf("decode rejection event: evidence: %w", err)
	}
	return ir.Rejection{
		Seq:      ev.Seq,
		Code:     ir.RejectionCode(ev.Code),
		RecordID: ev.RecordID,
		Model:    ev.Model,
		Stage:    ev.Stage,
		Evidence: evidence,
		At:       ev.At.UTC(),
	}, nil
}
