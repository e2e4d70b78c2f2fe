// Package queue implements the AMQP-backed rework_queue: message
// encoding, the shared queue_user dedup predicate used by every producer
// path, and the publisher used by mass-recalc, individual-recalc, and
// the session-triggered enqueue usecase.
package queue

import (
	"encoding/binary"
	"fmt"

	"github.com/osuAkatsuki/performance-service/pkg/models"
)

// WireVersion1 is the only currently understood wire format version.
// Future incompatible changes bump this and add a new decode branch,
// per spec §9's forward-compatibility note.
const WireVersion1 byte = 1

// WireSize is the fixed message length for WireVersion1: 1 version byte
// + int32 user_id + int32 rework_id, little-endian.
const WireSize = 9

// Encode serializes a QueueRequest to the fixed wire format.
func Encode(req models.QueueRequest) []byte {
	buf := make([]byte, WireSize)
	buf[0] = WireVersion1
	binary.LittleEndian.PutUint32(buf[1:5], uint32(req.UserID))
	binary.LittleEndian.PutUint32(buf[5:9], uint32(req.ReworkID))
	return buf
}

// Decode parses a wire message, rejecting unknown versions or malformed
// lengths (spec §6: "invalid payloads are dropped").
func Decode(b []byte) (models.QueueRequest, error) {
	if len(b) != WireSize {
		return models.QueueRequest{}, fmt.Errorf("queue: invalid payload length %d, want %d", len(b), WireSize)
	}
	if b[0] != WireVersion1 {
		return models.QueueRequest{}, fmt.Errorf("queue: unknown wire version %d", b[0])
	}
	return models.QueueRequest{
		UserID:   int32(binary.LittleEndian.Uint32(b[1:5])),
		ReworkID: int32(binary.LittleEndian.Uint32(b[5:9])),
	}, nil
}
