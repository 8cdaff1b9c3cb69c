package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Record layout, little-endian and packed.
const (
	offID           = 0
	offType         = 4
	offSender       = 8
	offReceiver     = 9
	offTimestamp    = 10
	offLength       = 14
	offPriority     = 16
	offRequiresAck  = 17
	offAcknowledged = 18
	offChecksum     = 19
	offPayload      = 23

	// MaxPayload is the fixed payload buffer size.
	MaxPayload = 256
	// RecordSize is the size of one queued message.
	RecordSize = offPayload + MaxPayload
)

var (
	errChecksum  = errors.New("checksum mismatch")
	errMalformed = errors.New("malformed message")
	errTooLarge  = errors.New("payload too large")
)

type record [RecordSize]byte

// Checksum is the unsigned byte sum of every record byte outside the
// checksum field.
func (r *record) sum() uint32 {
	var s uint32
	for _, b := range r[:offChecksum] {
		s += uint32(b)
	}
	for _, b := range r[offPayload:] {
		s += uint32(b)
	}
	return s
}

func (r *record) storedSum() uint32 {
	return binary.LittleEndian.Uint32(r[offChecksum:offPayload])
}

// encode fills r from m. The id and checksum are written by seal once the
// destination queue has accepted the record.
func (r *record) encode(m *Message) error {
	var payload []byte
	if m.Payload != nil {
		var err error
		payload, err = m.Payload.appendTo(nil)
		if err != nil {
			return err
		}
	}
	if len(payload) > MaxPayload {
		return fmt.Errorf("%d bytes: %w", len(payload), errTooLarge)
	}

	*r = record{}
	binary.LittleEndian.PutUint32(r[offType:], uint32(m.Type()))
	r[offSender] = byte(m.Sender)
	r[offReceiver] = byte(m.Receiver)
	binary.LittleEndian.PutUint32(r[offTimestamp:], m.Timestamp)
	binary.LittleEndian.PutUint16(r[offLength:], uint16(len(payload)))
	r[offPriority] = m.Priority
	r[offRequiresAck] = boolByte(m.RequiresAck)
	r[offAcknowledged] = boolByte(m.Acknowledged)
	copy(r[offPayload:], payload)
	return nil
}

// seal stamps the message id and stores the checksum, LSB first.
func (r *record) seal(id uint32) uint32 {
	binary.LittleEndian.PutUint32(r[offID:], id)
	sum := r.sum()
	binary.LittleEndian.PutUint32(r[offChecksum:], sum)
	return sum
}

// decode reads the header even when the record fails validation so
// callers can report which message was dropped.
func (r *record) decode() (Message, error) {
	m := Message{
		ID:           binary.LittleEndian.Uint32(r[offID:]),
		Sender:       Module(r[offSender]),
		Receiver:     Module(r[offReceiver]),
		Timestamp:    binary.LittleEndian.Uint32(r[offTimestamp:]),
		Priority:     r[offPriority],
		RequiresAck:  r[offRequiresAck] != 0,
		Acknowledged: r[offAcknowledged] != 0,
		Checksum:     r.storedSum(),
	}
	if got := r.sum(); got != m.Checksum {
		return m, fmt.Errorf("message %d: stored %#08x computed %#08x: %w", m.ID, m.Checksum, got, errChecksum)
	}

	n := int(binary.LittleEndian.Uint16(r[offLength:]))
	if n > MaxPayload {
		return m, fmt.Errorf("message %d: payload length %d: %w", m.ID, n, errMalformed)
	}
	t := Type(binary.LittleEndian.Uint32(r[offType:]))
	p, err := decodePayload(t, r[offPayload:offPayload+n])
	if err != nil {
		return m, fmt.Errorf("message %d: %w", m.ID, err)
	}
	m.Payload = p
	return m, nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
