package ipc

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Type identifies the payload carried by a message.
type Type uint32

const (
	// TypeNone is reserved for acknowledgments.
	TypeNone Type = iota
	TypeNewPrescription
	TypePrescriptionProcessed
	TypePaymentRequest
	TypePaymentComplete
	TypeAppointmentScheduled
	TypePatientCheckedIn
	TypeEquipmentRequest
	TypeEquipmentAvailable
	TypeAlert
	TypeDataSync
	TypeSystemShutdown
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeNewPrescription:
		return "new_prescription"
	case TypePrescriptionProcessed:
		return "prescription_processed"
	case TypePaymentRequest:
		return "payment_request"
	case TypePaymentComplete:
		return "payment_complete"
	case TypeAppointmentScheduled:
		return "appointment_scheduled"
	case TypePatientCheckedIn:
		return "patient_checked_in"
	case TypeEquipmentRequest:
		return "equipment_request"
	case TypeEquipmentAvailable:
		return "equipment_available"
	case TypeAlert:
		return "alert"
	case TypeDataSync:
		return "data_sync"
	case TypeSystemShutdown:
		return "system_shutdown"
	default:
		return "unknown"
	}
}

// Message is one envelope on the bus. ID and Checksum are assigned by Send.
type Message struct {
	ID           uint32
	Sender       Module
	Receiver     Module
	Timestamp    uint32
	Priority     uint8
	RequiresAck  bool
	Acknowledged bool
	Checksum     uint32
	Payload      Payload
}

// Type returns the payload's message type.
func (m Message) Type() Type {
	if m.Payload == nil {
		return TypeNone
	}
	return m.Payload.Type()
}

// Payload is the typed body of a message. The set of payloads is closed.
type Payload interface {
	Type() Type
	appendTo(b []byte) ([]byte, error)
}

// Ack acknowledges the message with the given id.
type Ack struct {
	MessageID uint32
}

type NewPrescription struct {
	PrescriptionID uint32
	PatientID      uint32
}

type PrescriptionProcessed struct {
	PrescriptionID uint32
	DispenseID     uint32
}

type PaymentRequest struct {
	DispenseID  uint32
	AmountCents uint32
}

type PaymentComplete struct {
	DispenseID    uint32
	TransactionID uint32
}

type AppointmentScheduled struct {
	AppointmentID uint32
	PatientID     uint32
	Date          uint32
}

type PatientCheckedIn struct {
	PatientID   uint32
	QueueNumber uint16
}

type EquipmentRequest struct {
	Code       string
	Department string
}

type EquipmentAvailable struct {
	Code     string
	Quantity uint16
}

// Alert is shown by every module that receives it.
type Alert struct {
	Text string
}

// DataSync reports how many records a module holds.
type DataSync struct {
	Table   string
	Records uint32
}

// SystemShutdown asks the receiver to save its state and exit.
type SystemShutdown struct{}

const (
	equipmentCodeLen = 16
	departmentLen    = 32
	tableLen         = 16
)

func (Ack) Type() Type                   { return TypeNone }
func (NewPrescription) Type() Type       { return TypeNewPrescription }
func (PrescriptionProcessed) Type() Type { return TypePrescriptionProcessed }
func (PaymentRequest) Type() Type        { return TypePaymentRequest }
func (PaymentComplete) Type() Type       { return TypePaymentComplete }
func (AppointmentScheduled) Type() Type  { return TypeAppointmentScheduled }
func (PatientCheckedIn) Type() Type      { return TypePatientCheckedIn }
func (EquipmentRequest) Type() Type      { return TypeEquipmentRequest }
func (EquipmentAvailable) Type() Type    { return TypeEquipmentAvailable }
func (Alert) Type() Type                 { return TypeAlert }
func (DataSync) Type() Type              { return TypeDataSync }
func (SystemShutdown) Type() Type        { return TypeSystemShutdown }

var le = binary.LittleEndian

func (p Ack) appendTo(b []byte) ([]byte, error) {
	return le.AppendUint32(b, p.MessageID), nil
}

func (p NewPrescription) appendTo(b []byte) ([]byte, error) {
	b = le.AppendUint32(b, p.PrescriptionID)
	return le.AppendUint32(b, p.PatientID), nil
}

func (p PrescriptionProcessed) appendTo(b []byte) ([]byte, error) {
	b = le.AppendUint32(b, p.PrescriptionID)
	return le.AppendUint32(b, p.DispenseID), nil
}

func (p PaymentRequest) appendTo(b []byte) ([]byte, error) {
	b = le.AppendUint32(b, p.DispenseID)
	return le.AppendUint32(b, p.AmountCents), nil
}

func (p PaymentComplete) appendTo(b []byte) ([]byte, error) {
	b = le.AppendUint32(b, p.DispenseID)
	return le.AppendUint32(b, p.TransactionID), nil
}

func (p AppointmentScheduled) appendTo(b []byte) ([]byte, error) {
	b = le.AppendUint32(b, p.AppointmentID)
	b = le.AppendUint32(b, p.PatientID)
	return le.AppendUint32(b, p.Date), nil
}

func (p PatientCheckedIn) appendTo(b []byte) ([]byte, error) {
	b = le.AppendUint32(b, p.PatientID)
	return le.AppendUint16(b, p.QueueNumber), nil
}

func (p EquipmentRequest) appendTo(b []byte) ([]byte, error) {
	b, err := appendFixed(b, p.Code, equipmentCodeLen)
	if err != nil {
		return nil, fmt.Errorf("equipment code: %w", err)
	}
	b, err = appendFixed(b, p.Department, departmentLen)
	if err != nil {
		return nil, fmt.Errorf("department: %w", err)
	}
	return b, nil
}

func (p EquipmentAvailable) appendTo(b []byte) ([]byte, error) {
	b, err := appendFixed(b, p.Code, equipmentCodeLen)
	if err != nil {
		return nil, fmt.Errorf("equipment code: %w", err)
	}
	return le.AppendUint16(b, p.Quantity), nil
}

func (p Alert) appendTo(b []byte) ([]byte, error) {
	if len(p.Text) >= MaxPayload {
		return nil, fmt.Errorf("alert text %d bytes: %w", len(p.Text), errTooLarge)
	}
	b = append(b, p.Text...)
	return append(b, 0), nil
}

func (p DataSync) appendTo(b []byte) ([]byte, error) {
	b, err := appendFixed(b, p.Table, tableLen)
	if err != nil {
		return nil, fmt.Errorf("table: %w", err)
	}
	return le.AppendUint32(b, p.Records), nil
}

func (SystemShutdown) appendTo(b []byte) ([]byte, error) { return b, nil }

// appendFixed writes s NUL-padded to n bytes; one byte is kept for the
// terminator.
func appendFixed(b []byte, s string, n int) ([]byte, error) {
	if len(s) >= n {
		return nil, fmt.Errorf("%q exceeds %d bytes: %w", s, n-1, errTooLarge)
	}
	b = append(b, s...)
	return append(b, make([]byte, n-len(s))...), nil
}

func fixedString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func decodePayload(t Type, b []byte) (Payload, error) {
	short := func(want int) error {
		return fmt.Errorf("%s payload %d bytes, want %d: %w", t, len(b), want, errMalformed)
	}
	switch t {
	case TypeNone:
		if len(b) == 0 {
			return nil, nil
		}
		if len(b) < 4 {
			return nil, short(4)
		}
		return Ack{MessageID: le.Uint32(b)}, nil
	case TypeNewPrescription:
		if len(b) < 8 {
			return nil, short(8)
		}
		return NewPrescription{PrescriptionID: le.Uint32(b), PatientID: le.Uint32(b[4:])}, nil
	case TypePrescriptionProcessed:
		if len(b) < 8 {
			return nil, short(8)
		}
		return PrescriptionProcessed{PrescriptionID: le.Uint32(b), DispenseID: le.Uint32(b[4:])}, nil
	case TypePaymentRequest:
		if len(b) < 8 {
			return nil, short(8)
		}
		return PaymentRequest{DispenseID: le.Uint32(b), AmountCents: le.Uint32(b[4:])}, nil
	case TypePaymentComplete:
		if len(b) < 8 {
			return nil, short(8)
		}
		return PaymentComplete{DispenseID: le.Uint32(b), TransactionID: le.Uint32(b[4:])}, nil
	case TypeAppointmentScheduled:
		if len(b) < 12 {
			return nil, short(12)
		}
		return AppointmentScheduled{AppointmentID: le.Uint32(b), PatientID: le.Uint32(b[4:]), Date: le.Uint32(b[8:])}, nil
	case TypePatientCheckedIn:
		if len(b) < 6 {
			return nil, short(6)
		}
		return PatientCheckedIn{PatientID: le.Uint32(b), QueueNumber: le.Uint16(b[4:])}, nil
	case TypeEquipmentRequest:
		if len(b) < equipmentCodeLen+departmentLen {
			return nil, short(equipmentCodeLen + departmentLen)
		}
		return EquipmentRequest{
			Code:       fixedString(b[:equipmentCodeLen]),
			Department: fixedString(b[equipmentCodeLen : equipmentCodeLen+departmentLen]),
		}, nil
	case TypeEquipmentAvailable:
		if len(b) < equipmentCodeLen+2 {
			return nil, short(equipmentCodeLen + 2)
		}
		return EquipmentAvailable{Code: fixedString(b[:equipmentCodeLen]), Quantity: le.Uint16(b[equipmentCodeLen:])}, nil
	case TypeAlert:
		return Alert{Text: fixedString(b)}, nil
	case TypeDataSync:
		if len(b) < tableLen+4 {
			return nil, short(tableLen + 4)
		}
		return DataSync{Table: fixedString(b[:tableLen]), Records: le.Uint32(b[tableLen:])}, nil
	case TypeSystemShutdown:
		return SystemShutdown{}, nil
	default:
		return nil, fmt.Errorf("type %d: %w", uint32(t), errMalformed)
	}
}
