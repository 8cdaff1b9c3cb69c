package tasks

import (
	"go.uber.org/zap"

	"hospos/kernel"
	"hospos/kernel/ipc"
)

// Doctor sees checked-in patients in queue order and sends a prescription
// for each to the pharmacy, asking for acknowledgment.
type Doctor struct {
	module
	// message id -> prescription awaiting acknowledgment
	unacked map[uint32]uint32

	st struct {
		Waiting      []uint32 `yaml:"waiting"`
		NextRx       uint32   `yaml:"next_prescription"`
		Prescribed   uint32   `yaml:"prescribed"`
		Dispensed    uint32   `yaml:"dispensed"`
		Acked        uint32   `yaml:"acknowledged"`
		Appointments uint32   `yaml:"appointments"`
	}
}

func NewDoctor(opts Options) *Doctor {
	d := &Doctor{unacked: make(map[uint32]uint32)}
	d.st.NextRx = 1
	d.module = module{
		name:    "DOCTOR",
		store:   opts.Store,
		state:   &d.st,
		records: func() uint32 { return d.st.Prescribed },
	}
	return d
}

func (d *Doctor) Body(c *kernel.Context) bool {
	if !d.started {
		d.start(c, func(x *ipc.Mux) {
			x.RouteFunc(ipc.TypePatientCheckedIn, func(m ipc.Message) {
				p := m.Payload.(ipc.PatientCheckedIn)
				d.st.Waiting = append(d.st.Waiting, p.PatientID)
			})
			x.RouteFunc(ipc.TypeAppointmentScheduled, func(m ipc.Message) {
				a := m.Payload.(ipc.AppointmentScheduled)
				d.st.Appointments++
				c.Printf("Doctor: appointment %d with patient %d\n", a.AppointmentID, a.PatientID)
			})
			x.RouteFunc(ipc.TypeNone, func(m ipc.Message) {
				ack, ok := m.Payload.(ipc.Ack)
				if !ok {
					return
				}
				if _, ok := d.unacked[ack.MessageID]; ok {
					delete(d.unacked, ack.MessageID)
					d.st.Acked++
				}
			})
			x.RouteFunc(ipc.TypePrescriptionProcessed, func(m ipc.Message) {
				p := m.Payload.(ipc.PrescriptionProcessed)
				d.st.Dispensed++
				c.Printf("Doctor: prescription %d dispensed (#%d)\n", p.PrescriptionID, p.DispenseID)
			})
		})
	}
	if !d.drain(c) {
		return false
	}

	// One consultation per dispatch.
	if len(d.st.Waiting) > 0 {
		d.consult(c, d.st.Waiting[0])
	}
	c.Sleep()
	return true
}

func (d *Doctor) consult(c *kernel.Context, patient uint32) {
	rx := ipc.NewPrescription{PrescriptionID: d.st.NextRx, PatientID: patient}
	id, res := c.Request(ipc.ModuleMedication, rx)
	if res != ipc.SendOK {
		// Patient stays first in line.
		return
	}
	d.st.Waiting = d.st.Waiting[1:]
	d.st.NextRx++
	d.st.Prescribed++
	d.unacked[id] = rx.PrescriptionID
	c.Logger().Debug("prescription sent", zap.Uint32("rx", rx.PrescriptionID), zap.Uint32("msg", id))
	c.Printf("Doctor: patient %d seen, prescription %d sent\n", patient, rx.PrescriptionID)
}

// Unacknowledged returns the number of prescriptions the pharmacy has not
// acknowledged yet.
func (d *Doctor) Unacknowledged() int { return len(d.unacked) }
