package tasks

import (
	"hospos/kernel"
	"hospos/kernel/ipc"
)

const (
	firstPatientID  = 100001
	keysPerDispatch = 16
)

// Reception checks patients in and hands them to the doctor. It is the
// only module that reads the keyboard.
type Reception struct {
	module
	every uint32
	next  uint32

	st struct {
		NextPatient   uint32 `yaml:"next_patient"`
		QueueNumber   uint16 `yaml:"queue_number"`
		CheckedIn     uint32 `yaml:"checked_in"`
		NextAppt      uint32 `yaml:"next_appointment"`
		Appointments  uint32 `yaml:"appointments"`
		EquipmentAsks uint32 `yaml:"equipment_requests"`
	}
}

func NewReception(opts Options) *Reception {
	r := &Reception{every: opts.CheckInEvery}
	r.st.NextPatient = firstPatientID
	r.st.NextAppt = 1
	r.module = module{
		name:    "RECEPTION",
		store:   opts.Store,
		state:   &r.st,
		records: func() uint32 { return r.st.CheckedIn },
	}
	return r
}

func (r *Reception) Body(c *kernel.Context) bool {
	if !r.started {
		r.start(c, func(x *ipc.Mux) {
			x.RouteFunc(ipc.TypeEquipmentAvailable, func(m ipc.Message) {
				e := m.Payload.(ipc.EquipmentAvailable)
				c.Printf("Reception: %d x %s available\n", e.Quantity, e.Code)
			})
		})
		c.Print("Reception ready: c=check in, p=appointment, e=wheelchair, a=alert, q=shut down\n")
		r.next = c.Now() + r.every
	}
	if !r.drain(c) {
		return false
	}

	for i := 0; i < keysPerDispatch; i++ {
		b, ok := c.ReadKey()
		if !ok {
			break
		}
		r.command(c, b)
	}

	if r.every > 0 && c.Now() >= r.next {
		r.next = c.Now() + r.every
		r.checkIn(c)
	}
	c.Sleep()
	return true
}

func (r *Reception) command(c *kernel.Context, b byte) {
	switch b {
	case 'c', 'C':
		r.checkIn(c)
	case 'p', 'P':
		r.schedule(c)
	case 'e', 'E':
		if _, res := c.Send(ipc.ModuleWarehouse, ipc.EquipmentRequest{Code: "WHEELCHAIR", Department: "RECEPTION"}); res == ipc.SendOK {
			r.st.EquipmentAsks++
		}
	case 'a', 'A':
		c.Broadcast(ipc.Alert{Text: "Code blue at reception"})
		c.Print("Reception: alert sent\n")
	case 'q', 'Q':
		c.Print("Reception: shutting down\n")
		c.Shutdown()
	}
}

func (r *Reception) checkIn(c *kernel.Context) {
	r.st.QueueNumber++
	p := ipc.PatientCheckedIn{PatientID: r.st.NextPatient, QueueNumber: r.st.QueueNumber}
	if _, res := c.Send(ipc.ModuleDoctor, p); res != ipc.SendOK {
		r.st.QueueNumber--
		c.Printf("Reception: doctor unavailable (%s)\n", res)
		return
	}
	r.st.NextPatient++
	r.st.CheckedIn++
	c.Printf("Reception: patient %d checked in, queue #%d\n", p.PatientID, p.QueueNumber)
}

func (r *Reception) schedule(c *kernel.Context) {
	a := ipc.AppointmentScheduled{
		AppointmentID: r.st.NextAppt,
		PatientID:     r.st.NextPatient,
		Date:          c.Now(),
	}
	if _, res := c.Send(ipc.ModuleDoctor, a); res != ipc.SendOK {
		return
	}
	r.st.NextAppt++
	r.st.Appointments++
	c.Printf("Reception: appointment %d booked for patient %d\n", a.AppointmentID, a.PatientID)
}
