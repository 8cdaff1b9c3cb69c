package tasks

import (
	"hospos/kernel"
	"hospos/kernel/ipc"
)

const (
	initialStock = 10
	lowStock     = 3
	stockCode    = "MEDSTOCK"
	basePrice    = 1250 // cents
)

// Medication dispenses prescriptions, bills them through the cashier and
// restocks from the warehouse when running low.
type Medication struct {
	module
	restocking bool

	st struct {
		Stock        uint32            `yaml:"stock"`
		NextDispense uint32            `yaml:"next_dispense"`
		Dispensed    uint32            `yaml:"dispensed"`
		Paid         uint32            `yaml:"paid"`
		Backlog      []backlogEntry    `yaml:"backlog"`
		Unpaid       map[uint32]uint32 `yaml:"unpaid"` // dispense -> cents
	}
}

type backlogEntry struct {
	Prescription uint32 `yaml:"prescription"`
	Patient      uint32 `yaml:"patient"`
}

func NewMedication(opts Options) *Medication {
	md := &Medication{}
	md.st.Stock = initialStock
	md.st.NextDispense = 1
	md.st.Unpaid = make(map[uint32]uint32)
	md.module = module{
		name:    "MEDICATION",
		store:   opts.Store,
		state:   &md.st,
		records: func() uint32 { return md.st.Dispensed },
	}
	return md
}

func (md *Medication) Body(c *kernel.Context) bool {
	if !md.started {
		md.start(c, func(x *ipc.Mux) {
			x.RouteFunc(ipc.TypeNewPrescription, func(m ipc.Message) {
				rx := m.Payload.(ipc.NewPrescription)
				md.st.Backlog = append(md.st.Backlog, backlogEntry{rx.PrescriptionID, rx.PatientID})
			})
			x.RouteFunc(ipc.TypePaymentComplete, func(m ipc.Message) {
				p := m.Payload.(ipc.PaymentComplete)
				if _, ok := md.st.Unpaid[p.DispenseID]; !ok {
					return
				}
				delete(md.st.Unpaid, p.DispenseID)
				md.st.Paid++
				c.Printf("Pharmacy: dispense #%d paid (txn %d)\n", p.DispenseID, p.TransactionID)
			})
			x.RouteFunc(ipc.TypeEquipmentAvailable, func(m ipc.Message) {
				e := m.Payload.(ipc.EquipmentAvailable)
				if e.Code != stockCode {
					return
				}
				if e.Quantity == 0 {
					// Stay marked as restocking so the warehouse is not asked again.
					c.Print("Pharmacy: warehouse has no stock\n")
					return
				}
				md.restocking = false
				md.st.Stock += uint32(e.Quantity)
				c.Printf("Pharmacy: restocked %d units, %d on hand\n", e.Quantity, md.st.Stock)
			})
		})
		if md.st.Unpaid == nil {
			md.st.Unpaid = make(map[uint32]uint32)
		}
	}
	if !md.drain(c) {
		return false
	}

	for len(md.st.Backlog) > 0 && md.st.Stock > 0 {
		if !md.dispense(c, md.st.Backlog[0]) {
			break
		}
		md.st.Backlog = md.st.Backlog[1:]
	}
	if md.st.Stock <= lowStock && !md.restocking {
		_, res := c.Send(ipc.ModuleWarehouse, ipc.EquipmentRequest{Code: stockCode, Department: "PHARMACY"})
		md.restocking = res == ipc.SendOK
	}
	c.Sleep()
	return true
}

func (md *Medication) dispense(c *kernel.Context, e backlogEntry) bool {
	id := md.st.NextDispense
	amount := basePrice + (e.Prescription%5)*250
	if _, res := c.Send(ipc.ModuleCashier, ipc.PaymentRequest{DispenseID: id, AmountCents: amount}); res != ipc.SendOK {
		return false
	}
	c.Send(ipc.ModuleDoctor, ipc.PrescriptionProcessed{PrescriptionID: e.Prescription, DispenseID: id})

	md.st.NextDispense++
	md.st.Stock--
	md.st.Dispensed++
	md.st.Unpaid[id] = amount
	c.Printf("Pharmacy: prescription %d for patient %d dispensed as #%d\n", e.Prescription, e.Patient, id)
	return true
}
