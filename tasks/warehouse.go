package tasks

import (
	"hospos/kernel"
	"hospos/kernel/ipc"
)

// restockBatch is the most the warehouse issues of one code per request.
const restockBatch = 20

// Warehouse answers equipment requests from its inventory.
type Warehouse struct {
	module

	st struct {
		Inventory map[string]uint16 `yaml:"inventory"`
		Issued    uint32            `yaml:"issued"`
		Synced    uint32            `yaml:"synced"`
	}
}

func NewWarehouse(opts Options) *Warehouse {
	w := &Warehouse{}
	w.st.Inventory = map[string]uint16{
		stockCode:    50,
		"WHEELCHAIR": 4,
		"SYRINGE":    200,
	}
	w.module = module{
		name:    "WAREHOUSE",
		store:   opts.Store,
		state:   &w.st,
		records: func() uint32 { return uint32(len(w.st.Inventory)) },
	}
	return w
}

func (w *Warehouse) Body(c *kernel.Context) bool {
	if !w.started {
		w.start(c, func(x *ipc.Mux) {
			x.RouteFunc(ipc.TypeEquipmentRequest, func(m ipc.Message) { w.issue(c, m) })
			x.RouteFunc(ipc.TypeDataSync, func(m ipc.Message) {
				d := m.Payload.(ipc.DataSync)
				w.st.Synced += d.Records
				c.Printf("Warehouse: %d %s records synced from %s\n", d.Records, d.Table, m.Sender)
			})
		})
	}
	if !w.drain(c) {
		return false
	}
	c.Sleep()
	return true
}

func (w *Warehouse) issue(c *kernel.Context, m ipc.Message) {
	req := m.Payload.(ipc.EquipmentRequest)
	have := w.st.Inventory[req.Code]

	n := uint16(1)
	if req.Code == stockCode {
		n = restockBatch
	}
	if n > have {
		n = have
	}
	if _, res := c.Send(m.Sender, ipc.EquipmentAvailable{Code: req.Code, Quantity: n}); res != ipc.SendOK {
		return
	}
	if n == 0 {
		c.Printf("Warehouse: %s requested by %s is out of stock\n", req.Code, req.Department)
		return
	}
	w.st.Inventory[req.Code] = have - n
	w.st.Issued += uint32(n)
	c.Printf("Warehouse: issued %d x %s to %s\n", n, req.Code, req.Department)
}

// Stock returns the units of code on hand.
func (w *Warehouse) Stock(code string) uint16 { return w.st.Inventory[code] }
