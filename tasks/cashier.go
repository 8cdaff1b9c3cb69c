package tasks

import (
	"fmt"

	"go.uber.org/zap"

	"hospos/kernel"
	"hospos/kernel/ipc"
)

// Cashier settles payment requests from the pharmacy. Each receipt is
// composed in a kernel buffer before it is printed.
type Cashier struct {
	module

	st struct {
		NextTransaction uint32 `yaml:"next_transaction"`
		Transactions    uint32 `yaml:"transactions"`
		TotalCents      uint64 `yaml:"total_cents"`
	}
}

func NewCashier(opts Options) *Cashier {
	cs := &Cashier{}
	cs.st.NextTransaction = 5001
	cs.module = module{
		name:    "CASHIER",
		store:   opts.Store,
		state:   &cs.st,
		records: func() uint32 { return cs.st.Transactions },
	}
	return cs
}

func (cs *Cashier) Body(c *kernel.Context) bool {
	if !cs.started {
		cs.start(c, func(x *ipc.Mux) {
			x.RouteFunc(ipc.TypePaymentRequest, func(m ipc.Message) { cs.settle(c, m) })
		})
	}
	if !cs.drain(c) {
		return false
	}
	c.Sleep()
	return true
}

func (cs *Cashier) settle(c *kernel.Context, m ipc.Message) {
	req := m.Payload.(ipc.PaymentRequest)
	txn := cs.st.NextTransaction

	if _, res := c.Send(m.Sender, ipc.PaymentComplete{DispenseID: req.DispenseID, TransactionID: txn}); res != ipc.SendOK {
		return
	}
	cs.st.NextTransaction++
	cs.st.Transactions++
	cs.st.TotalCents += uint64(req.AmountCents)

	receipt := fmt.Sprintf("Cashier: receipt %d, dispense #%d, $%d.%02d\n",
		txn, req.DispenseID, req.AmountCents/100, req.AmountCents%100)
	if err := cs.printReceipt(c, receipt); err != nil {
		c.Logger().Warn("receipt", zap.Uint32("txn", txn), zap.Error(err))
	}
}

func (cs *Cashier) printReceipt(c *kernel.Context, s string) error {
	addr, err := c.Alloc(uint32(len(s)), "RECEIPT")
	if err != nil {
		return err
	}
	defer c.Free(addr)

	if err := c.Poke(addr, []byte(s)); err != nil {
		return err
	}
	buf, err := c.PeekMem(addr, len(s))
	if err != nil {
		return err
	}
	return c.Print(string(buf))
}

// TotalCents is the sum of all settled payments.
func (cs *Cashier) TotalCents() uint64 { return cs.st.TotalCents }
