package tasks

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"hospos/hal"
	"hospos/kernel"
	"hospos/kernel/ipc"
)

type keyMachine struct{ keys []byte }

func (m *keyMachine) AckInterrupt(kernel.IRQ) {}
func (m *keyMachine) CurrentTick() uint64     { return 0 }

func (m *keyMachine) ReadKeyboardByte() (byte, bool) {
	if len(m.keys) == 0 {
		return 0, false
	}
	b := m.keys[0]
	m.keys = m.keys[1:]
	return b, true
}

type screen struct{ strings.Builder }

func (s *screen) Print(str string) { s.WriteString(str) }

type hospital struct {
	k       *kernel.Kernel
	m       *keyMachine
	out     *screen
	doctor  *Doctor
	pharma  *Medication
	cashier *Cashier
	desk    *Reception
	store   *Warehouse
}

func boot(t *testing.T, opts Options) *hospital {
	t.Helper()
	h := &hospital{m: &keyMachine{}, out: &screen{}}
	k, err := kernel.New(kernel.Config{}, h.m, h.out, zaptest.NewLogger(t))
	require.NoError(t, err)
	h.k = k

	h.doctor = NewDoctor(opts)
	h.pharma = NewMedication(opts)
	h.cashier = NewCashier(opts)
	h.desk = NewReception(opts)
	h.store = NewWarehouse(opts)
	require.NoError(t, k.Boot(
		kernel.TaskSpec{Name: "DOCTOR", Module: ipc.ModuleDoctor, Body: h.doctor.Body},
		kernel.TaskSpec{Name: "MEDICATION", Module: ipc.ModuleMedication, Body: h.pharma.Body},
		kernel.TaskSpec{Name: "CASHIER", Module: ipc.ModuleCashier, Body: h.cashier.Body},
		kernel.TaskSpec{Name: "RECEPTION", Module: ipc.ModuleReception, Body: h.desk.Body},
		kernel.TaskSpec{Name: "WAREHOUSE", Module: ipc.ModuleWarehouse, Body: h.store.Body},
	))
	return h
}

// press queues keys and raises one keyboard interrupt per key.
func (h *hospital) press(keys string) {
	h.m.keys = append(h.m.keys, keys...)
	for range keys {
		h.k.Interrupt(kernel.IRQKeyboard)
	}
}

// run delivers n timer ticks, letting every runnable task go between them.
func (h *hospital) run(n int) {
	for i := 0; i < n; i++ {
		h.k.Interrupt(kernel.IRQTimer)
		for j := 0; j < 64 && h.k.Step(); j++ {
		}
	}
}

func TestSpecsLoadOrder(t *testing.T) {
	var names []string
	for _, s := range Specs(Options{}) {
		names = append(names, s.Name)
		assert.NotNil(t, s.Body)
		assert.Equal(t, s.Name, s.Module.String())
	}
	assert.Equal(t, []string{"DOCTOR", "MEDICATION", "CASHIER", "RECEPTION", "WAREHOUSE"}, names)
}

func TestPrescriptionFlow(t *testing.T) {
	h := boot(t, Options{})
	h.press("c")
	h.run(6)

	out := h.out.String()
	want := []string{
		kernel.Banner,
		"Reception: patient 100001 checked in, queue #1",
		"Doctor: patient 100001 seen, prescription 1 sent",
		"Pharmacy: prescription 1 for patient 100001 dispensed as #1",
		"Cashier: receipt 5001, dispense #1, $15.00",
		"Pharmacy: dispense #1 paid (txn 5001)",
		"Doctor: prescription 1 dispensed (#1)",
	}
	for _, w := range want {
		assert.Contains(t, out, w)
	}
	assert.Zero(t, h.doctor.Unacknowledged(), "pharmacy acknowledged the prescription")
	assert.Equal(t, uint64(1500), h.cashier.TotalCents())

	used, _ := h.k.Mem().Usage()
	st := h.k.Status()
	assert.Equal(t, len(st.Tasks), st.Blocks-1, "receipt buffer released; one free block remains")
	assert.NotZero(t, used)
	assert.Zero(t, st.Errors)
}

func TestPharmacyRestocksFromWarehouse(t *testing.T) {
	h := boot(t, Options{})
	h.press(strings.Repeat("c", initialStock))
	h.run(initialStock + 8)

	out := h.out.String()
	assert.Contains(t, out, "Warehouse: issued 20 x MEDSTOCK to PHARMACY")
	assert.Contains(t, out, "Pharmacy: restocked 20 units")
	assert.Equal(t, uint16(30), h.store.Stock(stockCode))
	assert.Contains(t, out, "Cashier: receipt 5010,")
}

func TestWarehouseRunsOut(t *testing.T) {
	h := boot(t, Options{})
	h.press("eeeee")
	h.run(4)

	out := h.out.String()
	assert.Equal(t, 4, strings.Count(out, "Reception: 1 x WHEELCHAIR available"))
	assert.Contains(t, out, "Warehouse: WHEELCHAIR requested by RECEPTION is out of stock")
	assert.Contains(t, out, "Reception: 0 x WHEELCHAIR available")
	assert.Zero(t, h.store.Stock("WHEELCHAIR"))
}

func TestAlertShownByEveryModule(t *testing.T) {
	h := boot(t, Options{})
	h.press("a")
	h.run(3)

	out := h.out.String()
	for _, name := range []string{"DOCTOR", "MEDICATION", "CASHIER", "WAREHOUSE"} {
		assert.Contains(t, out, "["+name+"] ALERT from RECEPTION: Code blue at reception")
	}
	assert.NotContains(t, out, "[RECEPTION] ALERT")
	// Nobody drains the kernel inbox in this rig.
	assert.Equal(t, 1, h.k.Bus().Len(ipc.ModuleKernel))
}

func TestAppointment(t *testing.T) {
	h := boot(t, Options{})
	h.press("p")
	h.run(3)
	assert.Contains(t, h.out.String(), "Doctor: appointment 1 with patient 100001")
}

func TestAutomaticCheckIn(t *testing.T) {
	h := boot(t, Options{CheckInEvery: 5})
	h.run(12)
	out := h.out.String()
	assert.Contains(t, out, "patient 100001 checked in")
	assert.Contains(t, out, "patient 100002 checked in")
	assert.NotContains(t, out, "patient 100003 checked in")
}

func TestShutdownSavesAndRestores(t *testing.T) {
	db, err := hal.OpenStorage(hal.MemoryStorage)
	require.NoError(t, err)
	defer db.Close()

	h := boot(t, Options{Store: db})
	h.press("c")
	h.run(5)
	h.press("q")
	h.run(4)

	assert.True(t, h.k.ShuttingDown())
	require.Len(t, h.k.Sched().Tasks(), 1, "only idle is left")
	names, err := db.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"CASHIER", "DOCTOR", "MEDICATION", "RECEPTION", "WAREHOUSE"}, names)
	assert.Equal(t, 5, h.k.Bus().Len(ipc.ModuleKernel), "one data sync per module")
	assert.Contains(t, h.out.String(), "RECEPTION: state saved")

	// A second boot picks up where the first left off.
	h2 := boot(t, Options{Store: db})
	h2.press("c")
	h2.run(5)
	out := h2.out.String()
	assert.Contains(t, out, "patient 100002 checked in, queue #2")
	assert.Contains(t, out, "Cashier: receipt 5002,")
	assert.Equal(t, uint64(1500+1750), h2.cashier.TotalCents())
}
