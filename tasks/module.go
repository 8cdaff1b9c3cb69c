// Package tasks holds the task bodies of the five hospital modules. Each
// body is dispatched repeatedly by the kernel, drains its mailbox and does
// one slice of module work.
package tasks

import (
	"errors"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"hospos/hal"
	"hospos/kernel"
	"hospos/kernel/ipc"
)

// Options are shared by all module tasks.
type Options struct {
	// Store keeps module state across runs. Nil disables saving.
	Store hal.Storage
	// CheckInEvery makes reception check in a walk-in patient every that
	// many ticks. Zero leaves check-ins to the keyboard.
	CheckInEvery uint32
}

// Specs returns the module tasks in load order.
func Specs(opts Options) []kernel.TaskSpec {
	return []kernel.TaskSpec{
		{Name: "DOCTOR", Module: ipc.ModuleDoctor, Body: NewDoctor(opts).Body},
		{Name: "MEDICATION", Module: ipc.ModuleMedication, Body: NewMedication(opts).Body},
		{Name: "CASHIER", Module: ipc.ModuleCashier, Body: NewCashier(opts).Body},
		{Name: "RECEPTION", Module: ipc.ModuleReception, Body: NewReception(opts).Body},
		{Name: "WAREHOUSE", Module: ipc.ModuleWarehouse, Body: NewWarehouse(opts).Body},
	}
}

// module is the part every module task shares: its mailbox routes, alert
// display and the save-and-exit sequence on shutdown.
type module struct {
	name    string
	store   hal.Storage
	state   any // pointer to the module's saved fields
	records func() uint32

	mux     *ipc.Mux
	started bool
	done    bool
}

// start runs once on the first dispatch.
func (m *module) start(c *kernel.Context, route func(*ipc.Mux)) {
	m.started = true
	m.mux = ipc.NewMux().
		RouteFunc(ipc.TypeAlert, func(msg ipc.Message) {
			a := msg.Payload.(ipc.Alert)
			c.Printf("[%s] ALERT from %s: %s\n", m.name, msg.Sender, a.Text)
		}).
		RouteFunc(ipc.TypeSystemShutdown, func(ipc.Message) { m.shutdown(c) })
	if route != nil {
		route(m.mux)
	}
	m.restore(c)
}

// drain dispatches the mailbox and reports whether the task goes on.
func (m *module) drain(c *kernel.Context) bool {
	c.Drain(m.mux)
	return !m.done
}

func (m *module) restore(c *kernel.Context) {
	if m.store == nil {
		return
	}
	data, err := m.store.Load(m.name)
	if errors.Is(err, hal.ErrNotFound) {
		return
	}
	if err != nil {
		c.Logger().Warn("load state", zap.Error(err))
		return
	}
	if err := yaml.Unmarshal(data, m.state); err != nil {
		c.Logger().Warn("decode state", zap.Error(err))
		return
	}
	c.Logger().Info("state restored", zap.Uint32("records", m.records()))
}

func (m *module) save(c *kernel.Context) error {
	if m.store == nil {
		return nil
	}
	data, err := yaml.Marshal(m.state)
	if err != nil {
		return err
	}
	return m.store.Save(m.name, data)
}

func (m *module) shutdown(c *kernel.Context) {
	if m.done {
		return
	}
	m.done = true
	if err := m.save(c); err != nil {
		c.Logger().Error("save state", zap.Error(err))
		c.Printf("%s: state NOT saved\n", m.name)
	} else {
		c.Printf("%s: state saved\n", m.name)
	}
	c.Send(ipc.ModuleKernel, ipc.DataSync{Table: m.name, Records: m.records()})
}
