//go:build !cgo

package hal

// No window input without cgo.
func (c *controller) poll() {}
