//go:build !linux

package hal

func MakeRaw(int) (func() error, error) {
	return nil, ErrNotImplemented
}
