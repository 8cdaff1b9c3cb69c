//go:build linux

package hal

import "golang.org/x/sys/unix"

// MakeRaw turns off line editing and echo on the terminal at fd so each
// key reaches the keyboard controller as typed. Signals stay enabled.
// The returned func restores the previous settings.
func MakeRaw(fd int) (restore func() error, err error) {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, err
	}
	saved := *termios
	state := *termios

	state.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.INLCR | unix.ICRNL
	state.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.IEXTEN
	state.Cflag &^= unix.CSIZE | unix.PARENB
	state.Cflag |= unix.CS8

	// Block for at least one byte.
	state.Cc[unix.VMIN] = 1
	state.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &state); err != nil {
		return nil, err
	}
	return func() error {
		return unix.IoctlSetTermios(fd, unix.TCSETS, &saved)
	}, nil
}
