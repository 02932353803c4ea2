//go:build linux || darwin

package serial

import (
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sys/unix"
)

// Config holds serial port configuration.
type Config struct {
	// Device path (e.g., /dev/ttyUSB0, /dev/ttyACM0)
	Device string

	// Baud rate (default: 115200)
	BaudRate int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{BaudRate: 115200}
}

// Port is an open serial device. It satisfies io.ReadWriteCloser; framing
// is layered on top by Framer.
type Port struct {
	fd     int
	device string
	closed bool
}

// Open opens and configures a serial port in raw 8N1 mode.
func Open(cfg Config) (*Port, error) {
	if cfg.Device == "" {
		return nil, errors.New("serial: device path required")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	speed, ok := baudConstant(cfg.BaudRate)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupported, cfg.BaudRate)
	}

	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}

	termios, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: get termios: %w", err)
	}

	// Raw mode: no input/output processing, no echo, no signals.
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN

	// 8N1, receiver on, modem control lines ignored.
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	// Block until at least one byte is available.
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	setSpeed(termios, speed)

	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, termios); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: set termios: %w", err)
	}
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: clear nonblock: %w", err)
	}

	// Let the remote settle after DTR toggling on open.
	time.Sleep(100 * time.Millisecond)

	return &Port{fd: fd, device: cfg.Device}, nil
}

// Device returns the device path.
func (p *Port) Device() string {
	return p.device
}

// Read implements io.Reader.
func (p *Port) Read(buf []byte) (int, error) {
	if p.closed {
		return 0, ErrClosed
	}
	n, err := unix.Read(p.fd, buf)
	if n < 0 {
		n = 0
	}
	if err == nil && n == 0 {
		return 0, io.EOF
	}
	return n, err
}

// Write implements io.Writer.
func (p *Port) Write(buf []byte) (int, error) {
	if p.closed {
		return 0, ErrClosed
	}
	written := 0
	for written < len(buf) {
		n, err := unix.Write(p.fd, buf[written:])
		if n > 0 {
			written += n
		}
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// Close releases the port.
func (p *Port) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return unix.Close(p.fd)
}

// baudConstant maps a numeric baud rate to its termios constant.
func baudConstant(rate int) (uint32, bool) {
	switch rate {
	case 9600:
		return unix.B9600, true
	case 19200:
		return unix.B19200, true
	case 38400:
		return unix.B38400, true
	case 57600:
		return unix.B57600, true
	case 115200:
		return unix.B115200, true
	case 230400:
		return unix.B230400, true
	default:
		return 0, false
	}
}
