package wsclient

import (
	"io"

	"golang.org/x/sys/unix"

	"github.com/coregx/wsreactor/wsconn"
)

// fdIO adapts a raw non-blocking file descriptor to wsconn.Reader and
// wsconn.Writer, the same translation wsserver's fdIO performs — kept
// as a separate copy since the two packages share no common transport
// type to factor it into.
type fdIO struct{ fd int }

func (f fdIO) Read(p []byte) (int, error) {
	n, err := unix.Read(f.fd, p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, wsconn.ErrWouldBlock
		}
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (f fdIO) Write(p []byte) (int, error) {
	n, err := unix.Write(f.fd, p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, wsconn.ErrWouldBlock
		}
		return 0, err
	}
	return n, nil
}

func setNonblocking(fd int) error {
	return unix.SetNonblock(fd, true)
}
