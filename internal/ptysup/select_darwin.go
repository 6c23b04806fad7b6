//go:build darwin
// +build darwin

package ptysup

import (
	"fmt"
	"syscall"
	"time"
)

// selectRead waits up to timeout for any of fds to become readable.
// Darwin's syscall.Select returns only an error, unlike Linux's (n, err).
func selectRead(fds []int, timeout time.Duration) ([]int, error) {
	if len(fds) == 0 {
		return nil, fmt.Errorf("ptysup: no file descriptors to select on")
	}

	maxFd := 0
	for _, fd := range fds {
		if fd > maxFd {
			maxFd = fd
		}
	}

	var readSet syscall.FdSet
	for _, fd := range fds {
		fdSetAdd(&readSet, fd)
	}

	tv := syscall.NsecToTimeval(timeout.Nanoseconds())

	err := syscall.Select(maxFd+1, &readSet, nil, nil, &tv)
	if err != nil {
		if err == syscall.EINTR || err == syscall.EAGAIN {
			return nil, nil
		}
		return nil, err
	}

	var ready []int
	for _, fd := range fds {
		if fdIsSet(&readSet, fd) {
			ready = append(ready, fd)
		}
	}
	return ready, nil
}
