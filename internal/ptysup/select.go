//go:build darwin || linux
// +build darwin linux

package ptysup

import (
	"syscall"
	"unsafe"
)

// selectRead is implemented per platform in select_linux.go and
// select_darwin.go: the two kernels' syscall.Select disagree on return
// shape, but both keep fd as bit fd%w of word fd/w of FdSet.Bits, where w
// is the word width of the platform's FdSet.

const nfdbits = int(unsafe.Sizeof(syscall.FdSet{}.Bits[0]) * 8)

func fdSetAdd(set *syscall.FdSet, fd int) {
	set.Bits[fd/nfdbits] |= 1 << uint(fd%nfdbits)
}

func fdIsSet(set *syscall.FdSet, fd int) bool {
	return set.Bits[fd/nfdbits]&(1<<uint(fd%nfdbits)) != 0
}
