//go:build linux

package mpsync

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// futex(2) operations, see linux/futex.h.
const (
	futexWait        = 0
	futexWake        = 1
	futexPrivateFlag = 128
)

type futex struct{}

// Futex returns the kernel futex service. Waits and wakes are process
// private (FUTEX_PRIVATE_FLAG).
func Futex() WaitWaker {
	return futex{}
}

func (futex) Wait(addr *uint32, expected uint32) error {
	if addr == nil {
		return &WaitError{Op: "wait", Err: ErrNilAddress}
	}
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWait|futexPrivateFlag,
		uintptr(expected),
		0, // no timeout
		0,
		0,
	)
	switch errno {
	case 0, unix.EAGAIN, unix.EINTR:
		return nil
	default:
		return &WaitError{Op: "wait", Addr: uintptr(unsafe.Pointer(addr)), Err: errno}
	}
}

func (futex) Wake(addr *uint32, n int) (int, error) {
	if addr == nil {
		return 0, &WaitError{Op: "wake", Err: ErrNilAddress}
	}
	r, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWake|futexPrivateFlag,
		uintptr(n),
		0,
		0,
		0,
	)
	if errno != 0 {
		return 0, &WaitError{Op: "wake", Addr: uintptr(unsafe.Pointer(addr)), Err: errno}
	}
	return int(r), nil
}
