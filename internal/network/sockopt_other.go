//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !windows

package network

func setReuseAddr(fd uintptr) error {
	return nil
}
