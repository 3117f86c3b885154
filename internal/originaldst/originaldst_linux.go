//go:build linux

package originaldst

import (
	"encoding/binary"
	"errors"
	"net"
	"unsafe"

	"golang.org/x/sys/unix"
)

var errNotTCP = errors.New("originaldst: peer address is not a TCP address")

// ip6tOriginalDst is IP6T_SO_ORIGINAL_DST. golang.org/x/sys/unix only
// exports the IPv4 constant (SO_ORIGINAL_DST); the IPv6 one carries the same
// numeric value under the ip6_tables module's socket-option numbering.
const ip6tOriginalDst = 80

// rawSockaddrIn4 mirrors struct sockaddr_in as laid out by the kernel. Port
// and Addr are kept as raw big-endian byte arrays rather than numeric
// fields: the kernel fills them in network byte order, and interpreting
// that memory as a Go uint16/uint32 directly would apply host endianness.
type rawSockaddrIn4 struct {
	Family uint16
	Port   [2]byte
	Addr   [4]byte
	Zero   [8]byte
}

// rawSockaddrIn6 mirrors struct sockaddr_in6 as laid out by the kernel.
type rawSockaddrIn6 struct {
	Family   uint16
	Port     [2]byte
	Flowinfo uint32
	Addr     [16]byte
	ScopeID  uint32
}

func of(conn *net.TCPConn) (*net.TCPAddr, error) {
	peer, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return nil, errNotTCP
	}

	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}

	var addr *net.TCPAddr
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		if peer.IP.To4() != nil {
			addr, sockErr = getsockoptOriginalDstIPv4(int(fd))
			return
		}
		addr, sockErr = getsockoptOriginalDstIPv6(int(fd))
	})
	if ctrlErr != nil {
		return nil, ctrlErr
	}
	return addr, sockErr
}

func getsockoptOriginalDstIPv4(fd int) (*net.TCPAddr, error) {
	var sa rawSockaddrIn4
	size := uint32(unsafe.Sizeof(sa))
	if err := getsockopt(fd, unix.SOL_IP, unix.SO_ORIGINAL_DST, unsafe.Pointer(&sa), &size); err != nil {
		return nil, err
	}
	ip := net.IPv4(sa.Addr[0], sa.Addr[1], sa.Addr[2], sa.Addr[3])
	return &net.TCPAddr{IP: ip, Port: int(binary.BigEndian.Uint16(sa.Port[:]))}, nil
}

func getsockoptOriginalDstIPv6(fd int) (*net.TCPAddr, error) {
	var sa rawSockaddrIn6
	size := uint32(unsafe.Sizeof(sa))
	if err := getsockopt(fd, unix.SOL_IPV6, ip6tOriginalDst, unsafe.Pointer(&sa), &size); err != nil {
		return nil, err
	}
	ip := make(net.IP, 16)
	copy(ip, sa.Addr[:])
	return &net.TCPAddr{IP: ip, Port: int(binary.BigEndian.Uint16(sa.Port[:]))}, nil
}

func getsockopt(fd, level, name int, val unsafe.Pointer, vallen *uint32) error {
	_, _, errno := unix.Syscall6(unix.SYS_GETSOCKOPT,
		uintptr(fd), uintptr(level), uintptr(name),
		uintptr(val), uintptr(unsafe.Pointer(vallen)), 0)
	if errno != 0 {
		return errno
	}
	return nil
}
