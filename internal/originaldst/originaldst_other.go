//go:build !linux

package originaldst

import (
	"fmt"
	"net"
	"runtime"
)

func of(conn *net.TCPConn) (*net.TCPAddr, error) {
	return nil, fmt.Errorf("originaldst: SO_ORIGINAL_DST recovery is not supported on %s", runtime.GOOS)
}
