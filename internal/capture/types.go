// Package capture implements the trace pipeline: a single consumer
// goroutine that owns every in-flight flow's buffers and, on close,
// writes a metadata file plus raw request/response dumps to disk.
package capture

import (
	"hash/fnv"
	"net"
)

// Protocol tags a flow for the purpose of both filtering and dump
// formatting.
type Protocol string

const (
	ProtocolHTTP Protocol = "http"
	ProtocolTCP  Protocol = "tcp"
	ProtocolTLS  Protocol = "tls"
	ProtocolUDP  Protocol = "udp"
	ProtocolDNS  Protocol = "dns"
)

// Addresses identifies a flow by its four-tuple. Remote is the proxied
// destination, Source the connecting client.
type Addresses struct {
	Remote     net.IP `json:"remote"`
	RemotePort uint16 `json:"rport"`
	Source     net.IP `json:"source"`
	SourcePort uint16 `json:"sport"`
}

// Hash derives a stable identifier for the flow, used both as the
// in-memory map key and as the trace directory name.
func (a Addresses) Hash() uint64 {
	h := fnv.New64a()
	h.Write(a.Remote)
	h.Write([]byte{byte(a.RemotePort >> 8), byte(a.RemotePort)})
	h.Write(a.Source)
	h.Write([]byte{byte(a.SourcePort >> 8), byte(a.SourcePort)})
	return h.Sum64()
}

// event is the consumer's internal work queue item. address is set on
// every kind; proto only on eventConnect, data only on the two data
// kinds.
type eventKind int

const (
	eventConnect eventKind = iota
	eventRequestData
	eventResponseData
	eventClose
)

type event struct {
	kind    eventKind
	address Addresses
	proto   Protocol
	data    []byte
}
