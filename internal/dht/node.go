package dht

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"net"
	"strconv"
)

const compactNodeSize = 26

// ErrInvalidEndpoint is returned by NewNode when the IP is not a valid
// IPv4 address or the port is outside 1..=65535.
var ErrInvalidEndpoint = errors.New("dht: invalid endpoint")

// NodeID is a 160-bit Kademlia identifier, interpreted big-endian for
// distance.
type NodeID [sha1.Size]byte

// IsZero reports whether id is the all-zero ID, which must never be used
// as a real node identity.
func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

type Node struct {
	ID   NodeID
	IP   net.IP
	Port int
}

// NewNode validates ip/port and returns a Node with a fresh random ID.
func NewNode(ip net.IP, port int) (*Node, error) {
	ip4 := ip.To4()
	if ip4 == nil || port < 1 || port > 65535 {
		return nil, ErrInvalidEndpoint
	}

	return &Node{ID: randNodeID(), IP: ip4, Port: port}, nil
}

// NewNodeWithID builds a Node with an explicit ID, as when decoding a
// contact off the wire.
func NewNodeWithID(id NodeID, ip net.IP, port int) (*Node, error) {
	ip4 := ip.To4()
	if ip4 == nil || port < 1 || port > 65535 {
		return nil, ErrInvalidEndpoint
	}

	return &Node{ID: id, IP: ip4, Port: port}, nil
}

func (n *Node) CompactNodeInfo() []byte {
	buf := make([]byte, compactNodeSize)
	copy(buf[:20], n.ID[:])
	copy(buf[20:24], n.IP.To4())
	binary.BigEndian.PutUint16(buf[24:26], uint16(n.Port))

	return buf
}

func (n *Node) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: n.IP, Port: n.Port}
}

func (n *Node) String() string {
	return net.JoinHostPort(n.IP.String(), strconv.Itoa(n.Port))
}

// randNodeID draws a fresh ID from a CSPRNG, retrying on the
// astronomically unlikely event of an all-zero result.
func randNodeID() NodeID {
	var id NodeID

	for {
		if _, err := rand.Read(id[:]); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		if !id.IsZero() {
			return id
		}
	}
}
