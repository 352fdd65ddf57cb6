package dht

import (
	"encoding/binary"
	"fmt"
	"net"
)

const (
	compactPeerSize   = 6  // 4 byte IPv4 + 2 byte port
	compactSampleSize = 20 // one info_hash

	maxSamples = 20
)

// DecodeCompactNodeInfo parses one 26-byte compact node entry.
func DecodeCompactNodeInfo(data []byte) (*Node, error) {
	if len(data) != compactNodeSize {
		return nil, fmt.Errorf("dht: compact node must be %d bytes, got %d", compactNodeSize, len(data))
	}

	var id NodeID
	copy(id[:], data[:len(id)])

	ip := net.IPv4(data[20], data[21], data[22], data[23])
	port := binary.BigEndian.Uint16(data[24:26])

	return NewNodeWithID(id, ip, int(port))
}

// DecodeCompactNodeInfoList parses a concatenated nodes field, returning
// a parse error when the length isn't a multiple of 26.
func DecodeCompactNodeInfoList(data []byte) ([]*Node, error) {
	if len(data)%compactNodeSize != 0 {
		return nil, fmt.Errorf("dht: nodes length %d not a multiple of %d", len(data), compactNodeSize)
	}

	count := len(data) / compactNodeSize
	nodes := make([]*Node, 0, count)

	for i := 0; i < count; i++ {
		offset := i * compactNodeSize
		node, err := DecodeCompactNodeInfo(data[offset : offset+compactNodeSize])
		if err != nil {
			// a single malformed entry (e.g. port 0) doesn't invalidate
			// the rest of the list
			continue
		}
		nodes = append(nodes, node)
	}

	return nodes, nil
}

// EncodeNodes packs contacts into a concatenated compact-node byte
// string.
func EncodeNodes(contacts []*Contact) []byte {
	buf := make([]byte, 0, len(contacts)*compactNodeSize)
	for _, c := range contacts {
		buf = append(buf, c.Node().CompactNodeInfo()...)
	}
	return buf
}

// EncodePeerInfo packs an IPv4 endpoint into the 6-byte compact peer
// format.
func EncodePeerInfo(ip net.IP, port uint16) ([compactPeerSize]byte, error) {
	var info [compactPeerSize]byte

	ip4 := ip.To4()
	if ip4 == nil {
		return info, fmt.Errorf("dht: %s is not an IPv4 address", ip)
	}

	copy(info[:4], ip4)
	binary.BigEndian.PutUint16(info[4:6], port)
	return info, nil
}

func DecodePeerInfo(info [compactPeerSize]byte) (net.IP, uint16) {
	ip := net.IPv4(info[0], info[1], info[2], info[3])
	port := binary.BigEndian.Uint16(info[4:6])
	return ip, port
}

// EncodeSamples packs up to maxSamples info_hashes into a concatenated
// byte string, clamping silently if given more (spec: "N > 20 is
// clamped on emission").
func EncodeSamples(hashes []NodeID) []byte {
	if len(hashes) > maxSamples {
		hashes = hashes[:maxSamples]
	}

	buf := make([]byte, 0, len(hashes)*compactSampleSize)
	for _, h := range hashes {
		buf = append(buf, h[:]...)
	}
	return buf
}

// DecodeSamples parses a samples field, truncating to maxSamples info
// hashes and returning a parse error if the length isn't a multiple of
// 20.
func DecodeSamples(data []byte) ([]NodeID, error) {
	if len(data)%compactSampleSize != 0 {
		return nil, fmt.Errorf("dht: samples length %d not a multiple of %d", len(data), compactSampleSize)
	}

	count := len(data) / compactSampleSize
	if count > maxSamples {
		count = maxSamples
	}

	hashes := make([]NodeID, count)
	for i := 0; i < count; i++ {
		copy(hashes[i][:], data[i*compactSampleSize:(i+1)*compactSampleSize])
	}

	return hashes, nil
}
