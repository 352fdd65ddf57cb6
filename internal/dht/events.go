package dht

import "net"

// DiscoveryTag identifies how a new info_hash was observed.
type DiscoveryTag string

const (
	DiscoveryTagGetPeers DiscoveryTag = "get_peers"
	DiscoveryTagBEP51    DiscoveryTag = "bep51"
)

// OnDiscovery is invoked at most once per newly observed info_hash.
type OnDiscovery func(infoHash NodeID, source *net.UDPAddr, tag DiscoveryTag)

// ProgressStats is the crawler's once-per-tick snapshot.
type ProgressStats struct {
	ElapsedSeconds    int
	UniqueHashes      int
	DiscoveriesPerMin float64
	TotalRequests     int
	RoutingTableSize  int
	BEP51SamplesSent  int
	BEP51SamplesRecv  int
}

// OnProgress is invoked exactly once per tick in crawler mode, after that
// tick's active query burst and reaping (if any). Inbound datagrams are
// handled concurrently by the transport's read loop, not per tick.
type OnProgress func(stats ProgressStats)
