package dht

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"sync"
	"time"
)

// DefaultMaxDiscoveredHashes bounds the discovery store in long-running
// crawls, evicting the least-recently-touched entry once full.
const DefaultMaxDiscoveredHashes = 500_000

const discoveryTag = "get_peers"
const bep51Tag = "bep51"

// hashRecord is the crawl-state bookkeeping kept per discovered
// info_hash: which endpoints surfaced it and how many times we were
// asked about it.
type hashRecord struct {
	sources      map[string]struct{}
	requestCount int
	firstSeen    time.Time
	lastSeen     time.Time
}

// Discovery is the crawler's discovered-info_hash multiset, structurally
// adapted from a per-torrent peer store: map + mutex + cap-triggered
// eviction, repointed from "peers per torrent" to "sources per
// info_hash".
type Discovery struct {
	mu      sync.RWMutex
	data    map[NodeID]*hashRecord
	maxSize int

	bep51Sent     int
	bep51Received int
}

func NewDiscovery(maxSize int) *Discovery {
	if maxSize <= 0 {
		maxSize = DefaultMaxDiscoveredHashes
	}

	return &Discovery{
		data:    make(map[NodeID]*hashRecord),
		maxSize: maxSize,
	}
}

// Observe records a sighting of infoHash from source and reports
// whether the hash was not already in the store. A hash that was
// evicted earlier reports as new again.
func (d *Discovery) Observe(infoHash NodeID, source *net.UDPAddr, tag string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, exists := d.data[infoHash]
	isNew := !exists

	if !exists {
		if len(d.data) >= d.maxSize {
			d.evictOldestLocked()
		}

		rec = &hashRecord{
			sources:   make(map[string]struct{}),
			firstSeen: time.Now(),
		}
		d.data[infoHash] = rec
	}

	rec.lastSeen = time.Now()
	rec.requestCount++
	if source != nil {
		rec.sources[source.String()] = struct{}{}
	}

	if tag == bep51Tag {
		d.bep51Received++
	}

	return isNew
}

func (d *Discovery) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.data)
}

func (d *Discovery) RequestCount(infoHash NodeID) int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if rec, ok := d.data[infoHash]; ok {
		return rec.requestCount
	}
	return 0
}

// Sample draws up to n info_hashes without replacement from the
// discovered pool, for BEP 51 sample_infohashes responses.
func (d *Discovery) Sample(n int) []NodeID {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if n > len(d.data) {
		n = len(d.data)
	}
	if n <= 0 {
		return nil
	}

	all := make([]NodeID, 0, len(d.data))
	for h := range d.data {
		all = append(all, h)
	}

	shuffle(all)
	return all[:n]
}

// IncrementSamplesSent records that a sample_infohashes response was
// sent (for progress-callback counters).
func (d *Discovery) IncrementSamplesSent(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.bep51Sent += n
}

func (d *Discovery) BEP51Counts() (sent, received int) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.bep51Sent, d.bep51Received
}

// observeSamples records every hash in resp's BEP 51 samples field (if
// present) as a sighting from source, invoking onNew for any hash seen
// for the first time.
func observeSamples(d *Discovery, resp *Message, source *net.UDPAddr, onNew OnDiscovery) {
	samplesData, ok := resp.GetSamples()
	if !ok {
		return
	}

	hashes, err := DecodeSamples(samplesData)
	if err != nil {
		return
	}

	for _, h := range hashes {
		if d.Observe(h, source, bep51Tag) && onNew != nil {
			onNew(h, source, DiscoveryTagBEP51)
		}
	}
}

func (d *Discovery) evictOldestLocked() {
	var oldestHash NodeID
	var oldestTime time.Time
	first := true

	for hash, rec := range d.data {
		if first || rec.lastSeen.Before(oldestTime) {
			oldestHash = hash
			oldestTime = rec.lastSeen
			first = false
		}
	}

	if !first {
		delete(d.data, oldestHash)
	}
}

// shuffle performs an in-place Fisher-Yates shuffle using crypto/rand,
// since this package never calls math/rand (sampling fairness here
// only needs unpredictability, not speed).
func shuffle(xs []NodeID) {
	for i := len(xs) - 1; i > 0; i-- {
		j := randIntn(i + 1)
		xs[i], xs[j] = xs[j], xs[i]
	}
}

func randIntn(n int) int {
	var b [8]byte
	rand.Read(b[:])
	return int(binary.BigEndian.Uint64(b[:]) % uint64(n))
}
