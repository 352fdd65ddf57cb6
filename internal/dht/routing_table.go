package dht

import (
	"net"
	"sort"
	"sync"
)

const numBuckets = 160

// maxClosest bounds FindClosestK against pathological callers.
const maxClosest = 1000

type RoutingTable struct {
	localID NodeID
	mut     sync.RWMutex
	buckets [numBuckets]*Bucket
}

func NewRoutingTable(localID NodeID) *RoutingTable {
	rt := &RoutingTable{localID: localID}
	for i := range rt.buckets {
		rt.buckets[i] = NewBucket()
	}

	return rt
}

func (rt *RoutingTable) ID() NodeID {
	return rt.localID
}

// Insert applies the K-bucket insertion policy: refresh an existing
// entry, append to a non-full bucket, or replace a bucket's LRU only if
// that LRU is already Bad. Own ID and endpoint collisions (same
// address, different ID) are rejected silently.
func (rt *RoutingTable) Insert(contact *Contact) bool {
	if contact.ID() == rt.localID {
		return false
	}
	if rt.hasConflictingEndpoint(contact) {
		return false
	}

	bucketIdx := BucketIndex(rt.localID, contact.ID())
	bucket := rt.buckets[bucketIdx]

	if bucket.Insert(contact) {
		return true
	}
	return rt.handleFullBucket(bucket, contact)
}

func (rt *RoutingTable) hasConflictingEndpoint(contact *Contact) bool {
	addr := contact.Addr()

	for _, bucket := range rt.buckets {
		for _, c := range bucket.All() {
			if c.ID() != contact.ID() && sameEndpoint(c.Addr(), addr) {
				return true
			}
		}
	}
	return false
}

func sameEndpoint(a, b *net.UDPAddr) bool {
	return a.Port == b.Port && a.IP.Equal(b.IP)
}

// handleFullBucket implements the ping-before-evict policy: only the
// already-Bad LRU is replaced outright. A merely questionable LRU is
// left for the periodic ping loop to demote; the new contact is
// rejected this round.
func (rt *RoutingTable) handleFullBucket(bucket *Bucket, newContact *Contact) bool {
	lru := bucket.LRU()
	if lru == nil {
		return false
	}

	if lru.IsBad() {
		bucket.Remove(lru.ID())
		bucket.Insert(newContact)
		return true
	}

	return false
}

func (rt *RoutingTable) Remove(id NodeID) bool {
	bucketIdx := BucketIndex(rt.localID, id)
	return rt.buckets[bucketIdx].Remove(id)
}

func (rt *RoutingTable) Get(id NodeID) *Contact {
	bucketIdx := BucketIndex(rt.localID, id)
	return rt.buckets[bucketIdx].Get(id)
}

// FindClosestK returns up to min(k, maxClosest, total) contacts sorted
// ascending by XOR distance to target. Ties break on endpoint
// lexicographic order for determinism.
func (rt *RoutingTable) FindClosestK(target NodeID, k int) []*Contact {
	if k > maxClosest {
		k = maxClosest
	}

	rt.mut.RLock()
	defer rt.mut.RUnlock()

	targetBucket := BucketIndex(rt.localID, target)

	var contacts []*Contact
	contacts = append(contacts, rt.buckets[targetBucket].All()...)

	for i := 1; len(contacts) < k && (targetBucket-i >= 0 || targetBucket+i < numBuckets); i++ {
		if targetBucket-i >= 0 {
			contacts = append(contacts, rt.buckets[targetBucket-i].All()...)
		}
		if targetBucket+i < numBuckets {
			contacts = append(contacts, rt.buckets[targetBucket+i].All()...)
		}
	}

	sort.Slice(contacts, func(i, j int) bool {
		cmp := CompareDistance(target, contacts[i].ID(), contacts[j].ID())
		if cmp != 0 {
			return cmp < 0
		}
		return contacts[i].Addr().String() < contacts[j].Addr().String()
	})

	if len(contacts) > k {
		contacts = contacts[:k]
	}

	return contacts
}

func (rt *RoutingTable) Size() int {
	count := 0
	for _, bucket := range rt.buckets {
		count += bucket.Len()
	}

	return count
}

func (rt *RoutingTable) BucketsNeedingRefresh() []int {
	var indices []int
	for i, bucket := range rt.buckets {
		if bucket.Len() > 0 && bucket.NeedsRefresh() {
			indices = append(indices, i)
		}
	}

	return indices
}

func (rt *RoutingTable) QuestionableContacts() []*Contact {
	var questionable []*Contact
	for _, bucket := range rt.buckets {
		for _, contact := range bucket.All() {
			if contact.IsQuestionable() {
				questionable = append(questionable, contact)
			}
		}
	}

	return questionable
}

type RoutingTableStats struct {
	TotalContacts        int
	GoodContacts         int
	QuestionableContacts int
	BadContacts          int
	FilledBuckets        int
	EmptyBuckets         int
}

func (rt *RoutingTable) Stats() RoutingTableStats {
	var stats RoutingTableStats

	for _, bucket := range rt.buckets {
		contacts := bucket.All()
		if len(contacts) == 0 {
			stats.EmptyBuckets++
			continue
		}

		stats.FilledBuckets++
		stats.TotalContacts += len(contacts)

		for _, c := range contacts {
			switch {
			case c.IsGood():
				stats.GoodContacts++
			case c.IsQuestionable():
				stats.QuestionableContacts++
			case c.IsBad():
				stats.BadContacts++
			}
		}
	}

	return stats
}
