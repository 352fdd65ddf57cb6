package dht

import (
	"net"
	"testing"
)

func newTestContact(t *testing.T, lastByte byte, port int) *Contact {
	t.Helper()

	var id NodeID
	id[len(id)-1] = lastByte

	node, err := NewNodeWithID(id, net.ParseIP("127.0.0.1"), port)
	if err != nil {
		t.Fatalf("NewNodeWithID error: %v", err)
	}

	return NewContact(node)
}

func TestBucket_InsertAndGet(t *testing.T) {
	b := NewBucket()
	c := newTestContact(t, 1, 6881)

	if !b.Insert(c) {
		t.Fatalf("Insert into empty bucket should succeed")
	}
	if got := b.Get(c.ID()); got != c {
		t.Fatalf("Get returned %v, want %v", got, c)
	}
}

func TestBucket_OverflowRejected(t *testing.T) {
	b := NewBucket()

	for i := 0; i < K; i++ {
		if !b.Insert(newTestContact(t, byte(i+1), 6881)) {
			t.Fatalf("insert %d should succeed, bucket not yet full", i)
		}
	}

	if b.Insert(newTestContact(t, byte(K+1), 6881)) {
		t.Fatalf("insert into full bucket should return false")
	}
	if !b.IsFull() {
		t.Fatalf("bucket should report full after K inserts")
	}
}

func TestBucket_InsertRefreshesExisting(t *testing.T) {
	b := NewBucket()
	c := newTestContact(t, 1, 6881)

	b.Insert(c)
	if !b.Insert(c) {
		t.Fatalf("re-inserting an existing contact should succeed")
	}
	if b.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after re-insert", b.Len())
	}
}

func TestBucket_Remove(t *testing.T) {
	b := NewBucket()
	c := newTestContact(t, 1, 6881)

	b.Insert(c)
	if !b.Remove(c.ID()) {
		t.Fatalf("Remove should succeed for present contact")
	}
	if b.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after remove", b.Len())
	}
	if b.Remove(c.ID()) {
		t.Fatalf("Remove should return false for absent contact")
	}
}

func TestBucket_LRUIsOldestInsert(t *testing.T) {
	b := NewBucket()
	first := newTestContact(t, 1, 6881)
	b.Insert(first)
	b.Insert(newTestContact(t, 2, 6881))

	if b.LRU() != first {
		t.Fatalf("LRU should be the first-inserted contact")
	}
}
