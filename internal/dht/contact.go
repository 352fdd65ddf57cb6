package dht

import (
	"net"
	"sync"
	"time"
)

type ContactState int

const (
	StateGood         ContactState = iota // responded within the last 15m
	StateQuestionable                     // no response yet, not timed out
	StateBad                              // failed three or more queries
)

const (
	goodWindow    = 15 * time.Minute
	failThreshold = 3
)

// Contact is a routing-table entry: a Node plus the liveness bookkeeping
// the engine needs to decide when to evict it.
type Contact struct {
	node          *Node
	lastSeen      time.Time
	lastQuery     time.Time
	failedQueries int
	state         ContactState

	mut     sync.RWMutex
	pending map[string]time.Time // transaction id -> sent time
}

func NewContact(node *Node) *Contact {
	return &Contact{
		node:     node,
		lastSeen: time.Now(),
		state:    StateQuestionable,
		pending:  make(map[string]time.Time),
	}
}

func (c *Contact) ID() NodeID {
	return c.node.ID
}

func (c *Contact) Addr() *net.UDPAddr {
	return c.node.UDPAddr()
}

func (c *Contact) Node() *Node {
	return c.node
}

// MarkSeen records a successful response from this contact.
func (c *Contact) MarkSeen() {
	c.mut.Lock()
	defer c.mut.Unlock()

	c.lastSeen = time.Now()
	c.failedQueries = 0
	c.state = StateGood
}

// MarkQueried records that a query with the given transaction id was
// sent to this contact.
func (c *Contact) MarkQueried(transactionID string) {
	c.mut.Lock()
	defer c.mut.Unlock()

	c.lastQuery = time.Now()
	c.pending[transactionID] = time.Now()
}

func (c *Contact) MarkResponse(transactionID string) {
	c.mut.Lock()
	defer c.mut.Unlock()

	delete(c.pending, transactionID)
}

func (c *Contact) MarkFailed() {
	c.mut.Lock()
	defer c.mut.Unlock()

	c.failedQueries++

	if c.failedQueries >= failThreshold {
		c.state = StateBad
	} else {
		c.state = StateQuestionable
	}
}

func (c *Contact) IsGood() bool {
	c.mut.RLock()
	defer c.mut.RUnlock()

	return c.state == StateGood && time.Since(c.lastSeen) < goodWindow
}

func (c *Contact) IsQuestionable() bool {
	c.mut.RLock()
	defer c.mut.RUnlock()

	if c.state == StateBad {
		return false
	}
	return time.Since(c.lastSeen) >= goodWindow
}

func (c *Contact) IsBad() bool {
	c.mut.RLock()
	defer c.mut.RUnlock()

	return c.state == StateBad
}

func (c *Contact) PendingQueries() int {
	c.mut.RLock()
	defer c.mut.RUnlock()

	return len(c.pending)
}

// CleanStaleQueries reaps pending transactions older than timeout,
// counting each as a failure.
func (c *Contact) CleanStaleQueries(timeout time.Duration) {
	c.mut.Lock()
	defer c.mut.Unlock()

	now := time.Now()
	for txID, sentAt := range c.pending {
		if now.Sub(sentAt) > timeout {
			delete(c.pending, txID)
			c.failedQueries++
		}
	}

	if c.failedQueries >= failThreshold {
		c.state = StateBad
	}
}
