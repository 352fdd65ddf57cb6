package dht

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

var (
	ErrNotStarted    = errors.New("dht: engine not started")
	ErrAlreadyStarted = errors.New("dht: engine already started")
)

// Engine wires the transport, routing table, token manager, discovery
// store and query handler together and exposes the two operating
// modes: ScrapePeers and Crawl.
type Engine struct {
	logger *slog.Logger
	cfg    Config

	localID   NodeID
	table     *RoutingTable
	transport *Transport
	token     *TokenManager
	discovery *Discovery
	handler   *QueryHandler

	onDiscovery OnDiscovery

	mu      sync.RWMutex
	started bool
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewEngine(cfg Config, logger *slog.Logger) (*Engine, error) {
	localID := randNodeID()

	transport, err := NewTransport(localID, cfg.ListenAddr, logger)
	if err != nil {
		return nil, fmt.Errorf("dht: creating transport: %w", err)
	}

	table := NewRoutingTable(localID)
	token := NewTokenManager()
	discovery := NewDiscovery(cfg.MaxDiscoveredHashes)
	handler := NewQueryHandler(transport, table, token, discovery, cfg.K)
	transport.SetQueryHandler(handler.HandleQuery)

	return &Engine{
		logger:    logger,
		cfg:       cfg,
		localID:   localID,
		table:     table,
		transport: transport,
		token:     token,
		discovery: discovery,
		handler:   handler,
		done:      make(chan struct{}),
	}, nil
}

func (e *Engine) LocalID() NodeID            { return e.localID }
func (e *Engine) LocalAddr() *net.UDPAddr    { return e.transport.LocalAddr() }
func (e *Engine) Stats() RoutingTableStats   { return e.table.Stats() }
func (e *Engine) DiscoveredCount() int       { return e.discovery.Count() }
func (e *Engine) SetOnDiscovery(fn OnDiscovery) {
	e.onDiscovery = fn
	e.handler.SetOnDiscovery(fn)
}

// Start brings up the transport read loop and the long-running
// maintenance goroutines (bucket refresh, questionable-peer ping), then
// performs an initial bootstrap before returning.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.mu.Unlock()

	e.transport.Start()

	e.wg.Add(2)
	go func() { defer e.wg.Done(); e.refreshLoop() }()
	go func() { defer e.wg.Done(); e.pingLoop() }()

	e.bootstrap(ctx)

	return nil
}

func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	e.mu.Unlock()

	close(e.done)
	e.transport.Stop()
	e.token.Stop()
	e.wg.Wait()
}

func (e *Engine) isStarted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.started
}

// ScrapePeers runs an iterative get_peers lookup for infoHash. A
// timeout <= 0 uses cfg.LookupTimeout.
func (e *Engine) ScrapePeers(ctx context.Context, infoHash NodeID, timeout time.Duration) ([]*net.UDPAddr, error) {
	if !e.isStarted() {
		return nil, ErrNotStarted
	}
	if timeout <= 0 {
		timeout = e.cfg.LookupTimeout
	}
	return ScrapePeers(ctx, e.transport, e.table, e.discovery, e.onDiscovery, e.localID, infoHash, e.cfg.K, e.cfg.Alpha, timeout)
}

// Ping sends a ping query to addr and, on success, inserts the
// responder into the routing table.
func (e *Engine) Ping(addr *net.UDPAddr) error {
	msg := PingQuery(e.transport.generateTransactionID(), e.localID)

	resp, err := e.transport.SendQuery(msg, addr, e.cfg.QueryTimeout)
	if err != nil {
		return err
	}

	nodeID, ok := resp.GetNodeID()
	if !ok {
		return ErrInvalidMessage
	}

	node, err := NewNodeWithID(nodeID, addr.IP, addr.Port)
	if err != nil {
		return err
	}

	contact := NewContact(node)
	contact.MarkSeen()
	e.table.Insert(contact)

	return nil
}

// FindNode performs an iterative node lookup for target and returns the
// closest contacts learned along the way.
func (e *Engine) FindNode(ctx context.Context, target NodeID) ([]*Contact, error) {
	seeds := e.table.FindClosestK(target, e.cfg.K)
	if len(seeds) == 0 {
		return nil, ErrNoSeeds
	}

	// This loop is separate from ScrapePeers: queries go out one at a
	// time, for at most 8 rounds. Each contact that answers is inserted
	// into the routing table as soon as its response arrives; contacts
	// learned from a nodes field are queried in the next round and are
	// inserted only if they answer.
	queried := make(map[NodeID]bool, len(seeds))
	frontier := seeds

	for round := 0; round < 8 && len(frontier) > 0; round++ {
		var next []*Contact

		for _, c := range frontier {
			if queried[c.ID()] {
				continue
			}
			queried[c.ID()] = true

			msg := FindNodeQuery("", e.localID, target)
			resp, err := e.transport.SendQuery(msg, c.Addr(), e.cfg.QueryTimeout)
			if err != nil {
				c.MarkFailed()
				continue
			}
			c.MarkSeen()
			e.table.Insert(c)

			observeSamples(e.discovery, resp, c.Addr(), e.onDiscovery)

			nodesData, ok := resp.GetNodes()
			if !ok {
				continue
			}
			nodes, err := DecodeCompactNodeInfoList(nodesData)
			if err != nil {
				continue
			}
			for _, n := range nodes {
				if n.ID == e.localID || queried[n.ID] {
					continue
				}
				next = append(next, NewContact(n))
			}
		}

		if len(next) == 0 {
			break
		}
		frontier = next

		select {
		case <-ctx.Done():
			break
		default:
		}
	}

	return e.table.FindClosestK(target, e.cfg.K), nil
}

func (e *Engine) bootstrap(ctx context.Context) {
	for _, addrStr := range e.cfg.BootstrapNodes {
		addr, err := net.ResolveUDPAddr("udp", addrStr)
		if err != nil {
			e.logger.Warn("bad bootstrap address", "addr", addrStr, "error", err)
			continue
		}
		if err := e.Ping(addr); err != nil {
			e.logger.Debug("bootstrap ping failed", "addr", addrStr, "error", err)
		}
	}

	if _, err := e.FindNode(ctx, e.localID); err != nil {
		e.logger.Debug("bootstrap self-lookup failed", "error", err)
	}
}

func (e *Engine) refreshLoop() {
	ticker := time.NewTicker(bucketRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			e.refresh()
		}
	}
}

func (e *Engine) refresh() {
	ctx := context.Background()

	for _, bucketIdx := range e.table.BucketsNeedingRefresh() {
		target := randomIDInBucket(e.localID, bucketIdx)
		if _, err := e.FindNode(ctx, target); err != nil {
			e.logger.Debug("bucket refresh failed", "bucket", bucketIdx, "error", err)
		}
	}
}

func (e *Engine) pingLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			e.pingQuestionable()
		}
	}
}

func (e *Engine) pingQuestionable() {
	for _, contact := range e.table.QuestionableContacts() {
		msg := PingQuery(e.transport.generateTransactionID(), e.localID)

		resp, err := e.transport.SendQuery(msg, contact.Addr(), e.cfg.QueryTimeout)
		if err != nil {
			contact.MarkFailed()
			if contact.IsBad() {
				e.table.Remove(contact.ID())
			}
			continue
		}

		nodeID, ok := resp.GetNodeID()
		if !ok || nodeID != contact.ID() {
			e.table.Remove(contact.ID())
			continue
		}

		contact.MarkSeen()
	}
}

// randomIDInBucket flips the bit that distinguishes bucket bucketIdx
// from localID, producing a target guaranteed to route into that
// bucket.
func randomIDInBucket(localID NodeID, bucketIdx int) NodeID {
	id := localID

	bitPos := 159 - bucketIdx
	byteIdx := bitPos / 8
	bitIdx := uint(bitPos % 8)

	id[byteIdx] ^= 1 << (7 - bitIdx)

	return id
}
