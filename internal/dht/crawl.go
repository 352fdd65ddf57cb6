package dht

import (
	"context"
	"crypto/rand"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	crawlTickInterval  = time.Second
	staleReapEveryTick = 30
	activeQueryBatch   = 5
)

// Crawl runs the crawler loop: a 1Hz tick that, every queryInterval
// ticks, fans out an active find_node burst to 5 routing-table
// contacts, and on every tick invokes onProgress once. duration == 0
// means run until ctx is cancelled.
func (e *Engine) Crawl(ctx context.Context, queryInterval int, duration time.Duration, onProgress OnProgress) error {
	if !e.isStarted() {
		return ErrNotStarted
	}
	if queryInterval < 1 {
		queryInterval = 1
	}

	var cancel context.CancelFunc
	if duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	ticker := time.NewTicker(crawlTickInterval)
	defer ticker.Stop()

	start := time.Now()
	tick := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.done:
			return nil
		case <-ticker.C:
			tick++

			if tick%queryInterval == 0 {
				e.activeQueryBurst(ctx)
			}
			if tick%staleReapEveryTick == 0 {
				e.reapStale()
			}

			if onProgress != nil {
				onProgress(e.snapshotProgress(start, tick))
			}
		}
	}
}

// activeQueryBurst sends find_node(target=random) to activeQueryBatch
// contacts chosen by closeness to that random target, keeping us
// visible on the network and populating the table between discovery
// ticks.
func (e *Engine) activeQueryBurst(ctx context.Context) {
	target := randomNodeID()
	contacts := e.table.FindClosestK(target, activeQueryBatch)
	if len(contacts) == 0 {
		return
	}

	g := new(errgroup.Group)
	for _, c := range contacts {
		c := c
		g.Go(func() error {
			msg := FindNodeQuery("", e.localID, target)
			resp, err := e.transport.SendQuery(msg, c.Addr(), e.cfg.QueryTimeout)
			if err != nil {
				c.MarkFailed()
				return nil
			}
			c.MarkSeen()
			e.table.Insert(c)

			observeSamples(e.discovery, resp, c.Addr(), e.onDiscovery)

			if nodesData, ok := resp.GetNodes(); ok {
				if nodes, err := DecodeCompactNodeInfoList(nodesData); err == nil {
					for _, n := range nodes {
						if n.ID != e.localID {
							e.table.Insert(NewContact(n))
						}
					}
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) reapStale() {
	e.transport.ReapExpired()

	for _, c := range e.table.QuestionableContacts() {
		c.CleanStaleQueries(e.cfg.QueryTimeout)
		if c.IsBad() {
			e.table.Remove(c.ID())
		}
	}
}

func (e *Engine) snapshotProgress(start time.Time, tick int) ProgressStats {
	elapsed := int(time.Since(start).Seconds())
	unique := e.discovery.Count()

	var perMin float64
	if elapsed > 0 {
		perMin = float64(unique) / (float64(elapsed) / 60.0)
	}

	sent, received := e.discovery.BEP51Counts()

	return ProgressStats{
		ElapsedSeconds:    elapsed,
		UniqueHashes:      unique,
		DiscoveriesPerMin: perMin,
		TotalRequests:     e.handler.TotalRequests(),
		RoutingTableSize:  e.table.Size(),
		BEP51SamplesSent:  sent,
		BEP51SamplesRecv:  received,
	}
}

func randomNodeID() NodeID {
	var id NodeID
	rand.Read(id[:])
	return id
}
