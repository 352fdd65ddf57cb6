package dht

import (
	"context"
	"errors"
	"net"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
)

// Alpha is the lookup concurrency factor: how many unqueried candidates
// are queried per round.
const Alpha = 8

// ErrNoSeeds is returned by ScrapePeers when the routing table has no
// contacts to start the lookup from.
var ErrNoSeeds = errors.New("dht: routing table empty, cannot start lookup")

type lookupCandidate struct {
	contact *Contact
	queried bool
}

// ScrapePeers runs an iterative get_peers lookup for infoHash. Each
// round fans queries out with an errgroup and blocks until they all
// settle, making the round boundary directly observable for the
// termination rule: stop once a full round produces no closer node.
// Any response that itself carries a samples field is recorded in
// discovery as a BEP 51 sighting.
func ScrapePeers(ctx context.Context, transport *Transport, table *RoutingTable, discovery *Discovery, onDiscovery OnDiscovery, localID NodeID, infoHash NodeID, k, alpha int, timeout time.Duration) ([]*net.UDPAddr, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	seeds := table.FindClosestK(infoHash, k)
	if len(seeds) == 0 {
		return nil, ErrNoSeeds
	}

	candidates := make(map[NodeID]*lookupCandidate, len(seeds))
	for _, c := range seeds {
		candidates[c.ID()] = &lookupCandidate{contact: c}
	}

	seenPeers := make(map[string]struct{})
	var peers []*net.UDPAddr

	bestDistance := closestDistance(candidates, infoHash)

	for {
		select {
		case <-ctx.Done():
			return peers, nil
		default:
		}

		batch := selectUnqueried(candidates, infoHash, alpha)
		if len(batch) == 0 {
			return peers, nil
		}

		g := new(errgroup.Group)
		results := make([]*Message, len(batch))

		for i, cand := range batch {
			i, cand := i, cand
			cand.queried = true
			cand.contact.MarkQueried("")

			g.Go(func() error {
				msg := GetPeersQuery("", localID, infoHash)
				resp, err := transport.SendQuery(msg, cand.contact.Addr(), defaultQueryTimeout)
				if err != nil {
					cand.contact.MarkFailed()
					return nil // a failed peer doesn't abort the round
				}
				cand.contact.MarkSeen()
				table.Insert(cand.contact)
				results[i] = resp
				return nil
			})
		}

		// errgroup.Group.Wait only ever returns non-nil if a Go func
		// returns an error; this loop never does, so the error is
		// always nil and intentionally ignored.
		_ = g.Wait()

		for i, resp := range results {
			if resp == nil {
				continue
			}

			observeSamples(discovery, resp, batch[i].contact.Addr(), onDiscovery)

			if values, ok := resp.GetValues(); ok {
				for _, v := range values {
					if len(v) != compactPeerSize {
						continue
					}
					var info [compactPeerSize]byte
					copy(info[:], v)
					ip, port := DecodePeerInfo(info)

					key := net.JoinHostPort(ip.String(), strconv.Itoa(int(port)))
					if _, dup := seenPeers[key]; !dup {
						seenPeers[key] = struct{}{}
						peers = append(peers, &net.UDPAddr{IP: ip, Port: int(port)})
					}
				}
			}

			if nodesData, ok := resp.GetNodes(); ok {
				nodes, err := DecodeCompactNodeInfoList(nodesData)
				if err != nil {
					continue
				}
				for _, n := range nodes {
					if n.ID == localID {
						continue
					}
					if _, exists := candidates[n.ID]; !exists {
						candidates[n.ID] = &lookupCandidate{contact: NewContact(n)}
					}
				}
			}
		}

		newBest := closestDistance(candidates, infoHash)
		if compareNodeID(newBest, bestDistance) >= 0 {
			return peers, nil
		}
		bestDistance = newBest
	}
}

func selectUnqueried(candidates map[NodeID]*lookupCandidate, target NodeID, n int) []*lookupCandidate {
	var unqueried []*lookupCandidate
	for _, c := range candidates {
		if !c.queried {
			unqueried = append(unqueried, c)
		}
	}

	sort.Slice(unqueried, func(i, j int) bool {
		return CompareDistance(target, unqueried[i].contact.ID(), unqueried[j].contact.ID()) < 0
	})

	if len(unqueried) > n {
		unqueried = unqueried[:n]
	}
	return unqueried
}

func closestDistance(candidates map[NodeID]*lookupCandidate, target NodeID) NodeID {
	var best NodeID
	for i := range best {
		best[i] = 0xff
	}

	for _, c := range candidates {
		d := Distance(target, c.contact.ID())
		if compareNodeID(d, best) < 0 {
			best = d
		}
	}
	return best
}

func compareNodeID(a, b NodeID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
