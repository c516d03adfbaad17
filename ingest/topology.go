package ingest

import (
	"context"

	"github.com/kvgrid/streamer/cmn/nlog"
	"github.com/kvgrid/streamer/meta"
	"github.com/kvgrid/streamer/stats"
)

// runTopologyListener implements spec §4.3: on node_left/node_failed at
// topology version T', detach the departing node's Buffer from the map and
// asynchronously wait until the affinity layer is ready at T' before calling
// on_node_left() on it -- the wait prevents looping on a stale view. It
// exits when Close() closes topoStop.
func (s *Streamer) runTopologyListener(m meta.Membership) {
	defer close(s.topoDone)

	left := m.SubscribeNodeLeft()
	failed := m.SubscribeNodeFailed()
	disconnect := m.SubscribeDisconnect()

	for {
		select {
		case <-s.topoStop:
			return
		case ev, ok := <-left:
			if !ok {
				left = nil
				continue
			}
			go s.handleNodeDeparture(ev)
		case ev, ok := <-failed:
			if !ok {
				failed = nil
				continue
			}
			go s.handleNodeDeparture(ev)
		case _, ok := <-disconnect:
			if !ok {
				return
			}
			go s.onDisconnect()
			return
		}
	}
}

// handleNodeDeparture implements spec §4.3 steps 1-2 for one node-left or
// node-failed event.
func (s *Streamer) handleNodeDeparture(ev meta.NodeEvent) {
	if ev.Node == nil {
		return
	}
	stats.NodesLeftTotal.Inc()
	s.mu.Lock()
	b, ok := s.buffers[ev.Node.DaemonID]
	if ok {
		delete(s.buffers, ev.Node.DaemonID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	if err := s.cfg.Oracle.Ready(context.Background(), ev.Version); err != nil {
		nlog.Warningf("streamer %s: affinity oracle never became ready at %s: %v", s.id, ev.Version, err)
	}
	b.onNodeLeft()
}
