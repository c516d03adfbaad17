package meta

// NodeEvent carries a membership transition together with the topology
// version the discovery layer had already moved to by the time it fired
// (spec §6 "Events"): the streamer's Topology Listener must wait for the
// affinity oracle to become Ready at this version before redistributing the
// departing node's buffer (spec §4.3).
type NodeEvent struct {
	Node    *Snode
	Version TopologyVersion
}

// Membership is the external collaborator (spec §1, §6) that publishes
// node-left/node-failed notifications. It is implemented in production by
// an adapter over the real cluster membership service; this module only
// consumes it.
type Membership interface {
	SubscribeNodeLeft() <-chan NodeEvent
	SubscribeNodeFailed() <-chan NodeEvent
	// SubscribeDisconnect fires once, when this process is detached from the
	// cluster (spec §5 "Disconnect handling").
	SubscribeDisconnect() <-chan struct{}
}

// StaticMembership is an in-memory Membership + Sowner used by tests and by
// cmd/streamload's demo harness: it lets the caller push Smap updates and
// node-left/failed/disconnect events synchronously.
type StaticMembership struct {
	smap      *Smap
	listeners *Listeners

	nodeLeft   chan NodeEvent
	nodeFailed chan NodeEvent
	disconnect chan struct{}
}

func NewStaticMembership(initial *Smap) *StaticMembership {
	if initial == nil {
		initial = &Smap{Tmap: NodeMap{}}
	}
	return &StaticMembership{
		smap:       initial,
		listeners:  NewListeners(),
		nodeLeft:   make(chan NodeEvent, 16),
		nodeFailed: make(chan NodeEvent, 16),
		disconnect: make(chan struct{}),
	}
}

func (m *StaticMembership) Get() *Smap           { return m.smap }
func (m *StaticMembership) Listeners() *Listeners { return m.listeners }

func (m *StaticMembership) SubscribeNodeLeft() <-chan NodeEvent   { return m.nodeLeft }
func (m *StaticMembership) SubscribeNodeFailed() <-chan NodeEvent { return m.nodeFailed }
func (m *StaticMembership) SubscribeDisconnect() <-chan struct{}  { return m.disconnect }

// SetSmap installs a new snapshot and notifies registered Slistener(s),
// mirroring Streams.Resync's "swap then notify" discipline.
func (m *StaticMembership) SetSmap(sm *Smap) {
	m.smap = sm
	m.listeners.Notify()
}

// FireNodeLeft publishes a graceful-departure event at the given version.
func (m *StaticMembership) FireNodeLeft(n *Snode, v TopologyVersion) {
	m.nodeLeft <- NodeEvent{Node: n, Version: v}
}

// FireNodeFailed publishes an abrupt-failure event at the given version.
func (m *StaticMembership) FireNodeFailed(n *Snode, v TopologyVersion) {
	m.nodeFailed <- NodeEvent{Node: n, Version: v}
}

// FireDisconnect closes the disconnect channel exactly once.
func (m *StaticMembership) FireDisconnect() {
	select {
	case <-m.disconnect:
	default:
		close(m.disconnect)
	}
}
