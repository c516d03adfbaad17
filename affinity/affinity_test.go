package affinity_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/kvgrid/streamer/affinity"
	"github.com/kvgrid/streamer/meta"
)

func threeNodeSmap(v meta.TopologyVersion) *meta.Smap {
	return &meta.Smap{
		Version: v,
		Tmap: meta.NodeMap{
			"n1": {DaemonID: "n1"},
			"n2": {DaemonID: "n2"},
			"n3": {DaemonID: "n3"},
		},
	}
}

var _ = Describe("HRW", func() {
	var (
		v   = meta.TopologyVersion{Major: 1}
		mem *meta.StaticMembership
		ora *affinity.HRW
	)

	BeforeEach(func() {
		mem = meta.NewStaticMembership(threeNodeSmap(v))
		ora = affinity.NewHRW(mem, "bucket")
	})

	It("should return every known node in MapPrimaryAndBackups", func() {
		nodes, err := ora.MapPrimaryAndBackups("bucket", []byte("key-1"), v)
		Expect(err).ToNot(HaveOccurred())
		Expect(nodes).To(HaveLen(3))
	})

	It("should be a stable function of (cache, key, version)", func() {
		a, err := ora.MapPrimaryAndBackups("bucket", []byte("key-1"), v)
		Expect(err).ToNot(HaveOccurred())
		b, err := ora.MapPrimaryAndBackups("bucket", []byte("key-1"), v)
		Expect(err).ToNot(HaveOccurred())
		Expect(a).To(Equal(b))
	})

	It("MapPrimary should return the first-ranked node from MapPrimaryAndBackups", func() {
		all, err := ora.MapPrimaryAndBackups("bucket", []byte("key-7"), v)
		Expect(err).ToNot(HaveOccurred())
		primary, err := ora.MapPrimary("bucket", []byte("key-7"), v)
		Expect(err).ToNot(HaveOccurred())
		Expect(primary.DaemonID).To(Equal(all[0].DaemonID))
	})

	It("should reject queries against a stale topology version", func() {
		stale := meta.TopologyVersion{Major: 0}
		_, err := ora.MapPrimaryAndBackups("bucket", []byte("key-1"), stale)
		Expect(err).To(MatchError(affinity.ErrStaleView))
	})

	It("Ready should return immediately once the current version is reached", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		Expect(ora.Ready(ctx, v)).To(Succeed())
	})

	It("Ready should block until the Sowner catches up, then return", func() {
		future := meta.TopologyVersion{Major: 2}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- ora.Ready(ctx, future) }()

		Consistently(done, 30*time.Millisecond).ShouldNot(Receive())
		mem.SetSmap(threeNodeSmap(future))
		Eventually(done, time.Second).Should(Receive(BeNil()))
	})

	It("Ready should respect context cancellation", func() {
		future := meta.TopologyVersion{Major: 99}
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := ora.Ready(ctx, future)
		Expect(err).To(MatchError(context.DeadlineExceeded))
	})
})
