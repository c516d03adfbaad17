package meta_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/kvgrid/streamer/meta"
)

var _ = Describe("TopologyVersion", func() {
	It("should order by major then minor", func() {
		a := meta.TopologyVersion{Major: 1, Minor: 5}
		b := meta.TopologyVersion{Major: 2, Minor: 0}
		Expect(a.Less(b)).To(BeTrue())
		Expect(b.Less(a)).To(BeFalse())
	})

	It("should compare minor when major is equal", func() {
		a := meta.TopologyVersion{Major: 1, Minor: 1}
		b := meta.TopologyVersion{Major: 1, Minor: 2}
		Expect(a.Less(b)).To(BeTrue())
		Expect(a.Equal(a)).To(BeTrue())
		Expect(a.Equal(b)).To(BeFalse())
	})
})

var _ = Describe("Diff", func() {
	It("should report added and removed nodes", func() {
		oldm := meta.NodeMap{"a": {DaemonID: "a"}, "b": {DaemonID: "b"}}
		newm := meta.NodeMap{"b": {DaemonID: "b"}, "c": {DaemonID: "c"}}
		added, removed := meta.Diff(oldm, newm)
		Expect(added).To(HaveKey("c"))
		Expect(added).NotTo(HaveKey("b"))
		Expect(removed).To(HaveKey("a"))
		Expect(removed).NotTo(HaveKey("b"))
	})

	It("should report nothing when maps are identical", func() {
		m := meta.NodeMap{"a": {DaemonID: "a"}}
		added, removed := meta.Diff(m, m)
		Expect(added).To(BeEmpty())
		Expect(removed).To(BeEmpty())
	})
})

var _ = Describe("Listeners", func() {
	It("should notify every registered listener", func() {
		ls := meta.NewListeners()
		l1 := &fakeListener{}
		l2 := &fakeListener{}
		ls.Reg(l1)
		ls.Reg(l2)
		ls.Notify()
		Expect(l1.n).To(Equal(1))
		Expect(l2.n).To(Equal(1))

		ls.Unreg(l1)
		ls.Notify()
		Expect(l1.n).To(Equal(1))
		Expect(l2.n).To(Equal(2))
	})
})

// fakeListener is a pointer-backed meta.Slistener: Listeners.regs keys on
// the interface's dynamic type, which must be comparable, so a func-typed
// listener (not comparable) cannot be used here.
type fakeListener struct{ n int }

func (f *fakeListener) ListenSmapChanged() { f.n++ }

var _ = Describe("Smap", func() {
	It("GetNode should return nil for an unknown or nil map", func() {
		var sm *meta.Smap
		Expect(sm.GetNode("x")).To(BeNil())

		sm = &meta.Smap{Tmap: meta.NodeMap{"a": {DaemonID: "a"}}}
		Expect(sm.GetNode("a")).NotTo(BeNil())
		Expect(sm.GetNode("z")).To(BeNil())
	})
})
