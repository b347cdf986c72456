package resource_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Nanguage/executor/internal/resource"
)

var _ = Describe("Ledger", func() {
	Describe("AcquireN", func() {
		It("should consume slots up to capacity", func() {
			l := resource.NewLedger(map[resource.Class]int{resource.JobsTotal: 2})

			Expect(l.AcquireN(resource.JobsTotal, 1)).To(BeTrue())
			Expect(l.AcquireN(resource.JobsTotal, 1)).To(BeTrue())
			Expect(l.AcquireN(resource.JobsTotal, 1)).To(BeFalse())
			Expect(l.InUse(resource.JobsTotal)).To(Equal(2))
		})

		It("should not consume anything when fewer than n slots remain", func() {
			l := resource.NewLedger(map[resource.Class]int{resource.Threads: 3})

			Expect(l.AcquireN(resource.Threads, 2)).To(BeTrue())
			Expect(l.AcquireN(resource.Threads, 2)).To(BeFalse())
			Expect(l.InUse(resource.Threads)).To(Equal(2))
		})

		It("should treat capacity <= 0 as unbounded", func() {
			l := resource.NewLedger(map[resource.Class]int{resource.Threads: 0})

			for range 100 {
				Expect(l.AcquireN(resource.Threads, 1)).To(BeTrue())
			}
			Expect(l.Has(resource.Threads, 1)).To(BeTrue())
		})
	})

	Describe("Acquire conjunction", func() {
		// Given a ledger where one class of the conjunction is exhausted
		// When a job acquires both classes
		// Then no slot of any class is consumed
		It("should be all-or-nothing", func() {
			l := resource.NewLedger(map[resource.Class]int{
				resource.JobsTotal: 4,
				resource.Cluster:   1,
			})

			Expect(l.Acquire(resource.JobsTotal, resource.Cluster)).To(BeTrue())
			Expect(l.Acquire(resource.JobsTotal, resource.Cluster)).To(BeFalse())
			Expect(l.InUse(resource.JobsTotal)).To(Equal(1))
			Expect(l.InUse(resource.Cluster)).To(Equal(1))
		})

		It("should release the same classes", func() {
			l := resource.NewLedger(map[resource.Class]int{
				resource.JobsTotal: 1,
				resource.Processes: 1,
			})

			Expect(l.Acquire(resource.JobsTotal, resource.Processes)).To(BeTrue())
			l.Release(resource.JobsTotal, resource.Processes)

			remaining, bounded := l.Remaining(resource.JobsTotal)
			Expect(bounded).To(BeTrue())
			Expect(remaining).To(Equal(1))
			remaining, _ = l.Remaining(resource.Processes)
			Expect(remaining).To(Equal(1))
		})
	})

	Describe("Accounting invariant", func() {
		// in_use + remaining == capacity must hold through an arbitrary
		// acquire/release interleaving.
		It("should keep in_use and remaining summing to capacity", func() {
			l := resource.NewLedger(map[resource.Class]int{resource.JobsTotal: 5})

			check := func() {
				remaining, bounded := l.Remaining(resource.JobsTotal)
				Expect(bounded).To(BeTrue())
				Expect(l.InUse(resource.JobsTotal) + remaining).To(Equal(5))
			}

			check()
			l.Acquire(resource.JobsTotal)
			check()
			l.AcquireN(resource.JobsTotal, 3)
			check()
			l.Release(resource.JobsTotal)
			check()
			l.ReleaseN(resource.JobsTotal, 3)
			check()
		})

		It("should never report negative usage on over-release", func() {
			l := resource.NewLedger(map[resource.Class]int{resource.Threads: 2})

			l.Release(resource.Threads)
			Expect(l.InUse(resource.Threads)).To(Equal(0))
		})
	})
})
