package circuitbreaker_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/tlsforward/internal/circuitbreaker"
)

var _ = Describe("Registry", func() {
	var registry *circuitbreaker.Registry

	BeforeEach(func() {
		registry = circuitbreaker.NewRegistry(5, 30*time.Second)
	})

	Describe("GetBreaker", func() {
		It("should create a new breaker for an unknown route", func() {
			cb := registry.GetBreaker("127.0.0.1:8080")
			Expect(cb).NotTo(BeNil())
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
		})

		It("should return the same breaker for the same route", func() {
			cb1 := registry.GetBreaker("127.0.0.1:8080")
			cb2 := registry.GetBreaker("127.0.0.1:8080")
			Expect(cb1).To(BeIdenticalTo(cb2))
		})

		It("should return different breakers for different routes", func() {
			cb1 := registry.GetBreaker("127.0.0.1:8080")
			cb2 := registry.GetBreaker("127.0.0.1:8081")
			Expect(cb1).NotTo(BeIdenticalTo(cb2))
		})

		It("should use registry threshold and timeout for new breakers", func() {
			registry = circuitbreaker.NewRegistry(2, 50*time.Millisecond)
			cb := registry.GetBreaker("127.0.0.1:8080")

			cb.RecordFailure()
			cb.RecordFailure()
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))

			time.Sleep(60 * time.Millisecond)
			Expect(cb.Allow()).To(BeTrue())
			Expect(cb.State()).To(Equal(circuitbreaker.StateHalfOpen))
		})

		It("should hand out disabled breakers when threshold is zero", func() {
			registry = circuitbreaker.NewRegistry(0, time.Second)
			Expect(registry.GetBreaker("127.0.0.1:8080").Enabled()).To(BeFalse())
		})
	})

	Describe("Concurrent access", func() {
		It("should handle concurrent GetBreaker calls safely", func() {
			const goroutines = 100

			var wg sync.WaitGroup
			wg.Add(goroutines)

			for i := 0; i < goroutines; i++ {
				go func() {
					defer wg.Done()
					for j := 0; j < 10; j++ {
						Expect(registry.GetBreaker("127.0.0.1:8080")).NotTo(BeNil())
					}
				}()
			}

			wg.Wait()
			Expect(registry.Stats()).To(HaveLen(1))
		})

		It("should handle concurrent operations on same breaker", func() {
			const goroutines = 50

			var wg sync.WaitGroup
			wg.Add(goroutines * 2)

			cb := registry.GetBreaker("127.0.0.1:8080")

			for i := 0; i < goroutines; i++ {
				go func() {
					defer wg.Done()
					cb.RecordFailure()
				}()
				go func() {
					defer wg.Done()
					cb.RecordSuccess()
				}()
			}

			wg.Wait()

			Expect(cb.State()).To(BeElementOf(
				circuitbreaker.StateClosed,
				circuitbreaker.StateOpen,
				circuitbreaker.StateHalfOpen,
			))
		})
	})

	Describe("Stats", func() {
		It("should return state of all breakers", func() {
			registry.GetBreaker("127.0.0.1:8080")
			cb2 := registry.GetBreaker("127.0.0.1:8081")

			for i := 0; i < 5; i++ {
				cb2.RecordFailure()
			}

			stats := registry.Stats()
			Expect(stats).To(HaveLen(2))
			Expect(stats["127.0.0.1:8080"]).To(Equal(circuitbreaker.StateClosed))
			Expect(stats["127.0.0.1:8081"]).To(Equal(circuitbreaker.StateOpen))
		})
	})
})
