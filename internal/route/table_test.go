package route_test

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"multiproxy/internal/route"
	"multiproxy/internal/transport"
)

var _ = Describe("Table", func() {
	var table *route.Table

	BeforeEach(func() {
		var err error
		table, err = route.NewTable(map[string]string{
			"/api":    "http://localhost:9001",
			"/secure": "https://localhost:9443",
			"/v2":     "http://backend:8080/internal/v2?tenant=a",
		})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Resolve", func() {
		It("returns the target for an exact match", func() {
			target, ok := table.Resolve("/api")
			Expect(ok).To(BeTrue())
			Expect(target.Route).To(Equal("/api"))
			Expect(target.URL.Scheme).To(Equal("http"))
			Expect(target.URL.Host).To(Equal("localhost:9001"))
			Expect(target.Transport).To(Equal(transport.Plain))
		})

		It("selects the TLS transport for https targets", func() {
			target, ok := table.Resolve("/secure")
			Expect(ok).To(BeTrue())
			Expect(target.Transport).To(Equal(transport.TLS))
		})

		It("keeps the target path and query", func() {
			target, ok := table.Resolve("/v2")
			Expect(ok).To(BeTrue())
			Expect(target.URL.Path).To(Equal("/internal/v2"))
			Expect(target.URL.RawQuery).To(Equal("tenant=a"))
		})

		DescribeTable("does not match anything but the exact path",
			func(path string) {
				_, ok := table.Resolve(path)
				Expect(ok).To(BeFalse())
			},
			Entry("unknown path", "/unknown"),
			Entry("sub path", "/api/users"),
			Entry("trailing slash", "/api/"),
			Entry("prefix", "/ap"),
			Entry("different case", "/API"),
			Entry("root", "/"),
			Entry("empty", ""),
		)

		It("is safe for concurrent use", func() {
			var wg sync.WaitGroup
			for range 50 {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, ok := table.Resolve("/secure")
					Expect(ok).To(BeTrue())
				}()
			}
			wg.Wait()
		})
	})

	Describe("Paths", func() {
		It("lists routes in sorted order", func() {
			Expect(table.Len()).To(Equal(3))
			Expect(table.Paths()).To(Equal([]string{"/api", "/secure", "/v2"}))
		})
	})

	Describe("NewTable", func() {
		DescribeTable("rejects unusable backends",
			func(raw string) {
				_, err := route.NewTable(map[string]string{"/x": raw})
				Expect(err).To(MatchError(route.ErrInvalidTarget))
			},
			Entry("unsupported scheme", "ftp://files.example.com"),
			Entry("missing scheme", "localhost:9001"),
			Entry("missing host", "http:///path"),
			Entry("unparsable", "http://[::1"),
		)

		It("accepts an empty table", func() {
			t, err := route.NewTable(nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(t.Len()).To(BeZero())
			_, ok := t.Resolve("/api")
			Expect(ok).To(BeFalse())
		})
	})
})
