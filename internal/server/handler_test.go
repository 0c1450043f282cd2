package server_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jzx17/gopool/internal/metrics"
	"github.com/jzx17/gopool/internal/server"
	"github.com/jzx17/gopool/pkg/types"
)

const helloBody = "<!DOCTYPE html>\n<html><body><h1>Hello!</h1></body></html>\n"

func writeResource(dir, body string) string {
	path := filepath.Join(dir, "hello.html")
	Expect(os.WriteFile(path, []byte(body), 0o600)).To(Succeed())
	return path
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time                  { return c.now }
func (c fixedClock) Since(t time.Time) time.Duration { return c.now.Sub(t) }

// exchange runs Handle on one end of a pipe and plays the client on the other
func exchange(h *server.ConnectionHandler, request string) (string, error) {
	client, srv := net.Pipe()
	defer client.Close()

	result := make(chan error, 1)
	go func() {
		result <- h.Handle(context.Background(), "conn-1", srv)
	}()

	go func() {
		// may fail once the handler closes its end early
		_, _ = client.Write([]byte(request))
	}()

	response, err := io.ReadAll(client)
	Expect(err).NotTo(HaveOccurred())

	var handleErr error
	Eventually(result).Should(Receive(&handleErr))
	return string(response), handleErr
}

var _ = Describe("ConnectionHandler", func() {
	var (
		dir      string
		resource string
		reg      *prometheus.Registry
		m        *metrics.Metrics
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		resource = writeResource(dir, helloBody)

		reg = prometheus.NewRegistry()
		var err error
		m, err = metrics.New(reg)
		Expect(err).NotTo(HaveOccurred())
	})

	newHandler := func(path string) *server.ConnectionHandler {
		return server.NewConnectionHandler(server.NewLoader(path), server.HandlerConfig{
			ReadTimeout:    time.Second,
			WriteTimeout:   time.Second,
			MaxHeaderLines: 10,
			Recorder:       m.Server,
		})
	}

	Context("with a well formed request", func() {
		// Given a handler serving an existing file
		// When a client sends a complete request head
		// Then the client receives a 200 response with the file as body
		It("should write the status line, Content-Length and body", func() {
			response, err := exchange(newHandler(resource), "GET / HTTP/1.1\r\nHost: localhost\r\nAccept: */*\r\n\r\n")

			Expect(err).NotTo(HaveOccurred())
			Expect(response).To(Equal(fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(helloBody), helloBody)))
			Expect(testutil.ToFloat64(m.Server.BytesWritten)).To(Equal(float64(len(response))))
		})

		It("should count Content-Length in bytes", func() {
			body := "héllo wörld"
			path := writeResource(GinkgoT().TempDir(), body)

			response, err := exchange(newHandler(path), "GET / HTTP/1.1\r\n\r\n")

			Expect(err).NotTo(HaveOccurred())
			Expect(response).To(HavePrefix("HTTP/1.1 200 OK\r\nContent-Length: 13\r\n\r\n"))
			Expect(response).To(HaveSuffix(body))
		})

		It("should serve the current file contents on every request", func() {
			h := newHandler(resource)

			first, err := exchange(h, "GET / HTTP/1.1\r\n\r\n")
			Expect(err).NotTo(HaveOccurred())
			Expect(first).To(HaveSuffix(helloBody))

			writeResource(dir, "updated")
			second, err := exchange(h, "GET / HTTP/1.1\r\n\r\n")
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(Equal("HTTP/1.1 200 OK\r\nContent-Length: 7\r\n\r\nupdated"))
		})
	})

	Context("with a malformed request", func() {
		DescribeTable("should answer 400 with an empty body and report a read error",
			func(request string) {
				response, err := exchange(newHandler(resource), request)

				Expect(response).To(Equal("HTTP/1.1 400 Bad Request\r\nContent-Length: 0\r\n\r\n"))
				Expect(err).To(MatchError(types.ErrMalformedRequest))

				var connErr *types.ConnectionError
				Expect(err).To(BeAssignableToTypeOf(connErr))
				Expect(err.(*types.ConnectionError).Op).To(Equal(server.OpRead))
				Expect(err.(*types.ConnectionError).ConnID).To(Equal("conn-1"))
				Expect(testutil.ToFloat64(m.Server.ConnectionErrors.WithLabelValues(server.OpRead))).To(Equal(float64(1)))
			},
			Entry("garbage request line", "garbage\r\n\r\n"),
			Entry("missing protocol", "GET /\r\n\r\n"),
			Entry("blank first line", "\r\n"),
			Entry("too many header lines", "GET / HTTP/1.1\r\n"+strings.Repeat("X-Pad: 1\r\n", 10)+"\r\n"),
			Entry("line too long", "GET /"+strings.Repeat("a", 10<<10)+" HTTP/1.1\r\n\r\n"),
		)

		It("should report an empty request when the client closes immediately", func() {
			client, srv := net.Pipe()
			Expect(client.Close()).To(Succeed())

			err := newHandler(resource).Handle(context.Background(), "conn-2", srv)

			Expect(err).To(MatchError(types.ErrMalformedRequest))
		})
	})

	Context("when the resource is missing", func() {
		// Given a handler pointing to a file that does not exist
		// When a client sends a valid request
		// Then it receives a 500 and the handler reports a load error
		It("should answer 500 with an empty body", func() {
			response, err := exchange(newHandler(filepath.Join(dir, "missing.html")), "GET / HTTP/1.1\r\n\r\n")

			Expect(response).To(Equal("HTTP/1.1 500 Internal Server Error\r\nContent-Length: 0\r\n\r\n"))
			Expect(err).To(MatchError(types.ErrResourceNotFound))
			Expect(err.(*types.ConnectionError).Op).To(Equal(server.OpLoad))
			Expect(testutil.ToFloat64(m.Server.ConnectionErrors.WithLabelValues(server.OpLoad))).To(Equal(float64(1)))
		})
	})

	Context("deadlines", func() {
		It("should take the read deadline from the configured clock", func() {
			h := server.NewConnectionHandler(server.NewLoader(resource), server.HandlerConfig{
				ReadTimeout: time.Second,
				Clock:       fixedClock{now: time.Now().Add(-time.Hour)},
			})

			client, srv := net.Pipe()
			defer client.Close()

			err := h.Handle(context.Background(), "conn-3", srv)

			Expect(err).To(MatchError(os.ErrDeadlineExceeded))
			Expect(err.(*types.ConnectionError).Op).To(Equal(server.OpRead))
		})
	})
})

var _ = Describe("Loader", func() {
	It("should return the file contents", func() {
		path := writeResource(GinkgoT().TempDir(), helloBody)
		loader := server.NewLoader(path)

		body, err := loader.Load()

		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(Equal(helloBody))
		Expect(loader.Path()).To(Equal(path))
	})

	It("should wrap ErrResourceNotFound for a missing file", func() {
		loader := server.NewLoader(filepath.Join(GinkgoT().TempDir(), "nope.html"))

		_, err := loader.Load()

		Expect(err).To(MatchError(types.ErrResourceNotFound))
	})

	It("should serve concurrent callers", func() {
		path := writeResource(GinkgoT().TempDir(), helloBody)
		loader := server.NewLoader(path)

		results := make(chan string, 16)
		for i := 0; i < cap(results); i++ {
			go func() {
				defer GinkgoRecover()
				body, err := loader.Load()
				Expect(err).NotTo(HaveOccurred())
				results <- string(body)
			}()
		}

		for i := 0; i < cap(results); i++ {
			Eventually(results).Should(Receive(Equal(helloBody)))
		}
	})
})
