package server_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jzx17/gopool/internal/metrics"
	"github.com/jzx17/gopool/internal/server"
	"github.com/jzx17/gopool/pkg/types"
	"github.com/jzx17/gopool/pkg/worker"
)

func get(addr string) (string, error) {
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("GET / HTTP/1.1\r\nHost: localhost\r\n\r\n")); err != nil {
		return "", err
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	response, err := io.ReadAll(conn)
	return string(response), err
}

var _ = Describe("Server", func() {
	var (
		pool    *worker.FixedWorkerPool
		m       *metrics.Metrics
		handler *server.ConnectionHandler
		srv     *server.Server
		ctx     context.Context
		cancel  context.CancelFunc
		served  chan error
	)

	BeforeEach(func() {
		var err error
		m, err = metrics.New(prometheus.NewRegistry())
		Expect(err).NotTo(HaveOccurred())

		pool, err = worker.NewFixedWorkerPool(&worker.FixedWorkerPoolConfig{
			PoolSize: 2,
			Observer: m.Pool,
		})
		Expect(err).NotTo(HaveOccurred())

		resource := writeResource(GinkgoT().TempDir(), helloBody)
		handler = server.NewConnectionHandler(server.NewLoader(resource), server.HandlerConfig{
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
			Recorder:     m.Server,
		})

		srv, err = server.NewServer(&server.ServerConfig{
			Address:  "127.0.0.1:0",
			Recorder: m.Server,
		}, pool, handler)
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel = context.WithCancel(context.Background())
		served = make(chan error, 1)
	})

	AfterEach(func() {
		cancel()
		_ = srv.Close()
		pool.Shutdown()
	})

	serve := func() {
		go func() {
			served <- srv.Serve(ctx)
		}()
	}

	It("should reject a missing pool or handler", func() {
		_, err := server.NewServer(&server.ServerConfig{Address: "127.0.0.1:0"}, nil, handler)
		Expect(err).To(HaveOccurred())

		_, err = server.NewServer(&server.ServerConfig{Address: "127.0.0.1:0"}, pool, nil)
		Expect(err).To(HaveOccurred())
	})

	It("should fail to bind an address in use", func() {
		_, err := server.NewServer(&server.ServerConfig{Address: srv.Addr().String()}, pool, handler)
		Expect(err).To(HaveOccurred())
	})

	// Given a running server backed by a pool of two workers
	// When more clients connect concurrently than there are workers
	// Then every client receives the full static response
	It("should serve concurrent connections through the pool", func() {
		serve()

		const clients = 10
		expected := fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(helloBody), helloBody)

		var wg sync.WaitGroup
		responses := make(chan string, clients)
		for i := 0; i < clients; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				response, err := get(srv.Addr().String())
				Expect(err).NotTo(HaveOccurred())
				responses <- response
			}()
		}
		wg.Wait()
		close(responses)

		for response := range responses {
			Expect(response).To(Equal(expected))
		}

		Expect(testutil.ToFloat64(m.Server.ConnectionsAccepted)).To(Equal(float64(clients)))
		Eventually(func() int64 {
			return pool.Stats().TotalCompleted
		}).Should(Equal(int64(clients)))
		Expect(testutil.ToFloat64(m.Pool.JobsSubmitted)).To(Equal(float64(clients)))
	})

	It("should stop accepting when the context is cancelled", func() {
		serve()
		_, err := get(srv.Addr().String())
		Expect(err).NotTo(HaveOccurred())

		cancel()

		Eventually(served).Should(Receive(BeNil()))
		_, err = net.DialTimeout("tcp", srv.Addr().String(), 100*time.Millisecond)
		Expect(err).To(HaveOccurred())
	})

	It("should return nil from Serve after Close", func() {
		serve()

		Expect(srv.Close()).To(Succeed())
		Expect(srv.Close()).To(Succeed())

		Eventually(served).Should(Receive(BeNil()))
	})

	It("should stop with ErrPoolClosed when the pool shuts down first", func() {
		pool.Shutdown()
		serve()

		conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		var serveErr error
		Eventually(served).Should(Receive(&serveErr))
		Expect(serveErr).To(MatchError(types.ErrPoolClosed))

		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		buf := make([]byte, 1)
		_, err = conn.Read(buf)
		Expect(err).To(HaveOccurred(), "the connection is closed without a response")
		Expect(testutil.ToFloat64(m.Pool.JobsRejected)).To(Equal(float64(1)))
	})

	It("should keep serving after a connection fails", func() {
		serve()

		conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
		Expect(err).NotTo(HaveOccurred())
		_, err = conn.Write([]byte("nonsense\r\n\r\n"))
		Expect(err).NotTo(HaveOccurred())
		bad, err := io.ReadAll(conn)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(bad)).To(HavePrefix("HTTP/1.1 400 Bad Request"))
		conn.Close()

		response, err := get(srv.Addr().String())
		Expect(err).NotTo(HaveOccurred())
		Expect(response).To(HavePrefix("HTTP/1.1 200 OK"))

		Eventually(func() float64 {
			return testutil.ToFloat64(m.Server.ConnectionErrors.WithLabelValues(server.OpRead))
		}).Should(Equal(float64(1)))
		Expect(pool.Size()).To(Equal(2))
	})
})
