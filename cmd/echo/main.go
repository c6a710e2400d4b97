// Command echo runs a server and a client in one process and exchanges a few
// calls over a real TCP connection.
//
//	go run ./cmd/echo -n 5
//	go run ./cmd/echo -etcd 127.0.0.1:2379
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"mux-rpc/client"
	"mux-rpc/codec"
	"mux-rpc/loadbalance"
	"mux-rpc/logfmt"
	"mux-rpc/middleware"
	"mux-rpc/registry"
	"mux-rpc/rpc"
	"mux-rpc/server"
)

func init() {
	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(logrus.InfoLevel)
	logrus.SetFormatter(&logfmt.Formatter{})
}

type Args struct {
	Num1, Num2 int
}

type Foo struct{}

func (f *Foo) Sum(args *Args, reply *int) error {
	*reply = args.Num1 + args.Num2
	return nil
}

func (f *Foo) Sleep(ctx context.Context, args *Args, reply *int) error {
	select {
	case <-time.After(time.Duration(args.Num1) * 100 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	*reply = args.Num1 + args.Num2
	return nil
}

func newRegistry(endpoints string) (registry.Registry, error) {
	if endpoints == "" {
		return registry.NewMemoryRegistry(), nil
	}
	return registry.NewEtcdRegistry(strings.Split(endpoints, ","))
}

func startServer(reg registry.Registry) (*server.Server, error) {
	svr := server.NewServer(server.WithName("echo"))
	svr.Use(middleware.LoggingMiddleware(logrus.StandardLogger()))
	svr.Use(middleware.TimeOutMiddleware(2 * time.Second))
	svr.Use(middleware.RateLimitMiddleware(1000, 100))
	if err := svr.Register(&Foo{}); err != nil {
		return nil, err
	}
	svr.Handle("echo", func(ctx context.Context, v any) (any, error) {
		return v, nil
	}, rpc.WithValueEncoding(codec.String))
	svr.Handle("log", func(ctx context.Context, v any) (any, error) {
		logrus.Infof("event from client: %s", v)
		return nil, nil
	}, rpc.WithValueEncoding(codec.String))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	go func() {
		if err := svr.ServeListener(listener, "", reg); err != nil {
			logrus.WithError(err).Error("serve failed")
		}
	}()
	return svr, nil
}

func main() {
	n := flag.Int("n", 3, "number of echo calls")
	endpoints := flag.String("etcd", "", "comma separated etcd endpoints, in-memory registry if empty")
	flag.Parse()

	reg, err := newRegistry(*endpoints)
	if err != nil {
		logrus.Fatalf("registry: %v", err)
	}
	svr, err := startServer(reg)
	if err != nil {
		logrus.Fatalf("server: %v", err)
	}
	// Wait for the advertisement to land.
	time.Sleep(100 * time.Millisecond)

	cli, err := client.NewClient(client.Config{
		Protocol: "echo",
		Registry: reg,
		Balancer: &loadbalance.RoundRobinBalancer{},
	})
	if err != nil {
		logrus.Fatalf("client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := 0; i < *n; i++ {
		v, err := cli.Call(ctx, "echo", strings.Repeat("hi ", i+1), rpc.WithValueEncoding(codec.String))
		if err != nil {
			logrus.Errorf("echo: %v", err)
			continue
		}
		logrus.Infof("echo reply: %q", v)
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := cli.Call(ctx, "Foo.Sleep", &Args{Num1: i, Num2: i * i},
				rpc.WithRequestEncoding(codec.JSON), rpc.WithResponseEncoding(codec.JSONOf[int]()))
			if err != nil {
				logrus.Errorf("Foo.Sleep: %v", err)
				return
			}
			logrus.Infof("Foo.Sleep(%d, %d) = %d", i, i*i, v)
		}(i)
	}
	wg.Wait()

	if err := cli.Emit(ctx, "log", "bye", rpc.WithValueEncoding(codec.String)); err != nil {
		logrus.Errorf("log: %v", err)
	}
	if replies, err := cli.Broadcast(ctx, "echo", "all", rpc.WithValueEncoding(codec.String)); err != nil {
		logrus.Errorf("broadcast: %v", err)
	} else {
		logrus.Infof("broadcast replies: %v", replies)
	}

	if err := cli.Close(ctx); err != nil {
		logrus.Errorf("client close: %v", err)
	}
	if err := svr.Shutdown(ctx); err != nil {
		logrus.Errorf("server shutdown: %v", err)
	}
}
