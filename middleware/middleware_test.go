package middleware

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// 模拟一个简单的 handler：直接返回成功响应
func echoHandler(ctx context.Context, req *Request) (any, error) {
	return req.Value, nil
}

// 模拟一个慢 handler：睡 200ms
func slowHandler(ctx context.Context, req *Request) (any, error) {
	time.Sleep(200 * time.Millisecond)
	return "ok", nil
}

func TestLogging(t *testing.T) {
	handler := LoggingMiddleware(nil)(echoHandler)

	value, err := handler(context.Background(), &Request{ID: 1, Method: "echo", Value: "ok"})
	if err != nil {
		t.Fatal(err)
	}
	if value != "ok" {
		t.Fatalf("expect payload 'ok', got '%v'", value)
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	if _, err := handler(context.Background(), &Request{Method: "echo"}); err != nil {
		t.Fatalf("expect no error, got '%v'", err)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	_, err := handler(context.Background(), &Request{Method: "slow"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expect timeout error, got '%v'", err)
	}
	if err.Error() != "request timed out" {
		t.Fatalf("unexpected text %q", err.Error())
	}
}

func TestTimeoutRecoversPanic(t *testing.T) {
	handler := TimeOutMiddleware(time.Second)(func(ctx context.Context, req *Request) (any, error) {
		panic("boom")
	})

	_, err := handler(context.Background(), &Request{Method: "panic"})
	if err == nil || err.Error() != "panic: boom" {
		t.Fatalf("expect panic text, got '%v'", err)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2 → 前 2 个立刻放行，第 3 个被拒
	handler := RateLimitMiddleware(1, 2)(echoHandler)
	req := &Request{Method: "echo"}

	for i := 0; i < 2; i++ {
		if _, err := handler(context.Background(), req); err != nil {
			t.Fatalf("request %d should pass, got error: %v", i, err)
		}
	}

	if _, err := handler(context.Background(), req); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("request 3 should be rate limited, got: '%v'", err)
	}
}

func TestRetry(t *testing.T) {
	var calls int32
	flaky := func(ctx context.Context, req *Request) (any, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, errors.New("dial timeout")
		}
		return "ok", nil
	}

	value, err := RetryMiddleware(3, time.Millisecond)(flaky)(context.Background(), &Request{Method: "flaky"})
	if err != nil || value != "ok" {
		t.Fatalf("got %v, %v", value, err)
	}
	if calls != 3 {
		t.Fatalf("expect 3 attempts, got %d", calls)
	}
}

func TestRetrySkipsPermanentErrors(t *testing.T) {
	var calls int32
	broken := func(ctx context.Context, req *Request) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("bad input")
	}

	if _, err := RetryMiddleware(3, time.Millisecond)(broken)(context.Background(), &Request{}); err == nil {
		t.Fatal("expect error")
	}
	if calls != 1 {
		t.Fatalf("permanent error retried %d times", calls)
	}
}

func TestChain(t *testing.T) {
	var order []string
	trace := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *Request) (any, error) {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	handler := Chain(trace("a"), trace("b"), LoggingMiddleware(nil), TimeOutMiddleware(500*time.Millisecond))(echoHandler)
	value, err := handler(context.Background(), &Request{Method: "echo", Value: 1})
	if err != nil || value != 1 {
		t.Fatalf("got %v, %v", value, err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("unexpected order %v", order)
	}
}
