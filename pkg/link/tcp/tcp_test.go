package tcp_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/JafarAbdi/zrm/pkg/link/tcp"
)

func TestListenerCloseIdempotent(t *testing.T) {
	ln, err := tcp.New().Listen(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	// Concurrent closes race when ctx cancellation and an explicit Close
	// land together; none of them may panic.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ln.Close()
		}()
	}
	wg.Wait()
	_ = ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := ln.Accept(ctx); err == nil {
		t.Fatal("accept succeeded on a closed listener")
	}
}

func TestSendRecvRoundTrip(t *testing.T) {
	ln, err := tcp.New().Listen(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	dialed, err := tcp.New().Dial(context.Background(), ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer dialed.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	accepted, err := ln.Accept(ctx)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer accepted.Close()

	want := []byte("frame payload")
	if err := dialed.SendBytes(want); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := accepted.RecvBytes()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("frame %q", got)
	}
}
