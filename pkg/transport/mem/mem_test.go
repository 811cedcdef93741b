package mem

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/JafarAbdi/zrm/pkg/api"
	"github.com/JafarAbdi/zrm/pkg/transport"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}

func TestPubSubOrder(t *testing.T) {
	bus := NewBus()
	tr := bus.Connect()
	defer tr.Close()

	var mu sync.Mutex
	var got []string
	sub, err := tr.Subscribe("zrm/0/topic/a", func(s transport.Sample) {
		mu.Lock()
		got = append(got, string(s.Payload))
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	for i := 0; i < 10; i++ {
		if err := tr.Publish("zrm/0/topic/a", []byte(fmt.Sprintf("m%d", i))); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(got) == 10 })
	mu.Lock()
	defer mu.Unlock()
	for i, m := range got {
		if m != fmt.Sprintf("m%d", i) {
			t.Fatalf("out of order at %d: %v", i, got)
		}
	}
}

func TestSubscribeWildcard(t *testing.T) {
	bus := NewBus()
	tr := bus.Connect()
	defer tr.Close()

	var mu sync.Mutex
	var keys []string
	if _, err := tr.Subscribe("zrm/0/**", func(s transport.Sample) {
		mu.Lock()
		keys = append(keys, s.Key)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = tr.Publish("zrm/0/topic/a", []byte("x"))
	_ = tr.Publish("zrm/1/topic/a", []byte("y"))
	_ = tr.Publish("zrm/0/action/f/feedback", []byte("z"))

	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(keys) == 2 })
	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(keys) != 2 {
		t.Fatalf("wildcard matched %d keys: %v", len(keys), keys)
	}
}

func TestQueryReply(t *testing.T) {
	bus := NewBus()
	tr := bus.Connect()
	defer tr.Close()

	q, err := tr.DeclareQueryable("zrm/0/service/echo", func(p []byte) ([]byte, error) {
		return append([]byte("re:"), p...), nil
	})
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	defer q.Close()

	rep, err := tr.Query("zrm/0/service/echo", []byte("hi"), time.Second)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if string(rep) != "re:hi" {
		t.Fatalf("reply = %q", rep)
	}
}

func TestQueryTimeoutNoQueryable(t *testing.T) {
	bus := NewBus()
	tr := bus.Connect()
	defer tr.Close()

	start := time.Now()
	_, err := tr.Query("zrm/0/service/none", nil, 20*time.Millisecond)
	if !errors.Is(err, api.ErrTimeout) {
		t.Fatalf("want ErrTimeout, got %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatalf("query returned before the window elapsed")
	}
}

func TestQueryTimeoutSlowHandler(t *testing.T) {
	bus := NewBus()
	tr := bus.Connect()
	defer tr.Close()

	_, _ = tr.DeclareQueryable("zrm/0/service/slow", func(p []byte) ([]byte, error) {
		time.Sleep(500 * time.Millisecond)
		return []byte("late"), nil
	})
	_, err := tr.Query("zrm/0/service/slow", nil, 10*time.Millisecond)
	if !errors.Is(err, api.ErrTimeout) {
		t.Fatalf("want ErrTimeout, got %v", err)
	}
}

func TestQueryHandlerError(t *testing.T) {
	bus := NewBus()
	tr := bus.Connect()
	defer tr.Close()

	_, _ = tr.DeclareQueryable("zrm/0/service/bad", func(p []byte) ([]byte, error) {
		return nil, errors.New("boom")
	})
	_, err := tr.Query("zrm/0/service/bad", nil, time.Second)
	var qe *api.QueryError
	if !errors.As(err, &qe) {
		t.Fatalf("want QueryError, got %v", err)
	}
	if qe.Message != "boom" {
		t.Fatalf("message = %q", qe.Message)
	}
}

func TestLiveliness(t *testing.T) {
	bus := NewBus()
	tr := bus.Connect()
	defer tr.Close()

	var mu sync.Mutex
	events := make(map[string]bool)
	sub, err := tr.LivelinessSubscribe("@zrm_lv/0/**", func(key string, alive bool) {
		mu.Lock()
		events[key] = alive
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("liveliness subscribe: %v", err)
	}
	defer sub.Close()

	tok, err := tr.LivelinessDeclare("@zrm_lv/0/zid/NN/node1")
	if err != nil {
		t.Fatalf("declare: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		alive, ok := events["@zrm_lv/0/zid/NN/node1"]
		return ok && alive
	})

	keys, err := tr.LivelinessQuery("@zrm_lv/0/**", time.Second)
	if err != nil {
		t.Fatalf("liveliness query: %v", err)
	}
	if len(keys) != 1 || keys[0] != "@zrm_lv/0/zid/NN/node1" {
		t.Fatalf("liveliness query = %v", keys)
	}

	_ = tok.Close()
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return !events["@zrm_lv/0/zid/NN/node1"]
	})
}

func TestConnCloseUndeclaresTokens(t *testing.T) {
	bus := NewBus()
	watcher := bus.Connect()
	defer watcher.Close()

	var mu sync.Mutex
	gone := false
	_, _ = watcher.LivelinessSubscribe("@zrm_lv/0/**", func(key string, alive bool) {
		mu.Lock()
		if !alive {
			gone = true
		}
		mu.Unlock()
	})

	tr := bus.Connect()
	if _, err := tr.LivelinessDeclare("@zrm_lv/0/zid/NN/doomed"); err != nil {
		t.Fatalf("declare: %v", err)
	}
	_ = tr.Close()
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return gone })

	// Close again: must be a no-op.
	if err := tr.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestSharedBusPerDomain(t *testing.T) {
	if Shared(40) != Shared(40) {
		t.Fatalf("same domain returned distinct buses")
	}
	if Shared(40) == Shared(41) {
		t.Fatalf("distinct domains share a bus")
	}
}
