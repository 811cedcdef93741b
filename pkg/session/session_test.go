package session

import (
	"sync"
	"testing"

	"github.com/JafarAbdi/zrm/pkg/config"
)

func TestInitIdempotent(t *testing.T) {
	t.Cleanup(func() { Shutdown() })
	cfg := config.Default()
	a, err := Init(cfg)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	b, err := Init(cfg)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if a != b {
		t.Fatal("second Init returned a different session")
	}
}

func TestGetConcurrent(t *testing.T) {
	t.Cleanup(func() { Shutdown() })
	if _, err := Init(config.Default()); err != nil {
		t.Fatalf("init: %v", err)
	}
	var wg sync.WaitGroup
	got := make([]*Session, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := Get()
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			got[i] = s
		}(i)
	}
	wg.Wait()
	for i := 1; i < len(got); i++ {
		if got[i] != got[0] {
			t.Fatal("Get returned different sessions")
		}
	}
}

func TestShutdownIdempotent(t *testing.T) {
	if _, err := Init(config.Default()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := Shutdown(); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestZIDUniquePerSession(t *testing.T) {
	a, err := New(config.Default())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()
	b, err := New(config.Default())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer b.Close()
	if a.ZID() == b.ZID() {
		t.Fatal("zids collide")
	}
	if len(a.ZID()) != 32 {
		t.Fatalf("zid %q", a.ZID())
	}
}
