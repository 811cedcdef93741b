package topic_test

import (
	"sync"
	"testing"
	"time"

	"github.com/JafarAbdi/zrm/pkg/config"
	"github.com/JafarAbdi/zrm/pkg/graph"
	"github.com/JafarAbdi/zrm/pkg/msgs"
	"github.com/JafarAbdi/zrm/pkg/node"
	"github.com/JafarAbdi/zrm/pkg/session"
	"github.com/JafarAbdi/zrm/pkg/topic"
)

func newNode(t *testing.T, name string) *node.Node {
	t.Helper()
	sess, err := session.New(config.Default())
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	n, err := node.New(name, node.WithSession(sess))
	if err != nil {
		t.Fatalf("node: %v", err)
	}
	t.Cleanup(func() { n.Close(); sess.Close() })
	return n
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestLatestEmpty(t *testing.T) {
	n := newNode(t, "test_node")
	sub, err := topic.NewSubscriber[msgs.Pose](n, "test/topic", nil)
	if err != nil {
		t.Fatalf("subscriber: %v", err)
	}
	if _, ok := sub.Latest(); ok {
		t.Fatal("latest should be empty before any publish")
	}
}

func TestPublishReceive(t *testing.T) {
	n := newNode(t, "test_node")
	sub, err := topic.NewSubscriber[msgs.Pose](n, "test/topic", nil)
	if err != nil {
		t.Fatalf("subscriber: %v", err)
	}
	pub, err := topic.NewPublisher[msgs.Pose](n, "test/topic")
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}

	msg := msgs.Pose{
		Position:    msgs.Point{X: 1, Y: 2, Z: 3},
		Orientation: msgs.Quaternion{W: 1},
	}
	if err := pub.Publish(msg); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, func() bool { _, ok := sub.Latest(); return ok })
	got, _ := sub.Latest()
	if got != msg {
		t.Fatalf("got %+v", got)
	}
}

func TestLatestTracksMostRecent(t *testing.T) {
	n := newNode(t, "test_node")
	sub, err := topic.NewSubscriber[msgs.Pose](n, "test/topic", nil)
	if err != nil {
		t.Fatalf("subscriber: %v", err)
	}
	pub, err := topic.NewPublisher[msgs.Pose](n, "test/topic")
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := pub.Publish(msgs.Pose{Position: msgs.Point{X: float64(i)}}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	waitFor(t, func() bool {
		got, ok := sub.Latest()
		return ok && got.Position.X == 4
	})
}

func TestCallbackSeesEveryMessageInOrder(t *testing.T) {
	n := newNode(t, "test_node")
	var mu sync.Mutex
	var got []float64
	sub, err := topic.NewSubscriber[msgs.Pose](n, "test/topic", func(m msgs.Pose) {
		mu.Lock()
		got = append(got, m.Position.X)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscriber: %v", err)
	}
	defer sub.Close()
	pub, err := topic.NewPublisher[msgs.Pose](n, "test/topic")
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	for i := 0; i < 10; i++ {
		if err := pub.Publish(msgs.Pose{Position: msgs.Point{X: float64(i)}}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(got) == 10 })
	mu.Lock()
	defer mu.Unlock()
	for i, x := range got {
		if x != float64(i) {
			t.Fatalf("out of order at %d: %v", i, got)
		}
	}
}

func TestSchemaMismatchDropped(t *testing.T) {
	n := newNode(t, "test_node")
	sub, err := topic.NewSubscriber[msgs.Pose](n, "test/topic", nil)
	if err != nil {
		t.Fatalf("subscriber: %v", err)
	}
	pub, err := topic.NewPublisher[msgs.Point](n, "test/topic")
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	if err := pub.Publish(msgs.Point{X: 1, Y: 2, Z: 3}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if _, ok := sub.Latest(); ok {
		t.Fatal("mismatched message should have been dropped")
	}
}

func TestLatestConcurrentReads(t *testing.T) {
	n := newNode(t, "test_node")
	sub, err := topic.NewSubscriber[msgs.Pose](n, "test/topic", nil)
	if err != nil {
		t.Fatalf("subscriber: %v", err)
	}
	pub, err := topic.NewPublisher[msgs.Pose](n, "test/topic")
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					sub.Latest()
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		if err := pub.Publish(msgs.Pose{Position: msgs.Point{X: float64(i)}}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	close(stop)
	wg.Wait()
}

func TestEndpointsAnnouncedInGraph(t *testing.T) {
	n := newNode(t, "test_node")
	g, err := n.Graph()
	if err != nil {
		t.Fatalf("graph: %v", err)
	}

	if _, err := topic.NewPublisher[msgs.Pose](n, "robot/pose"); err != nil {
		t.Fatalf("publisher: %v", err)
	}
	if _, err := topic.NewSubscriber[msgs.Pose](n, "robot/pose", nil); err != nil {
		t.Fatalf("subscriber: %v", err)
	}

	waitFor(t, func() bool {
		np, err1 := g.Count(graph.KindPublisher, "robot/pose")
		ns, err2 := g.Count(graph.KindSubscriber, "robot/pose")
		return err1 == nil && err2 == nil && np == 1 && ns == 1
	})
	topics := g.TopicNamesAndTypes()
	if topics["robot/pose"] != "github.com/JafarAbdi/zrm/pkg/msgs.Pose" {
		t.Fatalf("topics %v", topics)
	}
}

func TestNodeCloseClosesEndpoints(t *testing.T) {
	sess, err := session.New(config.Default())
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	defer sess.Close()
	n, err := node.New("short_lived", node.WithSession(sess))
	if err != nil {
		t.Fatalf("node: %v", err)
	}
	pub, err := topic.NewPublisher[msgs.Pose](n, "t")
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Closing again through the endpoint handle stays a no-op.
	if err := pub.Close(); err != nil {
		t.Fatalf("pub close: %v", err)
	}
}
