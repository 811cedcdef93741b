// zrm-fib-client sends one Fibonacci goal, prints feedback as it streams,
// and cancels the goal on the first interrupt.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JafarAbdi/zrm/pkg/action"
	"github.com/JafarAbdi/zrm/pkg/api"
	"github.com/JafarAbdi/zrm/pkg/config"
	"github.com/JafarAbdi/zrm/pkg/msgs"
	"github.com/JafarAbdi/zrm/pkg/node"
	"github.com/JafarAbdi/zrm/pkg/observability"
	"github.com/JafarAbdi/zrm/pkg/session"
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML config file")
	name := flag.String("action", "fibonacci", "action name to call")
	order := flag.Int("order", 10, "sequence order to request")
	timeout := flag.Duration("timeout", 5*time.Minute, "result timeout")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		fatalf("setup logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if _, err := session.Init(cfg); err != nil {
		fatalf("session: %v", err)
	}
	defer session.Shutdown()

	n, err := node.New("fibonacci_client")
	if err != nil {
		fatalf("node: %v", err)
	}
	defer n.Close()

	client, err := action.NewClient[msgs.FibonacciGoal, msgs.FibonacciResult, msgs.FibonacciFeedback](n, *name)
	if err != nil {
		fatalf("action client: %v", err)
	}
	defer client.Close()

	fmt.Printf("sending goal: order=%d\n", *order)
	h, err := client.SendGoal(msgs.FibonacciGoal{Order: int32(*order)},
		action.WithFeedback(func(fb msgs.FibonacciFeedback) {
			fmt.Printf("feedback: %v\n", fb.PartialSequence)
		}))
	if err != nil {
		fatalf("send goal: %v", err)
	}
	if !h.Accepted() {
		fatalf("goal rejected")
	}
	fmt.Printf("goal accepted: %s\n", h.ID())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("canceling goal")
		h.Cancel()
	}()

	result, err := h.GetResult(*timeout)
	switch {
	case errors.Is(err, api.ErrTimeout):
		fatalf("no result within %s", *timeout)
	case err != nil:
		fatalf("goal failed: %v", err)
	}
	fmt.Printf("status: %s\n", h.Status())
	fmt.Printf("result: %v\n", result.Sequence)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
