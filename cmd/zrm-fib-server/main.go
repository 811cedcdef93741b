// zrm-fib-server computes Fibonacci sequences as an action, streaming the
// growing sequence as feedback and honoring mid-run cancellation.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JafarAbdi/zrm/pkg/action"
	"github.com/JafarAbdi/zrm/pkg/config"
	"github.com/JafarAbdi/zrm/pkg/msgs"
	"github.com/JafarAbdi/zrm/pkg/node"
	"github.com/JafarAbdi/zrm/pkg/observability"
	"github.com/JafarAbdi/zrm/pkg/session"
)

type fibHandle = action.ServerGoalHandle[msgs.FibonacciGoal, msgs.FibonacciResult, msgs.FibonacciFeedback]

func execute(step time.Duration) func(h *fibHandle) {
	return func(h *fibHandle) {
		if err := h.Execute(); err != nil {
			h.Abort(err)
			return
		}
		order := int(h.Goal().Order)
		fmt.Printf("executing goal %s: order=%d\n", h.GoalID(), order)
		if order <= 0 {
			h.Abort(errors.New("order must be positive"))
			return
		}
		seq := []int64{0, 1}
		if order < 2 {
			seq = seq[:order]
		}
		h.PublishFeedback(msgs.FibonacciFeedback{PartialSequence: append([]int64(nil), seq...)})
		for len(seq) < order {
			if h.CancelRequested() {
				fmt.Printf("goal %s canceled at %v\n", h.GoalID(), seq)
				h.Canceled(msgs.FibonacciResult{Sequence: seq})
				return
			}
			seq = append(seq, seq[len(seq)-1]+seq[len(seq)-2])
			h.PublishFeedback(msgs.FibonacciFeedback{PartialSequence: append([]int64(nil), seq...)})
			fmt.Printf("  feedback: %v\n", seq)
			time.Sleep(step)
		}
		h.Succeed(msgs.FibonacciResult{Sequence: seq})
		fmt.Printf("goal %s succeeded: %v\n", h.GoalID(), seq)
	}
}

func main() {
	cfgPath := flag.String("config", "", "Path to YAML config file")
	name := flag.String("action", "fibonacci", "action name to serve")
	step := flag.Duration("step", time.Second, "delay between sequence steps")
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

	n, err := node.New("fibonacci_server")
	if err != nil {
		fatalf("node: %v", err)
	}
	defer n.Close()

	srv, err := action.NewServer(n, *name, execute(*step))
	if err != nil {
		fatalf("action server: %v", err)
	}
	defer srv.Close()
	zap.L().Info("fibonacci action server ready", zap.String("action", *name))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
