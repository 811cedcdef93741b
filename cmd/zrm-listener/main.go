// zrm-listener prints every Pose2D published on robot/pose.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/JafarAbdi/zrm/pkg/config"
	"github.com/JafarAbdi/zrm/pkg/msgs"
	"github.com/JafarAbdi/zrm/pkg/node"
	"github.com/JafarAbdi/zrm/pkg/observability"
	"github.com/JafarAbdi/zrm/pkg/session"
	"github.com/JafarAbdi/zrm/pkg/topic"
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML config file")
	topicName := flag.String("topic", "robot/pose", "topic to listen on")
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

	n, err := node.New("listener")
	if err != nil {
		fatalf("node: %v", err)
	}
	defer n.Close()

	sub, err := topic.NewSubscriber(n, *topicName, func(pose msgs.Pose2D) {
		fmt.Printf("received x=%.3f y=%.3f theta=%.3f\n", pose.X, pose.Y, pose.Theta)
	})
	if err != nil {
		fatalf("subscriber: %v", err)
	}
	defer sub.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
