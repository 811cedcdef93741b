// zrm-talker publishes a Pose2D on robot/pose once a second.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JafarAbdi/zrm/pkg/config"
	"github.com/JafarAbdi/zrm/pkg/msgs"
	"github.com/JafarAbdi/zrm/pkg/node"
	"github.com/JafarAbdi/zrm/pkg/observability"
	"github.com/JafarAbdi/zrm/pkg/session"
	"github.com/JafarAbdi/zrm/pkg/topic"
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML config file")
	topicName := flag.String("topic", "robot/pose", "topic to publish on")
	period := flag.Duration("period", time.Second, "publish period")
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

	n, err := node.New("talker")
	if err != nil {
		fatalf("node: %v", err)
	}
	defer n.Close()
	pub, err := topic.NewPublisher[msgs.Pose2D](n, *topicName)
	if err != nil {
		fatalf("publisher: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	tick := time.NewTicker(*period)
	defer tick.Stop()

	t0 := time.Now()
	for {
		select {
		case <-sig:
			return
		case now := <-tick.C:
			elapsed := now.Sub(t0).Seconds()
			pose := msgs.Pose2D{
				X:     math.Cos(elapsed / 5),
				Y:     math.Sin(elapsed / 5),
				Theta: math.Mod(elapsed/5, 2*math.Pi),
			}
			if err := pub.Publish(pose); err != nil {
				zap.L().Warn("publish failed", zap.Error(err))
				continue
			}
			fmt.Printf("published x=%.3f y=%.3f theta=%.3f\n", pose.X, pose.Y, pose.Theta)
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
