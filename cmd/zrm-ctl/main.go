// zrm-ctl inspects a running zrm domain: list nodes, topics and services,
// echo a topic, or call a service with a JSON payload.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JafarAbdi/zrm/pkg/api"
	"github.com/JafarAbdi/zrm/pkg/codec"
	"github.com/JafarAbdi/zrm/pkg/config"
	"github.com/JafarAbdi/zrm/pkg/graph"
	"github.com/JafarAbdi/zrm/pkg/keyexpr"
	"github.com/JafarAbdi/zrm/pkg/node"
	"github.com/JafarAbdi/zrm/pkg/session"
	"github.com/JafarAbdi/zrm/pkg/transport"
)

// wire envelopes mirrored from pkg/topic and pkg/service. ctl speaks them
// untyped, converting between JSON at the edge and CBOR on the wire.
type topicSample struct {
	Schema string `cbor:"schema"`
	Data   []byte `cbor:"data"`
}

type serviceRequest struct {
	Schema string `cbor:"schema"`
	Data   []byte `cbor:"data"`
}

type serviceReply struct {
	OK     bool   `cbor:"ok"`
	Error  string `cbor:"error,omitempty"`
	Schema string `cbor:"schema,omitempty"`
	Data   []byte `cbor:"data,omitempty"`
}

func main() {
	cfgPath := flag.String("config", "", "Path to YAML config file")
	timeout := flag.Duration("timeout", 2*time.Second, "query timeout")
	schema := flag.String("schema", "", "request schema name for call")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			"usage: zrm-ctl [flags] nodes|topics|services|echo <topic>|call <service> <json>\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	// ctl output is for pipes; keep the logger quiet.
	zap.ReplaceGlobals(zap.NewNop())

	sess, err := session.New(cfg)
	if err != nil {
		fatalf("session: %v", err)
	}
	defer sess.Close()
	n, err := node.New("zrm_ctl", node.WithSession(sess))
	if err != nil {
		fatalf("node: %v", err)
	}
	defer n.Close()

	switch flag.Arg(0) {
	case "nodes":
		g := mustGraph(n)
		names := g.NodeNames()
		sort.Strings(names)
		for _, name := range names {
			fmt.Println(name)
		}
	case "topics":
		g := mustGraph(n)
		printNamesAndTypes(g.TopicNamesAndTypes())
	case "services":
		g := mustGraph(n)
		printNamesAndTypes(g.ServiceNamesAndTypes())
	case "echo":
		if flag.NArg() < 2 {
			fatalf("echo needs a topic name")
		}
		echo(sess, flag.Arg(1))
	case "call":
		if flag.NArg() < 3 {
			fatalf("call needs a service name and a JSON payload")
		}
		call(sess, flag.Arg(1), flag.Arg(2), *schema, *timeout)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func mustGraph(n *node.Node) *graph.Graph {
	g, err := n.Graph()
	if err != nil {
		fatalf("graph: %v", err)
	}
	// Give announcements a moment to arrive over the wire.
	time.Sleep(200 * time.Millisecond)
	return g
}

func printNamesAndTypes(m map[string]string) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		typ := m[name]
		if typ == "" {
			typ = "<unknown>"
		}
		fmt.Printf("%s [%s]\n", name, typ)
	}
}

// echo prints every sample on a topic as JSON until interrupted.
func echo(sess *session.Session, topicName string) {
	reg := codec.NewRegistry()
	jsonCodec := reg.Get("application/json")
	sub, err := sess.Transport().Subscribe(keyexpr.Topic(sess.Domain(), topicName), func(smp transport.Sample) {
		var env topicSample
		if err := codec.Default().Unmarshal(smp.Payload, &env); err != nil {
			fmt.Fprintf(os.Stderr, "bad sample: %v\n", err)
			return
		}
		var v any
		if err := codec.Default().Unmarshal(env.Data, &v); err != nil {
			fmt.Fprintf(os.Stderr, "bad payload: %v\n", err)
			return
		}
		out, err := jsonCodec.Marshal(v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "encode: %v\n", err)
			return
		}
		fmt.Printf("[%s] %s\n", env.Schema, out)
	})
	if err != nil {
		fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}

// call sends one service request built from a JSON payload.
func call(sess *session.Session, serviceName, jsonPayload, schema string, timeout time.Duration) {
	reg := codec.NewRegistry()
	jsonCodec := reg.Get("application/json")
	var v any
	if err := jsonCodec.Unmarshal([]byte(jsonPayload), &v); err != nil {
		fatalf("parse payload: %v", err)
	}
	data, err := codec.Default().Marshal(v)
	if err != nil {
		fatalf("encode payload: %v", err)
	}
	payload, err := codec.Default().Marshal(serviceRequest{Schema: schema, Data: data})
	if err != nil {
		fatalf("encode request: %v", err)
	}

	raw, err := sess.Transport().Query(keyexpr.Service(sess.Domain(), serviceName), payload, timeout)
	if err != nil {
		if err == api.ErrTimeout {
			fatalf("no reply from %s within %s", serviceName, timeout)
		}
		fatalf("call: %v", err)
	}
	var rep serviceReply
	if err := codec.Default().Unmarshal(raw, &rep); err != nil {
		fatalf("bad reply: %v", err)
	}
	if !rep.OK {
		fatalf("service error: %s", rep.Error)
	}
	var out any
	if err := codec.Default().Unmarshal(rep.Data, &out); err != nil {
		fatalf("bad reply payload: %v", err)
	}
	text, err := jsonCodec.Marshal(out)
	if err != nil {
		fatalf("encode reply: %v", err)
	}
	fmt.Printf("[%s] %s\n", rep.Schema, text)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
