package graph

import "testing"

func TestNodeEntityKey(t *testing.T) {
	n := NodeEntity{Domain: 0, ZID: "abc123", Name: "robot_controller"}
	if got := n.LivelinessKey(); got != "@zrm_lv/0/abc123/NN/robot_controller" {
		t.Fatalf("key %q", got)
	}
}

func TestNodeEntityKeyMangledSlash(t *testing.T) {
	n := NodeEntity{Domain: 0, ZID: "abc123", Name: "robot/controller"}
	if got := n.LivelinessKey(); got != "@zrm_lv/0/abc123/NN/robot%controller" {
		t.Fatalf("key %q", got)
	}
}

func TestEndpointEntityKey(t *testing.T) {
	e := EndpointEntity{
		Node:     NodeEntity{Domain: 0, ZID: "abc123", Name: "test_node"},
		Kind:     KindPublisher,
		Name:     "robot/pose",
		TypeName: "geometry.Pose",
	}
	if got := e.LivelinessKey(); got != "@zrm_lv/0/abc123/MP/test_node/robot%pose/geometry.Pose" {
		t.Fatalf("key %q", got)
	}
}

func TestEndpointEntityKeyAllMangled(t *testing.T) {
	e := EndpointEntity{
		Node:     NodeEntity{Domain: 0, ZID: "abc123", Name: "ns/node"},
		Kind:     KindSubscriber,
		Name:     "robot/status/pose",
		TypeName: "geometry/msgs/Pose",
	}
	if got := e.LivelinessKey(); got != "@zrm_lv/0/abc123/MS/ns%node/robot%status%pose/geometry%msgs%Pose" {
		t.Fatalf("key %q", got)
	}
}

func TestEndpointEntityKeyNoType(t *testing.T) {
	e := EndpointEntity{
		Node: NodeEntity{Domain: 0, ZID: "abc123", Name: "test_node"},
		Kind: KindPublisher,
		Name: "robot/pose",
	}
	if got := e.LivelinessKey(); got != "@zrm_lv/0/abc123/MP/test_node/robot%pose/EMPTY" {
		t.Fatalf("key %q", got)
	}
}

func TestParseNode(t *testing.T) {
	ent, err := ParseLiveliness("@zrm_lv/0/abc123/NN/robot%controller")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ent == nil || ent.Node == nil {
		t.Fatal("want node entity")
	}
	if ent.Kind() != KindNode {
		t.Fatalf("kind %s", ent.Kind())
	}
	if ent.Node.Name != "robot/controller" || ent.Node.ZID != "abc123" || ent.Node.Domain != 0 {
		t.Fatalf("node %+v", ent.Node)
	}
}

func TestParseEndpoints(t *testing.T) {
	cases := []struct {
		key  string
		kind EntityKind
		name string
		typ  string
	}{
		{"@zrm_lv/0/abc123/MP/test_node/robot%pose/geometry.Pose", KindPublisher, "robot/pose", "geometry.Pose"},
		{"@zrm_lv/0/abc123/MS/test_node/sensor%data/sensor.LaserScan", KindSubscriber, "sensor/data", "sensor.LaserScan"},
		{"@zrm_lv/0/abc123/SS/test_node/compute_path/nav.ComputePath", KindService, "compute_path", "nav.ComputePath"},
		{"@zrm_lv/0/abc123/SC/test_node/compute_path/nav.ComputePath", KindClient, "compute_path", "nav.ComputePath"},
	}
	for _, tc := range cases {
		ent, err := ParseLiveliness(tc.key)
		if err != nil {
			t.Fatalf("%s: %v", tc.key, err)
		}
		if ent == nil || ent.Endpoint == nil {
			t.Fatalf("%s: want endpoint", tc.key)
		}
		ep := ent.Endpoint
		if ep.Kind != tc.kind || ep.Name != tc.name || ep.TypeName != tc.typ {
			t.Fatalf("%s: %+v", tc.key, ep)
		}
		if ep.Node.Name != "test_node" {
			t.Fatalf("%s: node %q", tc.key, ep.Node.Name)
		}
	}
}

func TestParseEmptyType(t *testing.T) {
	ent, err := ParseLiveliness("@zrm_lv/0/abc123/MP/test_node/robot%pose/EMPTY")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ent.Endpoint.TypeName != "" {
		t.Fatalf("type %q", ent.Endpoint.TypeName)
	}
}

func TestParseTooShort(t *testing.T) {
	if _, err := ParseLiveliness("@zrm_lv/0/abc123"); err == nil {
		t.Fatal("want error for short key")
	}
}

func TestParseWrongAdminSpace(t *testing.T) {
	if _, err := ParseLiveliness("@wrong/0/abc123/NN/test_node"); err == nil {
		t.Fatal("want error for wrong admin space")
	}
}

func TestParseTruncatedEndpoint(t *testing.T) {
	ent, err := ParseLiveliness("@zrm_lv/0/abc123/MP/test_node")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ent != nil {
		t.Fatalf("want nil, got %+v", ent)
	}
}

func TestParseUnknownKind(t *testing.T) {
	ent, err := ParseLiveliness("@zrm_lv/0/abc123/XX/test_node")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ent != nil {
		t.Fatalf("want nil, got %+v", ent)
	}
}

func TestRoundtripNode(t *testing.T) {
	n := NodeEntity{Domain: 5, ZID: "xyz789", Name: "test/node"}
	ent, err := ParseLiveliness(n.LivelinessKey())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if *ent.Node != n {
		t.Fatalf("roundtrip %+v", ent.Node)
	}
}

func TestRoundtripEndpoint(t *testing.T) {
	e := EndpointEntity{
		Node:     NodeEntity{Domain: 5, ZID: "xyz789", Name: "test/node"},
		Kind:     KindSubscriber,
		Name:     "robot/sensors/lidar",
		TypeName: "sensor/msgs/LaserScan",
	}
	ent, err := ParseLiveliness(e.LivelinessKey())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if *ent.Endpoint != e {
		t.Fatalf("roundtrip %+v", ent.Endpoint)
	}
}
