package keyexpr

import "testing"

func TestKeys(t *testing.T) {
	if got := Topic(0, "robot/pose"); got != "zrm/0/topic/robot/pose" {
		t.Fatalf("topic key = %q", got)
	}
	if got := Service(3, "add_two_ints"); got != "zrm/3/service/add_two_ints" {
		t.Fatalf("service key = %q", got)
	}
	if got := ActionGoal(0, "fibonacci"); got != "zrm/0/action/fibonacci/goal" {
		t.Fatalf("goal key = %q", got)
	}
	if got := ActionFeedback(0, "fibonacci"); got != "zrm/0/action/fibonacci/feedback" {
		t.Fatalf("feedback key = %q", got)
	}
	if got := LivelinessAll(7); got != "@zrm_lv/7/**" {
		t.Fatalf("liveliness selector = %q", got)
	}
}

func TestMatches(t *testing.T) {
	cases := []struct {
		sel, key string
		want     bool
	}{
		{"zrm/0/topic/a", "zrm/0/topic/a", true},
		{"zrm/0/topic/a", "zrm/0/topic/b", false},
		{"zrm/0/topic/*", "zrm/0/topic/a", true},
		{"zrm/0/topic/*", "zrm/0/topic/a/b", false},
		{"zrm/0/**", "zrm/0/topic/a/b", true},
		{"zrm/0/**", "zrm/1/topic/a", false},
		{"@zrm_lv/0/**", "@zrm_lv/0/abc/NN/node1", true},
		{"@zrm_lv/1/**", "@zrm_lv/0/abc/NN/node1", false},
		{"zrm/0/**/feedback", "zrm/0/action/fib/feedback", true},
		{"zrm/0/**/feedback", "zrm/0/action/fib/goal", false},
		{"**", "anything/at/all", true},
		{"*", "one", true},
		{"*", "two/segments", false},
		{"a/**/b", "a/b", true},
		{"a/**/b", "a/x/y/b", true},
		{"a/**/b", "a/x/y", false},
	}
	for _, tc := range cases {
		if got := Matches(tc.sel, tc.key); got != tc.want {
			t.Fatalf("Matches(%q, %q) = %v, want %v", tc.sel, tc.key, got, tc.want)
		}
	}
}
