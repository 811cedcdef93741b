// Package keyexpr builds and matches the key expressions zrm uses on the
// transport: topic/service/action keys under zrm/<domain>/... and liveliness
// keys under @zrm_lv/<domain>/....
//
// Selectors support two wildcards, one segment (*) and any number of
// segments (**). Matching is symmetric in the sense that the selector side
// carries the wildcards and the key side is always concrete.
package keyexpr

import (
	"fmt"
	"strings"
)

// LivelinessPrefix is the admin space for liveliness tokens.
const LivelinessPrefix = "@zrm_lv"

// Topic returns the transport key for a topic in a domain.
func Topic(domain int, name string) string {
	return fmt.Sprintf("zrm/%d/topic/%s", domain, name)
}

// Service returns the transport selector for a service in a domain.
func Service(domain int, name string) string {
	return fmt.Sprintf("zrm/%d/service/%s", domain, name)
}

// ActionGoal, ActionCancel and ActionResult are the three query/reply
// channels of an action; ActionFeedback is its publish topic.
func ActionGoal(domain int, name string) string {
	return fmt.Sprintf("zrm/%d/action/%s/goal", domain, name)
}

func ActionCancel(domain int, name string) string {
	return fmt.Sprintf("zrm/%d/action/%s/cancel", domain, name)
}

func ActionResult(domain int, name string) string {
	return fmt.Sprintf("zrm/%d/action/%s/result", domain, name)
}

func ActionFeedback(domain int, name string) string {
	return fmt.Sprintf("zrm/%d/action/%s/feedback", domain, name)
}

// LivelinessAll selects every liveliness token in a domain.
func LivelinessAll(domain int) string {
	return fmt.Sprintf("%s/%d/**", LivelinessPrefix, domain)
}

// Matches reports whether a concrete key matches a selector. The selector
// may contain * (exactly one segment) and ** (zero or more segments).
func Matches(selector, key string) bool {
	if selector == key {
		return true
	}
	return matchSegments(strings.Split(selector, "/"), strings.Split(key, "/"))
}

func matchSegments(sel, key []string) bool {
	for len(sel) > 0 {
		switch sel[0] {
		case "**":
			if len(sel) == 1 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchSegments(sel[1:], key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || sel[0] != key[0] {
				return false
			}
		}
		sel, key = sel[1:], key[1:]
	}
	return len(key) == 0
}
