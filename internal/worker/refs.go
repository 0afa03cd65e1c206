// Package worker implements C5: the extension worker that dispatches
// tool_call records to concrete browser actions under per-tab mutual
// exclusion and emits tool results and asynchronous browser events
// (spec §4.5).
package worker

import "regexp"

// refPattern validates the stable element references produced by the
// snapshot tool before any DOM/CDP use is attempted against them (spec
// §4.5, §9 "ref-format validation must happen before any DOM/CDP use").
var refPattern = regexp.MustCompile(`^(find_|page_)?ref_\d+$`)

// ValidRef reports whether ref matches the expected shape.
func ValidRef(ref string) bool {
	return refPattern.MatchString(ref)
}
