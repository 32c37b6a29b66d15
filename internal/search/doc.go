// Package search answers queries over the indexed conversation store:
// full-text search, surrounding-context assembly, tree reconstruction,
// and recent-conversation listing. Results favor summaries over raw
// content so callers can disclose progressively.
package search
