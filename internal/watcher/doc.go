// Package watcher keeps the index current by reacting to filesystem
// events on the conversation log tree.
//
// Each changed file gets a debounce deadline; a sweep ticker batches
// every file whose deadline expired and runs one indexing cycle over
// the batch, followed by the summarization pipeline. Debouncing keeps
// the indexer off files an agent is still streaming into.
package watcher
