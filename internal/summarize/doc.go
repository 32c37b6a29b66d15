// Package summarize condenses indexed messages through an external
// language-model service and writes the results back to the store.
//
// The pipeline pulls pending work in small batches, sends one request
// per batch, and never holds a store transaction across an HTTP call.
// Messages the service cannot summarize within the attempt budget get
// a deterministic truncation fallback so they stay searchable.
package summarize
