// Package spillover persists queue items that exhausted their retry
// budget so they survive restarts and can be retried later.
package spillover
