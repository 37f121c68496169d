// Package queue holds the in-memory upload queue: the item model, its
// status lifecycle, and the ordered state the delivery engine drains.
package queue
