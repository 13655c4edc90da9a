// Package notifier delivers reminder notifications to outbound channels.
//
// Notify only enqueues. A worker pool drains the queue, waits on a shared
// token bucket, and sends each notification to every configured sink with
// jittered exponential retry. Identical notifications inside the dedup
// window are suppressed; the window can be persisted through storage so it
// survives restarts.
//
// A small in-memory history of delivered texts is kept for status output.
package notifier
