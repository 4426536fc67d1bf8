// Package notifier is the outbox for finished reports.
//
// Deliver queues a report and returns. A small worker pool hands queued
// reports to the Sink under a shared rate limit, retrying failures with
// jittered exponential backoff. Reports with the same subject, recipients
// and window inside DedupWindow are delivered once, so a manual run that
// coincides with a scheduled firing does not mail twice.
//
// With Enabled false, Deliver calls the sink inline.
package notifier
