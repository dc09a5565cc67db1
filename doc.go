// Package mailout implements a transactional-outbox dispatch engine for
// outbound notification emails.
//
// Emails are enqueued as durable jobs in a Store. External schedulers invoke
// a Dispatcher, which atomically claims a batch of due jobs, hands each to a
// Sender, and writes back terminal or retry state with capped exponential
// backoff. The claim protocol is a per-row conditional update, so any number
// of overlapping trigger invocations are safe: a job is owned by exactly one
// worker from claim until resolution, and stale claims left by crashed
// workers are reclaimed after a staleness window.
//
// Delivery is at-least-once with a dedupe backstop: a job whose related
// entity and email type already have a sent job is skipped rather than
// re-sent.
//
// For the MySQL store see the mysql package; for an in-memory store suited
// to tests and local development see the memory package.
package mailout
