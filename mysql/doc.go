// Package mysql provides the production MySQL email outbox store.
//
// Claiming is optimistic: due rows are read without locks and then leased
// one by one with conditional UPDATEs, so overlapping dispatch cycles never
// double-claim a job and no transaction or row lock is held across the
// provider call. Stale leases left by crashed workers are reclaimed after
// the staleness window, charged as one transient failed attempt.
//
// The DSN must enable parseTime (e.g. ?parseTime=true) so TIMESTAMP columns
// scan into time.Time. See Schema for the table DDL and CleanupMaintainer
// for retention of resolved rows.
package mysql
