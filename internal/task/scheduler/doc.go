// Package scheduler turns stored job definitions into cron entries.
//
// It only triggers. Every firing goes through the jobs dispatcher, which
// hands the run to the task engine. Reconcile rebuilds the definition
// entries from the store; the sweep entry lives beside them and survives
// reconciles.
package scheduler
