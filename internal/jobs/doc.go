// Package jobs runs capture crawls in the background. The Runner validates
// submissions, owns the cancellation registry and bridges crawl outcomes to
// job store transitions; the Sweeper garbage-collects old records.
package jobs
