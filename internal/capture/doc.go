// Package capture implements the screenshot pipeline: URL validation, link
// extraction, consent-popup dismissal, full-page capture and the crawl
// orchestrator that sequences them for one job.
package capture
