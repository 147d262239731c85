// Package crawler defines the domain types and the narrow interfaces shared by
// the session pool, the fetch protocol, the glyph decoder and the job
// orchestrator of the novel crawler.
package crawler
