// Package crawler holds the catalog domain model shared by every stage of the
// discography crawl: genre, artist and album records, the resumable cursor,
// the parsed Page snapshot, typed errors, and the interfaces (Browser,
// PageFetcher, RecordSink, CursorStore) that the pipeline is wired through.
package crawler
