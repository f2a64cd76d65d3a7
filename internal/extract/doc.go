// Package extract turns loaded artist and album pages into records.
//
// Extractors only read the parsed DOM; they never touch the browser. Missing
// required fields surface as *crawler.ExtractionError so the pipeline can log
// and skip the page.
package extract
