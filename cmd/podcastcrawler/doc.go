// Command podcastcrawler enumerates every fixed-length search term, pages
// through the catalog search API for each, and upserts the results into a
// resumable record store. Queries already marked complete are skipped, so an
// interrupted crawl picks up where it stopped.
//
// Usage:
//
//	podcastcrawler -config config.yaml
//
// Credentials come from the config file, PODCRAWL_SPOTIFY_CLIENT_ID /
// PODCRAWL_SPOTIFY_CLIENT_SECRET, the bare CLIENT_ID / CLIENT_SECRET
// variables, or a .env file. SIGINT or SIGTERM drains the crawl: in-flight
// pages finish and unfinished queries stay pending for the next run.
package main
