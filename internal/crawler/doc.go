// Package crawler defines the domain types, collaborator interfaces, error
// kinds and retry policy shared by the catalog crawl subsystems.
package crawler
