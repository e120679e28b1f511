// Package store defines the persistence interfaces for entity rows and crawl
// frontier entries. Implementations live under internal/storage; this package
// must not import database drivers or concrete clients.
package store
