// Package store defines interfaces for persistence dependencies. The sqlite
// and postgres implementations live under internal/storage; this package must
// not import database drivers or concrete clients.
package store
