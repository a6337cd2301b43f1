// Package crawler walks the catalog: the composer index, each composer's
// composition index, and every composition detail page, persisting what it
// finds and skipping work a previous run already finished.
package crawler
