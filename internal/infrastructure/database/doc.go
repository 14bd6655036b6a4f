// Package database opens the SQLite file behind reading history and the
// command log, and applies the schema migrations compiled into the binary.
//
// Migrations register themselves from the migrations package, so main
// imports it for side effects before calling Migrate:
//
//	import _ "github.com/nerrad567/vcontrold-bridge/migrations"
package database
