// Package all wires the built-in storage backends into the storage factory.
//
// Importing it for side effects makes these kinds available to storage.New:
//
//   - "postgres" (mdingest/internal/storage/postgres)
//   - "sqlite"   (mdingest/internal/storage/sqlite)
//   - "memory"   (mdingest/internal/storage/memory)
//
// A binary that needs only a subset can import the backends directly instead.
package all

import (
	_ "mdingest/internal/storage/memory"
	_ "mdingest/internal/storage/postgres"
	_ "mdingest/internal/storage/sqlite"
)
