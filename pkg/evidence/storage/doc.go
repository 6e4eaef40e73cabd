// Package storage provides evidence.Storage backends.
//
// SQLiteStorage is the production backend. It runs in WAL mode so the
// recorder's inserts do not block readers such as the CLI's query
// command. Timestamps are stored as Unix nanoseconds.
//
// MemoryStorage keeps records in a map. It is used by tests and by the
// replay command, which governs requests without touching disk.
package storage
