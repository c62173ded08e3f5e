// Package storage provides SQLite-based persistence for the segment catalog.
//
// The storage layer manages:
//   - Catalog segments and their metadata
//   - Segment embeddings used for similarity search
//   - Per-principal negotiated prices
//   - An FTS5 keyword index kept in sync by triggers
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStorage("signals_agent.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	hits, err := store.SearchFTS(ctx, "luxury auto", 30)
//
// # Keyword Search
//
// SearchFTS runs the input through BuildFTSQuery, so arbitrary user text is
// safe to pass. Results carry the negated BM25 value: higher is better.
//
// # Vector Search
//
// Embeddings are stored as little-endian float32 blobs and scored by cosine
// similarity in Go. Vectors whose dimension differs from the query are ignored.
//
// # Build Tags
//
// The default build uses modernc.org/sqlite. Build with -tags sqlite_cgo to use
// github.com/mattn/go-sqlite3 instead.
package storage
