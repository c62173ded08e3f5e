// Package indexer loads the segment catalog and keeps its embeddings in step
// with the segment text.
//
// # Basic Usage
//
//	idx := indexer.New(store, emb, indexer.Config{BatchSize: 32, Workers: 4})
//
//	if _, err := idx.ImportCatalog(ctx, "configs/sample_catalog.yaml"); err != nil {
//	    return err
//	}
//	stats, err := idx.EmbedCatalog(ctx)
//
// # Incremental Embedding
//
// Each stored vector records the SHA-256 of the text it was built from
// (name, description, provider and categories). EmbedCatalog only embeds
// segments with no vector or a different hash, so a re-run after an unchanged
// import makes no provider calls.
//
// # Concurrency
//
// Batches are embedded on an errgroup bounded by Config.Workers. A failed
// batch is counted in Statistics and the run continues. Only one EmbedCatalog
// run may be active per Indexer; a second gets ErrIndexInProgress.
package indexer
