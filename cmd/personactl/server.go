package main

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"os"

	"github.com/corvid-labs/personamemory/internal/config"
	"github.com/corvid-labs/personamemory/internal/embedding"
	"github.com/corvid-labs/personamemory/internal/embedding/local"
	"github.com/corvid-labs/personamemory/internal/embedding/openai"
	"github.com/corvid-labs/personamemory/internal/hnsw"
	"github.com/corvid-labs/personamemory/internal/httpapi"
	"github.com/corvid-labs/personamemory/internal/logx"
	"github.com/corvid-labs/personamemory/internal/metastore"
	"github.com/corvid-labs/personamemory/internal/persona"
	"github.com/corvid-labs/personamemory/internal/simfn"
	"github.com/corvid-labs/personamemory/internal/store"
)

// runServer wires every package into the running process: the metadata
// store, the indexed vector store, the embedding provider, the persona
// manager, and the gin-based wire API.
func runServer(cfg config.Config, dbPath string, log logx.Logger) error {
	ctx := context.Background()

	meta, err := metastore.Open(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("open metastore: %w", err)
	}
	defer meta.Close()

	metric := simfn.Metric(cfg.DistanceMetric)
	hnswCfg := hnsw.DefaultConfig()
	hnswCfg.Metric = metric
	if cfg.IndexType == config.IndexFlat {
		// Forcing the threshold above any realistic corpus size keeps every
		// Search call on the exhaustive path in hnsw.Index.Search, so
		// indexType=flat is a real exhaustive-scan mode rather than a no-op.
		hnswCfg.IndexThreshold = math.MaxInt32
	}

	st, err := store.New(store.Config{
		MaxMemoryBytes: int64(cfg.MaxMemoryMB) * 1024 * 1024,
		Dimensions:     cfg.DefaultDim,
		HNSW:           hnswCfg,
	})
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}

	var embedder embedding.Provider
	switch cfg.EmbeddingProvider {
	case config.ProviderOpenAI:
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return fmt.Errorf("EMBEDDING_PROVIDER=openai requires OPENAI_API_KEY")
		}
		embedder = openai.New(apiKey, cfg.EmbeddingModel, cfg.DefaultDim)
	default:
		embedder = local.New(cfg.DefaultDim)
	}

	mgr := persona.New(st, meta, embedder, log)

	if err := rebuildBufferFromMetastore(ctx, st, meta, embedder, log); err != nil {
		log.Warn("startup rebuild incomplete", "err", err)
	}

	engine := httpapi.NewEngine(st, meta, mgr, cfg.RateLimitWindow, cfg.RateLimitMax)
	return http.ListenAndServe(":8080", engine)
}

// rebuildBufferFromMetastore implements spec.md §6.2's startup recovery:
// the vector buffer has no file of its own, so every boot re-inserts each
// persisted memory record's vector, re-embedding from its original content
// when the cached vector column is empty.
func rebuildBufferFromMetastore(ctx context.Context, st *store.Store, meta *metastore.Store, embedder embedding.Provider, log logx.Logger) error {
	personaIDs, err := meta.ListAllPersonaIDs(ctx)
	if err != nil {
		return fmt.Errorf("list personas: %w", err)
	}

	rebuilt := 0
	for _, pid := range personaIDs {
		recs, err := meta.ListByPersona(ctx, pid, metastore.ListFilters{}, 0)
		if err != nil {
			return fmt.Errorf("list memories for persona %s: %w", pid, err)
		}
		for _, r := range recs {
			vec := r.StoredVector
			if len(vec) == 0 {
				vec, err = embedder.Embed(ctx, r.OriginalContent)
				if err != nil {
					log.Warn("re-embed failed during rebuild", "memory", r.ID, "err", err)
					continue
				}
			}
			if err := st.AddVector(ctx, r.ID, vec); err != nil {
				log.Warn("buffer re-insert failed during rebuild", "memory", r.ID, "err", err)
				continue
			}
			rebuilt++
		}
	}
	log.Info("buffer rebuilt from metastore", "count", rebuilt)
	return nil
}
