//go:build ignore

// Package main generates a synthetic corpus fixture and a matching golden
// query set for load testing.
// Usage: go run scripts/generate-test-corpus.go -chunks 5000 -output testdata/bench
//
// Then:
//
//	amanrag load testdata/bench/corpus.yaml
//	amanrag eval testdata/bench/golden.yaml
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/validation"
)

var (
	numChunks     = flag.Int("chunks", 1000, "Number of chunks to generate")
	numNamespaces = flag.Int("namespaces", 2, "Number of namespaces")
	chunksPerDoc  = flag.Int("per-doc", 8, "Chunks per document")
	numQueries    = flag.Int("queries", 25, "Golden queries to generate")
	outputDir     = flag.String("output", "testdata/bench", "Output directory")
	seed          = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var topics = []string{
	"authentication", "billing", "caching", "deployment", "encryption",
	"federation", "gateway", "indexing", "journaling", "kubernetes",
	"logging", "migration", "networking", "observability", "payments",
	"queueing", "replication", "scheduling", "tenancy", "upgrades",
}

var actions = []string{
	"rotates", "validates", "replicates", "throttles", "archives",
	"retries", "compacts", "audits", "encrypts", "schedules",
}

var objects = []string{
	"tokens", "sessions", "invoices", "snapshots", "certificates",
	"partitions", "webhooks", "quotas", "leases", "manifests",
}

var entitySuffixes = []string{"service", "controller", "store", "policy", "worker"}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	fx, golden := generate(rng)

	if err := writeYAML(filepath.Join(*outputDir, "corpus.yaml"), fx); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing corpus: %v\n", err)
		os.Exit(1)
	}
	if err := writeYAML(filepath.Join(*outputDir, "golden.yaml"), golden); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing golden queries: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %d chunks, %d relations, %d communities in %s\n",
		len(fx.Chunks), len(fx.Relations), len(fx.Communities), *outputDir)
	fmt.Printf("Generated %d golden queries\n", len(golden.Tier1)+len(golden.Tier2))
}

func generate(rng *rand.Rand) (*store.Fixture, *validation.QueryConfig) {
	fx := &store.Fixture{}
	golden := &validation.QueryConfig{}

	members := map[string]map[string]bool{}
	for i := 0; i < *numChunks; i++ {
		ns := fmt.Sprintf("ns%d", i%*numNamespaces)
		doc := i / *chunksPerDoc
		topic := topics[rng.Intn(len(topics))]
		action := actions[rng.Intn(len(actions))]
		object := objects[rng.Intn(len(objects))]
		a := topic + " " + entitySuffixes[rng.Intn(len(entitySuffixes))]
		b := object + " " + entitySuffixes[rng.Intn(len(entitySuffixes))]

		id := fmt.Sprintf("c%05d", i)
		fx.Chunks = append(fx.Chunks, store.Chunk{
			ID:         id,
			Namespace:  ns,
			DocumentID: fmt.Sprintf("doc%04d", doc),
			ChunkIndex: i % *chunksPerDoc,
			Text: fmt.Sprintf("The %s %s %s every %d minutes. Chunk %s covers %s for %s.",
				a, action, object, 5+rng.Intn(55), id, topic, b),
			Entities: []string{a, b},
		})
		fx.Relations = append(fx.Relations, store.Relation{Namespace: ns, Source: a, Target: b, Kind: action})

		key := ns + "/" + topic
		if members[key] == nil {
			members[key] = map[string]bool{}
		}
		members[key][a] = true
		members[key][b] = true

		if len(golden.Tier1)+len(golden.Tier2) < *numQueries && rng.Intn(*numChunks/(*numQueries)+1) == 0 {
			q := validation.QuerySpec{
				ID:        fmt.Sprintf("G%03d", len(golden.Tier1)+len(golden.Tier2)+1),
				Name:      topic,
				Query:     fmt.Sprintf("%s %s %s", a, action, object),
				Namespace: ns,
				Weights:   "sparse=1",
				Expected:  []string{id},
			}
			if len(golden.Tier1) <= len(golden.Tier2) {
				golden.Tier1 = append(golden.Tier1, q)
			} else {
				golden.Tier2 = append(golden.Tier2, q)
			}
		}
	}

	for key, set := range members {
		ns, topic, _ := strings.Cut(key, "/")
		list := make([]string, 0, len(set))
		for m := range set {
			list = append(list, m)
		}
		fx.Communities = append(fx.Communities, store.Community{
			ID:        topic,
			Namespace: ns,
			Title:     strings.ToUpper(topic[:1]) + topic[1:],
			Summary:   fmt.Sprintf("Components involved in %s and the objects they manage.", topic),
			Members:   list,
		})
	}

	golden.Negative = []validation.QuerySpec{
		{ID: "N1", Name: "blank", Query: "   "},
		{ID: "N2", Name: "punctuation", Query: "?!?"},
		{ID: "N3", Name: "unknown namespace", Query: "anything", Namespace: "missing"},
	}
	return fx, golden
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
