package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

var fixtureNamespacePattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{0,64}$`)

// Fixture is a corpus snapshot: chunks with their entities, the relations
// between entities and the precomputed communities.
type Fixture struct {
	Chunks      []Chunk     `json:"chunks" yaml:"chunks"`
	Relations   []Relation  `json:"relations,omitempty" yaml:"relations,omitempty"`
	Communities []Community `json:"communities,omitempty" yaml:"communities,omitempty"`
}

// Embedder produces vectors for chunks loaded without one.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Targets are the stores a fixture is written to. Nil targets are skipped.
type Targets struct {
	Dense    *HNSWStore
	Sparse   *BleveSparseStore
	Graph    *SQLiteGraphStore
	Embedder Embedder

	// Vector holds both representations in Postgres. SparseEncode supplies
	// each chunk's sparse column; nil leaves it empty.
	Vector       *PGVectorStore
	SparseEncode func(text string) SparseVector

	// Progress, when set, is called as chunks are embedded and as each
	// target is written.
	Progress func(LoadProgress)
}

// LoadStage is a step of Fixture.Load.
type LoadStage string

const (
	LoadEmbedding LoadStage = "embedding"
	LoadWriting   LoadStage = "writing"
)

// LoadProgress reports how far a stage has got. Target names the store
// being written during LoadWriting.
type LoadProgress struct {
	Stage  LoadStage
	Done   int
	Total  int
	Target string
}

// EmbedProgressBatch is how many chunks are embedded between progress
// reports.
const EmbedProgressBatch = 64

// LoadStats summarizes a load.
type LoadStats struct {
	Chunks      int
	Embedded    int
	Relations   int
	Communities int
	Namespaces  []string
}

// ReadFixture parses a JSON or YAML fixture. The format follows the file
// extension; anything other than .json is read as YAML.
func ReadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeFixtureInvalid, "cannot read fixture", err).
			WithDetail("path", path)
	}
	return ParseFixture(data, strings.EqualFold(filepath.Ext(path), ".json"))
}

// ParseFixture decodes and validates fixture bytes.
func ParseFixture(data []byte, isJSON bool) (*Fixture, error) {
	var fx Fixture
	if isJSON {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&fx); err != nil {
			return nil, amerrors.New(amerrors.ErrCodeFixtureInvalid, "malformed JSON fixture", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&fx); err != nil {
			return nil, amerrors.New(amerrors.ErrCodeFixtureInvalid, "malformed YAML fixture", err)
		}
	}
	if err := fx.Validate(); err != nil {
		return nil, err
	}
	return &fx, nil
}

// Validate checks ids, namespaces and vector dimensions.
func (fx *Fixture) Validate() error {
	invalid := func(format string, args ...any) error {
		return amerrors.New(amerrors.ErrCodeFixtureInvalid, fmt.Sprintf(format, args...), nil)
	}

	seen := make(map[string]struct{}, len(fx.Chunks))
	dim := 0
	for i, c := range fx.Chunks {
		if strings.TrimSpace(c.ID) == "" {
			return invalid("chunk %d has no id", i)
		}
		if !fixtureNamespacePattern.MatchString(c.Namespace) {
			return invalid("chunk %s has malformed namespace %q", c.ID, c.Namespace)
		}
		key := docKey(c.Namespace, c.ID)
		if _, dup := seen[key]; dup {
			return invalid("duplicate chunk %s in namespace %q", c.ID, c.Namespace)
		}
		seen[key] = struct{}{}
		if len(c.Vector) > 0 {
			if dim == 0 {
				dim = len(c.Vector)
			} else if len(c.Vector) != dim {
				return invalid("chunk %s: %v", c.ID, ErrDimensionMismatch{Expected: dim, Got: len(c.Vector)})
			}
		}
	}
	for i, r := range fx.Relations {
		if NormalizeEntity(r.Source) == "" || NormalizeEntity(r.Target) == "" {
			return invalid("relation %d has an empty endpoint", i)
		}
		if !fixtureNamespacePattern.MatchString(r.Namespace) {
			return invalid("relation %d has malformed namespace %q", i, r.Namespace)
		}
	}
	for i, c := range fx.Communities {
		if strings.TrimSpace(c.ID) == "" {
			return invalid("community %d has no id", i)
		}
		if !fixtureNamespacePattern.MatchString(c.Namespace) {
			return invalid("community %s has malformed namespace %q", c.ID, c.Namespace)
		}
	}
	return nil
}

// Load writes the fixture into the targets. Chunks without a vector are
// embedded first when an Embedder is set; otherwise they are left out of
// the dense store.
func (fx *Fixture) Load(ctx context.Context, t Targets) (LoadStats, error) {
	stats := LoadStats{
		Chunks:      len(fx.Chunks),
		Relations:   len(fx.Relations),
		Communities: len(fx.Communities),
	}

	chunks := make([]Chunk, len(fx.Chunks))
	copy(chunks, fx.Chunks)

	namespaces := map[string]struct{}{}
	var missing []int
	for i, c := range chunks {
		namespaces[c.Namespace] = struct{}{}
		if len(c.Vector) == 0 {
			missing = append(missing, i)
		}
	}
	for ns := range namespaces {
		stats.Namespaces = append(stats.Namespaces, ns)
	}
	sort.Strings(stats.Namespaces)

	report := func(p LoadProgress) {
		if t.Progress != nil {
			t.Progress(p)
		}
	}

	if (t.Dense != nil || t.Vector != nil) && t.Embedder != nil && len(missing) > 0 {
		report(LoadProgress{Stage: LoadEmbedding, Total: len(missing)})
		for start := 0; start < len(missing); start += EmbedProgressBatch {
			end := min(start+EmbedProgressBatch, len(missing))
			texts := make([]string, 0, end-start)
			for _, i := range missing[start:end] {
				texts = append(texts, chunks[i].Text)
			}
			vecs, err := t.Embedder.EmbedBatch(ctx, texts)
			if err != nil {
				return stats, fmt.Errorf("embed fixture chunks: %w", err)
			}
			if len(vecs) != len(texts) {
				return stats, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(texts))
			}
			for j, i := range missing[start:end] {
				chunks[i].Vector = vecs[j]
			}
			report(LoadProgress{Stage: LoadEmbedding, Done: end, Total: len(missing)})
		}
		stats.Embedded = len(missing)
	}

	total := 0
	for _, set := range []bool{t.Dense != nil, t.Vector != nil, t.Sparse != nil, t.Graph != nil} {
		if set {
			total++
		}
	}
	written := 0
	wrote := func(target string) {
		written++
		report(LoadProgress{Stage: LoadWriting, Done: written, Total: total, Target: target})
	}

	if t.Dense != nil {
		var withVec []Chunk
		for _, c := range chunks {
			if len(c.Vector) > 0 {
				withVec = append(withVec, c)
			}
		}
		if err := t.Dense.Add(ctx, withVec); err != nil {
			return stats, fmt.Errorf("load dense store: %w", err)
		}
		wrote("dense")
	}
	if t.Vector != nil {
		var sparse []SparseVector
		if t.SparseEncode != nil {
			sparse = make([]SparseVector, len(chunks))
			for i, c := range chunks {
				sparse[i] = t.SparseEncode(c.Text)
			}
		}
		if err := t.Vector.Upsert(ctx, chunks, sparse); err != nil {
			return stats, fmt.Errorf("load vector store: %w", err)
		}
		wrote("vector")
	}
	if t.Sparse != nil {
		if err := t.Sparse.Index(ctx, chunks); err != nil {
			return stats, fmt.Errorf("load sparse store: %w", err)
		}
		wrote("sparse")
	}
	if t.Graph != nil {
		if err := t.Graph.AddChunks(ctx, chunks); err != nil {
			return stats, fmt.Errorf("load graph chunks: %w", err)
		}
		if err := t.Graph.AddRelations(ctx, fx.Relations); err != nil {
			return stats, fmt.Errorf("load graph relations: %w", err)
		}
		if err := t.Graph.AddCommunities(ctx, fx.Communities); err != nil {
			return stats, fmt.Errorf("load graph communities: %w", err)
		}
		wrote("graph")
	}
	return stats, nil
}
