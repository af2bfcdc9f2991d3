package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/Aman-CERP/amanrag/internal/retrieval"
)

// DefaultSnippetWidth bounds the text shown per result.
const DefaultSnippetWidth = 160

// RenderOptions controls RenderResults.
type RenderOptions struct {
	// Explain adds weights, per-source outcomes, entities and per-item ranks.
	Explain bool
	Color   bool
	// SnippetWidth is the maximum snippet length in runes (0 = default).
	SnippetWidth int
}

// RenderResults writes a fused result set for humans.
func RenderResults(w io.Writer, rs *retrieval.FusedResultSet, opts RenderOptions) error {
	st := GetStyles(opts.Color)
	width := opts.SnippetWidth
	if width <= 0 {
		width = DefaultSnippetWidth
	}

	var b strings.Builder
	items := rs.Items()
	if len(items) == 0 {
		b.WriteString(st.Warning.Render("No results.") + "\n")
	}

	for _, it := range items {
		srcs := make([]string, len(it.ContributingSources))
		for i, s := range it.ContributingSources {
			srcs[i] = string(s)
		}
		fmt.Fprintf(&b, "%s %s  %s  %s\n",
			st.Header.Render(fmt.Sprintf("[%d]", it.Citation)),
			it.ID,
			st.Score.Render(fmt.Sprintf("%.4f", it.FusedScore)),
			st.Label.Render(strings.Join(srcs, ",")))

		p := it.BestPayload
		loc := p.DocumentID
		if loc == "" {
			loc = it.ID
		}
		fmt.Fprintf(&b, "    %s\n", st.Dim.Render(fmt.Sprintf("%s #%d (%s)", loc, p.ChunkIndex, p.Namespace)))
		if snippet := Snippet(p.Text, width); snippet != "" {
			fmt.Fprintf(&b, "    %s\n", snippet)
		}
		if len(p.MatchedEntities) > 0 {
			fmt.Fprintf(&b, "    %s %s\n", st.Label.Render("entities:"), strings.Join(p.MatchedEntities, ", "))
		}
		if opts.Explain {
			fmt.Fprintf(&b, "    %s %s\n", st.Label.Render("ranks:"), formatRanks(it))
		}
	}

	if deg := rs.Degraded(); len(deg) > 0 {
		names := make([]string, len(deg))
		for i, s := range deg {
			names[i] = string(s)
		}
		fmt.Fprintf(&b, "\n%s\n", st.Warning.Render("degraded: "+strings.Join(names, ", ")))
	}

	if opts.Explain {
		b.WriteString("\n" + st.Panel.Render(explainBlock(rs, st)) + "\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func explainBlock(rs *retrieval.FusedResultSet, st Styles) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", st.Label.Render("request:"), rs.RequestID)
	fmt.Fprintf(&b, "%s %s\n", st.Label.Render("intent: "), rs.Intent)
	fmt.Fprintf(&b, "%s %s\n", st.Label.Render("weights:"), rs.Weights.String())
	fmt.Fprintf(&b, "%s %s\n", st.Label.Render("took:   "), rs.Took().Round(time.Millisecond))

	b.WriteString(st.Label.Render("sources:") + "\n")
	for _, s := range rs.Sources() {
		state := string(s.State)
		switch {
		case s.State == retrieval.StateOK:
			state = st.Success.Render(state)
		case s.Degraded():
			state = st.Error.Render(state)
		default:
			state = st.Dim.Render(state)
		}
		line := fmt.Sprintf("  %-13s %-14s %3d  %s", s.Source, state, s.Count, s.Latency.Round(time.Millisecond))
		if s.Err != nil {
			line += "  " + st.Dim.Render(s.Err.Error())
		}
		b.WriteString(line + "\n")
	}

	if len(rs.Entities) > 0 {
		names := make([]string, len(rs.Entities))
		for i, e := range rs.Entities {
			names[i] = fmt.Sprintf("%s (%s)", e.Name, e.Provenance)
		}
		fmt.Fprintf(&b, "%s %s", st.Label.Render("entities:"), strings.Join(names, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatRanks lists source ranks in canonical order, e.g. "dense#1 sparse#3".
func formatRanks(it retrieval.FusedItem) string {
	srcs := make([]retrieval.Source, 0, len(it.Ranks))
	for s := range it.Ranks {
		srcs = append(srcs, s)
	}
	sort.Slice(srcs, func(i, j int) bool { return sourceOrder(srcs[i]) < sourceOrder(srcs[j]) })

	parts := make([]string, len(srcs))
	for i, s := range srcs {
		parts[i] = fmt.Sprintf("%s#%d", s, it.Ranks[s])
	}
	return strings.Join(parts, " ")
}

func sourceOrder(s retrieval.Source) int {
	for i, x := range retrieval.AllSources {
		if x == s {
			return i
		}
	}
	return len(retrieval.AllSources)
}

// Snippet collapses whitespace and truncates s to width runes.
func Snippet(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width <= 1 {
		return string(r[:width])
	}
	return string(r[:width-1]) + "…"
}
