package cortex

import (
	"context"
	"fmt"
	"strings"

	"github.com/mycelicmemory/memcore/internal/retrieval"
)

// charsPerToken is the estimator the spec prescribes: content length
// divided by 4, as an integer.
const charsPerToken = 4

// Citation is one memory admitted into a built context block.
type Citation struct {
	Number  int
	ID      string
	Type    string
	Content string
}

// BuiltContext is the result of ContextBuilder.Build: the formatted
// block plus the citations and token accounting behind it.
type BuiltContext struct {
	Text       string
	Citations  []Citation
	TokensUsed int
	Budget     int
}

// ContextBuilder selects memories via a retrieval.Engine and
// greedy-packs them into a token-budgeted, citation-numbered block
// (spec §4.8).
type ContextBuilder struct {
	engine *retrieval.Engine
}

// NewContextBuilder wraps a retrieval.Engine.
func NewContextBuilder(engine *retrieval.Engine) *ContextBuilder {
	return &ContextBuilder{engine: engine}
}

func estimateTokens(content string) int {
	return len(content) / charsPerToken
}

// Build runs q through Retrieval, then greedily packs results by
// descending score until the cumulative token estimate would exceed
// budget. Guarantees tokens_used <= budget whenever at least one
// memory fits; returns an empty BuiltContext otherwise.
func (b *ContextBuilder) Build(ctx context.Context, q retrieval.Query, budget int) (*BuiltContext, error) {
	rs, err := b.engine.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	out := &BuiltContext{Budget: budget}
	var lines []string

	for _, r := range rs.Results {
		cost := estimateTokens(r.Memory.Content)
		if out.TokensUsed+cost > budget {
			break
		}
		out.TokensUsed += cost
		num := len(out.Citations) + 1
		out.Citations = append(out.Citations, Citation{
			Number:  num,
			ID:      r.Memory.ID,
			Type:    string(r.Memory.Type),
			Content: r.Memory.Content,
		})
		lines = append(lines, fmt.Sprintf("[%d] (%s, %s) %s", num, r.Memory.ID, r.Memory.Type, r.Memory.Content))
	}

	out.Text = strings.Join(lines, "\n")
	return out, nil
}
