package llm

import (
	"context"
	"strings"
)

// RouterConfig configures a Router's primary and (optional) fallback
// clients independently; each has its own Config.
type RouterConfig struct {
	Primary  Config
	Fallback *Config // nil disables fallback
}

// Router owns a primary/fallback pair of Providers and offers type-name
// lookup by substring, fallover selection, and hierarchy prediction.
type Router struct {
	primary      Provider
	primaryType  string
	fallback     Provider
	fallbackType string
}

// NewRouter builds a Router from RouterConfig, reusing NewProvider for
// each configured client.
func NewRouter(cfg RouterConfig) (*Router, error) {
	primary, err := NewProvider(cfg.Primary)
	if err != nil {
		return nil, err
	}
	r := &Router{primary: primary, primaryType: cfg.Primary.Provider}

	if cfg.Fallback != nil {
		fb, err := NewProvider(*cfg.Fallback)
		if err != nil {
			return nil, err
		}
		r.fallback = fb
		r.fallbackType = cfg.Fallback.Provider
	}
	return r, nil
}

// Primary returns the router's primary client.
func (r *Router) Primary() Provider { return r.primary }

// GetClient returns the client whose configured provider type
// substring-matches typ (in either direction), or the primary client on
// no match.
func (r *Router) GetClient(typ string) Provider {
	if typ == "" {
		return r.primary
	}
	if fuzzyMatch(typ, r.primaryType) {
		return r.primary
	}
	if r.fallback != nil && fuzzyMatch(typ, r.fallbackType) {
		return r.fallback
	}
	return r.primary
}

// Fallback returns the router's fallback client, or current if no
// fallback is configured or it is the same client as current.
func (r *Router) Fallback(current Provider) Provider {
	if r.fallback == nil || r.fallback == current {
		return current
	}
	return r.fallback
}

func fuzzyMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	a, b = strings.ToLower(a), strings.ToLower(b)
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// PredictHierarchy asks the primary client to pick the single hierarchy
// string (among candidates, capped at 20) that best matches query, or
// returns "", false if none matches or the call fails. Any failure is
// non-fatal.
func (r *Router) PredictHierarchy(ctx context.Context, query string, candidates []string) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	if len(candidates) > 20 {
		candidates = candidates[:20]
	}

	prompt := buildHierarchyPrompt(query, candidates)
	resp, err := r.primary.Chat(ctx, ChatRequest{
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: 0,
		MaxTokens:   50,
	})
	if err != nil {
		return "", false
	}

	answer := strings.Trim(strings.TrimSpace(resp.Content), `"'`)
	if strings.EqualFold(answer, "NONE") || answer == "" {
		return "", false
	}

	for _, c := range candidates {
		if strings.Contains(c, answer) || strings.Contains(answer, c) {
			return c, true
		}
	}
	return "", false
}

func buildHierarchyPrompt(query string, candidates []string) string {
	var b strings.Builder
	b.WriteString("Query: ")
	b.WriteString(query)
	b.WriteString("\n\nCandidate document sections:\n")
	for _, c := range candidates {
		b.WriteString("- ")
		b.WriteString(c)
		b.WriteString("\n")
	}
	b.WriteString("\nReturn the single candidate section that best matches the query, verbatim, or NONE if none match.")
	return b.String()
}
