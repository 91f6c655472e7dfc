package plugin

import "strings"

// ReservedPrefix marks unit files and callables that are never exposed.
const ReservedPrefix = "_"

// Policy selects how the Classifier treats unmarked callables.
type Policy string

const (
	// Permissive exposes every exported callable. This is the default.
	Permissive Policy = "permissive"
	// Strict exposes only marked callables or ones whose description
	// mentions a tool keyword.
	Strict Policy = "strict"
)

// ParsePolicy converts a config string to a Policy, defaulting to Permissive.
func ParsePolicy(s string) Policy {
	if Policy(strings.ToLower(strings.TrimSpace(s))) == Strict {
		return Strict
	}
	return Permissive
}

// DefaultKeywords are the description keywords that indicate a tool.
var DefaultKeywords = []string{"tool", "mcp", "recon", "function"}

// Classifier decides whether a discovered callable is exposed as a tool.
type Classifier struct {
	Policy   Policy
	Keywords []string
}

// NewClassifier returns a Classifier with the default keyword set.
func NewClassifier(policy Policy) Classifier {
	return Classifier{Policy: policy, Keywords: DefaultKeywords}
}

// Exported reports whether name is usable as a tool name.
func Exported(name string) bool {
	return name != "" && !strings.HasPrefix(name, ReservedPrefix)
}

// Qualifies reports whether t should be exposed.
//
// Marked tools qualify, then tools whose description mentions a keyword.
// Under the Permissive policy every remaining exported tool qualifies too,
// which makes the first two rules matter only for Strict.
func (c Classifier) Qualifies(t *Tool) bool {
	if t == nil || !Exported(t.Name) {
		return false
	}
	if t.Marked {
		return true
	}
	if c.mentionsKeyword(t.Description) {
		return true
	}
	return c.Policy != Strict
}

func (c Classifier) mentionsKeyword(doc string) bool {
	if doc == "" {
		return false
	}
	lower := strings.ToLower(doc)
	for _, kw := range c.Keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
