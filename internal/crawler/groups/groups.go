// Package groups defines the award type groups accepted by the search endpoint.
package groups

import (
	"sort"

	"fedspend/internal/models"
)

// Group is a named set of award type codes searched together.
type Group struct {
	Name  string
	Codes []string
}

// Contracts reports whether the group requests contract-only fields.
func (g Group) Contracts() bool {
	return g.Name == "contracts"
}

// Fields returns the upstream field names requested for this group.
func (g Group) Fields() []string {
	out := make([]string, 0, len(models.Fields))

	for _, f := range models.Fields {
		if f.Source == "" || (f.Contracts && !g.Contracts()) {
			continue
		}

		out = append(out, f.Source)
	}

	return out
}

var registry = map[string]Group{
	"contracts":       {Name: "contracts", Codes: []string{"A", "B", "C", "D"}},
	"grants":          {Name: "grants", Codes: []string{"02", "03", "04", "05"}},
	"direct_payments": {Name: "direct_payments", Codes: []string{"06", "10"}},
	"loans":           {Name: "loans", Codes: []string{"07", "08"}},
	"other":           {Name: "other", Codes: []string{"09", "11", "-1"}},
}

// Lookup returns the named group.
func Lookup(name string) (Group, bool) {
	g, ok := registry[name]

	return g, ok
}

// Names returns all group names in a stable order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

// All returns every group ordered by name.
func All() []Group {
	names := Names()
	out := make([]Group, len(names))

	for i, n := range names {
		out[i] = registry[n]
	}

	return out
}
