package locator

import (
	"sort"
	"strings"
	"sync"
)

// Rule maps an attribute pattern on the requested descriptor to alternative
// selectors tried when the descriptor itself finds nothing.
type Rule struct {
	ID        string   `yaml:"id" json:"id"`
	Attribute string   `yaml:"attribute" json:"attribute"`
	Equals    string   `yaml:"equals,omitempty" json:"equals,omitempty"`
	Contains  string   `yaml:"contains,omitempty" json:"contains,omitempty"`
	Selectors []string `yaml:"selectors" json:"selectors"`
	Note      string   `yaml:"note,omitempty" json:"note,omitempty"`
}

// Matches reports whether the descriptor attributes trigger the rule.
func (r Rule) Matches(attrs map[string]string) bool {
	v, ok := attrs[r.Attribute]
	if !ok {
		return false
	}
	if r.Equals != "" {
		return v == r.Equals
	}
	return r.Contains != "" && strings.Contains(v, r.Contains)
}

// NormalizeRule trims rule fields and removes empty selectors.
func NormalizeRule(r Rule) Rule {
	r.ID = strings.TrimSpace(r.ID)
	r.Attribute = strings.TrimSpace(r.Attribute)
	r.Equals = strings.TrimSpace(r.Equals)
	r.Contains = strings.TrimSpace(r.Contains)
	r.Note = strings.TrimSpace(r.Note)
	r.Selectors = trimStringSlice(r.Selectors)
	return r
}

// ValidateRule returns validation errors for a rule.
func ValidateRule(r Rule) []string {
	var errs []string
	if r.ID == "" {
		errs = append(errs, "id required")
	}
	if r.Attribute == "" {
		errs = append(errs, "attribute required")
	} else if !attrPattern.MatchString(r.Attribute) {
		errs = append(errs, "attribute invalid: "+r.Attribute)
	}
	switch {
	case r.Equals == "" && r.Contains == "":
		errs = append(errs, "one of equals|contains required")
	case r.Equals != "" && r.Contains != "":
		errs = append(errs, "equals and contains are mutually exclusive")
	}
	if len(r.Selectors) == 0 {
		errs = append(errs, "selectors required")
	}
	for _, s := range r.Selectors {
		if strings.ContainsAny(s, "\n\r") {
			errs = append(errs, "selectors must be single-line")
			break
		}
	}
	return errs
}

// DefaultRules are the built-in alternatives for common checkout controls.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID: "buy-now", Attribute: "id", Equals: "buy-now-button",
			Selectors: []string{
				`input[name="submit.buy-now"]`,
				`input[id*="buy-now"]`,
				`input[value*="Buy Now"]`,
				`button[id*="buy-now"]`,
				`input[aria-labelledby*="buy-now"]`,
				`#buyNow`,
				`.a-button-buyNow input`,
				`input[data-action="buy-now"]`,
			},
		},
		{
			ID: "cash-on-delivery", Attribute: "value", Contains: "COD",
			Selectors: []string{
				`input[value*="COD"]`,
				`input[value*="Cash"]`,
				`input[name*="paymentMethod"][value*="COD"]`,
				`input[type="radio"][value*="Cash"]`,
				`input[id*="cod"]`,
				`input[id*="cash"]`,
			},
		},
		{
			ID: "continue", Attribute: "aria-labelledby", Contains: "continue",
			Selectors: []string{
				`input[aria-labelledby*="continue"]`,
				`input[name*="continue"]`,
				`input[value*="Continue"]`,
				`button[aria-label*="Continue"]`,
				`#continue`,
				`.a-button-primary input[type="submit"]`,
				`input[data-action="continue"]`,
			},
		},
		{
			ID: "place-order", Attribute: "id", Equals: "placeOrder",
			Selectors: []string{
				`input[name="placeOrder"]`,
				`input[value*="Place"]`,
				`input[value*="Order"]`,
				`button[id*="place"]`,
				`button[id*="order"]`,
				`#placeYourOrder`,
				`.place-order-button`,
				`input[aria-label*="Place"]`,
				`input[data-action="place-order"]`,
			},
		},
	}
}

// Rules is a concurrency-safe rule catalog keyed by id.
type Rules struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]Rule
}

// NewRules returns a catalog holding rules in the given order.
func NewRules(rules ...Rule) *Rules {
	r := &Rules{byID: map[string]Rule{}}
	for _, rule := range rules {
		r.Put(rule)
	}
	return r
}

// Put inserts or replaces a rule; replacements keep their position.
func (r *Rules) Put(rule Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[rule.ID]; !ok {
		r.order = append(r.order, rule.ID)
	}
	r.byID[rule.ID] = rule
}

func (r *Rules) Get(id string) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.byID[id]
	return rule, ok
}

func (r *Rules) List() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Rule, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Alternatives returns the deduplicated selectors of every matching rule.
func (r *Rules) Alternatives(attrs map[string]string) []string {
	if r == nil || len(attrs) == 0 {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, rule := range r.List() {
		if !rule.Matches(attrs) {
			continue
		}
		for _, s := range rule.Selectors {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// IDs returns rule ids sorted, for logs.
func (r *Rules) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := append([]string(nil), r.order...)
	sort.Strings(ids)
	return ids
}

func trimStringSlice(items []string) []string {
	var out []string
	for _, v := range items {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}
