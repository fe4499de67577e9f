// Package locator turns a declarative {tag, attributes} descriptor into a
// single visible, clickable element on the page.
package locator

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	ErrEmptyTag     = errors.New("tag is required")
	ErrBadAttribute = errors.New("invalid attribute name")
)

var (
	tagPattern  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]*$`)
	attrPattern = regexp.MustCompile(`^[A-Za-z_:][-A-Za-z0-9_:.]*$`)
)

// Descriptor identifies a target element.
type Descriptor struct {
	Tag        string            `json:"tag" yaml:"tag"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// BuildSelector renders d as a CSS selector, attributes in sorted order.
// An empty value selects on presence only.
func BuildSelector(d Descriptor) (string, error) {
	tag := strings.ToLower(strings.TrimSpace(d.Tag))
	if tag == "" {
		return "", ErrEmptyTag
	}
	if !tagPattern.MatchString(tag) {
		return "", fmt.Errorf("invalid tag %q", d.Tag)
	}
	keys := make([]string, 0, len(d.Attributes))
	for k := range d.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(tag)
	for _, k := range keys {
		if !attrPattern.MatchString(k) {
			return "", fmt.Errorf("%w: %q", ErrBadAttribute, k)
		}
		v := d.Attributes[k]
		if v == "" {
			fmt.Fprintf(&b, "[%s]", k)
			continue
		}
		fmt.Fprintf(&b, `[%s="%s"]`, k, escapeValue(v))
	}
	return b.String(), nil
}

// escapeValue quotes v for a double-quoted CSS string. Control characters
// use hex escapes with a terminating space; NUL becomes U+FFFD.
func escapeValue(v string) string {
	var b strings.Builder
	for _, r := range v {
		switch {
		case r == 0:
			b.WriteRune('\uFFFD')
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, `\%x `, r)
		case r == '\\' || r == '"':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
