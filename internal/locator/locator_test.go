package locator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k8ika0s/shop-assistant/internal/logging"
	"github.com/k8ika0s/shop-assistant/internal/page"
)

func TestBuildSelector(t *testing.T) {
	cases := []struct {
		name string
		in   Descriptor
		want string
	}{
		{"tag only", Descriptor{Tag: "BUTTON"}, "button"},
		{"sorted attributes", Descriptor{Tag: "input", Attributes: map[string]string{"type": "submit", "id": "buy-now-button"}}, `input[id="buy-now-button"][type="submit"]`},
		{"presence", Descriptor{Tag: "input", Attributes: map[string]string{"disabled": ""}}, "input[disabled]"},
		{"escaping", Descriptor{Tag: "a", Attributes: map[string]string{"title": `say "hi" \ bye`}}, `a[title="say \"hi\" \\ bye"]`},
		{"control characters", Descriptor{Tag: "a", Attributes: map[string]string{"title": "one\ntwo\tthree\x7f"}}, `a[title="one\a two\9 three\7f "]`},
		{"nul", Descriptor{Tag: "a", Attributes: map[string]string{"title": "x\x00y"}}, "a[title=\"x\uFFFDy\"]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := BuildSelector(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBuildSelectorRejects(t *testing.T) {
	_, err := BuildSelector(Descriptor{})
	assert.ErrorIs(t, err, ErrEmptyTag)

	_, err = BuildSelector(Descriptor{Tag: "input", Attributes: map[string]string{`id"]`: "x"}})
	assert.ErrorIs(t, err, ErrBadAttribute)

	_, err = BuildSelector(Descriptor{Tag: "in put"})
	assert.Error(t, err)
}

func TestBuildSelectorRoundTripsThroughDocument(t *testing.T) {
	doc, err := page.NewDocument("https://www.amazon.in/", `<html><body><a title='say "hi"'>x</a></body></html>`)
	require.NoError(t, err)
	sel, err := BuildSelector(Descriptor{Tag: "a", Attributes: map[string]string{"title": `say "hi"`}})
	require.NoError(t, err)
	els, err := doc.Query(context.Background(), sel)
	require.NoError(t, err)
	assert.Len(t, els, 1)
}

func TestBuildSelectorMatchesMultilineValue(t *testing.T) {
	doc, err := page.NewDocument("https://www.amazon.in/", "<html><body><button aria-label=\"Add to\nCart\">x</button></body></html>")
	require.NoError(t, err)
	sel, err := BuildSelector(Descriptor{Tag: "button", Attributes: map[string]string{"aria-label": "Add to\nCart"}})
	require.NoError(t, err)
	assert.NotContains(t, sel, "\n")
	els, err := doc.Query(context.Background(), sel)
	require.NoError(t, err)
	assert.Len(t, els, 1)
}

// fakeClock advances on every sleep and fires callbacks at given offsets.
type fakeClock struct {
	elapsed time.Duration
	sleeps  int
	at      map[time.Duration]func()
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.sleeps++
	c.elapsed += d
	for when, fn := range c.at {
		if c.elapsed >= when {
			fn()
			delete(c.at, when)
		}
	}
	return nil
}

func newTestLocator(clock *fakeClock) *Locator {
	return New(Options{Sleep: clock.Sleep, Logger: logging.Discard()})
}

func TestLocateFindsLateElement(t *testing.T) {
	doc, err := page.NewDocument("https://www.amazon.in/dp/X", `<html><body><div id="root"></div></body></html>`)
	require.NoError(t, err)
	clock := &fakeClock{at: map[time.Duration]func(){
		2 * time.Second: func() {
			doc.Mutate(func(d *goquery.Document) {
				d.Find("#root").AppendHtml(`<input id="buy-now-button" type="submit" value="Buy Now">`)
			})
		},
	}}

	res, err := newTestLocator(clock).Locate(context.Background(), doc, Descriptor{Tag: "input", Attributes: map[string]string{"id": "buy-now-button"}})
	require.NoError(t, err)
	assert.Equal(t, Ready, res.Outcome)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 2*time.Second, clock.elapsed)
	assert.Equal(t, "Buy Now", res.Element.Label())
}

func TestLocateExhaustsRetries(t *testing.T) {
	doc, err := page.NewDocument("https://www.amazon.in/", `<html><body></body></html>`)
	require.NoError(t, err)
	clock := &fakeClock{}

	res, err := newTestLocator(clock).Locate(context.Background(), doc, Descriptor{Tag: "button", Attributes: map[string]string{"id": "missing"}})
	require.NoError(t, err)
	assert.Equal(t, NotFound, res.Outcome)
	assert.Equal(t, 5, res.Attempts)
	assert.Equal(t, 4, clock.sleeps)
	assert.LessOrEqual(t, clock.elapsed, 5*time.Second)
	assert.Contains(t, res.Message(), "Tried 5 attempts")
}

func TestLocateUsesFallbackRules(t *testing.T) {
	doc, err := page.NewDocument("https://www.amazon.in/", `<html><body>
		<span class="a-button-buyNow"><input type="submit" value="Buy Now"></span>
	</body></html>`)
	require.NoError(t, err)

	res, err := newTestLocator(&fakeClock{}).Locate(context.Background(), doc, Descriptor{Tag: "input", Attributes: map[string]string{"id": "buy-now-button"}})
	require.NoError(t, err)
	assert.Equal(t, Ready, res.Outcome)
	assert.Equal(t, "fallback", res.Strategy)
	assert.Equal(t, `input[value*="Buy Now"]`, res.Target.Selector)
}

func TestLocateClassifiesInvisibleAndDisabled(t *testing.T) {
	doc, err := page.NewDocument("https://www.amazon.in/", `<html><body>
		<button id="a" style="display:none">A</button>
		<button id="b" disabled>B</button>
		<button class="c">C1</button><button class="c">C2</button>
	</body></html>`)
	require.NoError(t, err)
	l := newTestLocator(&fakeClock{})
	ctx := context.Background()

	res, err := l.Locate(ctx, doc, Descriptor{Tag: "button", Attributes: map[string]string{"id": "a"}})
	require.NoError(t, err)
	assert.Equal(t, Invisible, res.Outcome)
	assert.Contains(t, res.Message(), "not visible")

	res, err = l.Locate(ctx, doc, Descriptor{Tag: "button", Attributes: map[string]string{"id": "b"}})
	require.NoError(t, err)
	assert.Equal(t, NotClickable, res.Outcome)

	res, err = l.Locate(ctx, doc, Descriptor{Tag: "button", Attributes: map[string]string{"class": "c"}})
	require.NoError(t, err)
	assert.Equal(t, Ready, res.Outcome)
	assert.Equal(t, 2, res.Matches)
	assert.Equal(t, "C1", res.Element.Label())
}

func TestLocateKindBuyNow(t *testing.T) {
	doc, err := page.NewDocument("https://www.amazon.in/", `<html><body>
		<button>Add to Cart</button>
		<button aria-label="Buy Now">Buy Now</button>
	</body></html>`)
	require.NoError(t, err)
	k, ok := LookupKind("Buy Now")
	require.True(t, ok)

	res, err := newTestLocator(&fakeClock{}).LocateKind(context.Background(), doc, k)
	require.NoError(t, err)
	assert.Equal(t, Ready, res.Outcome)
	assert.Equal(t, "Buy Now", res.Element.Label())
	assert.Equal(t, "kind:buy_now", res.Strategy)
}

func TestLocateKindGenericScanAndMissing(t *testing.T) {
	doc, err := page.NewDocument("https://www.amazon.in/", `<html><body>
		<a role="button">Confirm order</a>
	</body></html>`)
	require.NoError(t, err)
	l := newTestLocator(&fakeClock{})

	k, ok := LookupKind("place_order")
	require.True(t, ok)
	res, err := l.LocateKind(context.Background(), doc, k)
	require.NoError(t, err)
	assert.Equal(t, Ready, res.Outcome)
	assert.Equal(t, genericButtons, res.Target.Selector)

	k, ok = LookupKind("cod")
	require.True(t, ok)
	res, err = l.LocateKind(context.Background(), doc, k)
	require.NoError(t, err)
	assert.Equal(t, NotFound, res.Outcome)

	_, ok = LookupKind("wish_list")
	assert.False(t, ok)
}

func TestRulesMatchAndAlternatives(t *testing.T) {
	r := NewRules(DefaultRules()...)
	alts := r.Alternatives(map[string]string{"value": "COD-123"})
	require.NotEmpty(t, alts)
	assert.Equal(t, `input[value*="COD"]`, alts[0])
	assert.Empty(t, r.Alternatives(map[string]string{"id": "other"}))

	r.Put(Rule{ID: "buy-now", Attribute: "id", Equals: "buy-now-button", Selectors: []string{"#custom"}})
	assert.Equal(t, []string{"#custom"}, r.Alternatives(map[string]string{"id": "buy-now-button"}))
	assert.Len(t, r.List(), 4)
}

func TestValidateRule(t *testing.T) {
	errs := ValidateRule(NormalizeRule(Rule{Attribute: "bad name", Equals: "x", Contains: "y"}))
	assert.Contains(t, errs, "id required")
	assert.Contains(t, errs, "equals and contains are mutually exclusive")
	assert.Contains(t, errs, "selectors required")
	assert.Empty(t, ValidateRule(DefaultRules()[0]))
}

func TestLoadRulesFromDir(t *testing.T) {
	dir := t.TempDir()
	good := `
- id: wishlist
  attribute: id
  equals: add-to-wishlist
  selectors:
    - "#wishlistButtonStack input"
    - "  "
- id: broken
  attribute: id
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules.yaml"), []byte(good), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yml"), []byte("{not: [a list"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	rules := NewRules()
	res, err := LoadRulesFromDir(rules, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Files)
	assert.Equal(t, 1, res.Loaded)
	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, res.Errors, 2)

	rule, ok := rules.Get("wishlist")
	require.True(t, ok)
	assert.Equal(t, []string{"#wishlistButtonStack input"}, rule.Selectors)

	res, err = LoadRulesFromDir(rules, filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Zero(t, res.Files)
}
