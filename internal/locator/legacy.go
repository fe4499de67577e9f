package locator

import (
	"regexp"
	"strings"
)

// Kind is a named control resolved without a descriptor: a curated selector
// list plus a label pattern, then a scan of generic buttons.
type Kind struct {
	Name         string
	Selectors    []string
	Keys         []string
	Label        *regexp.Regexp
	Generic      string
	GenericLabel *regexp.Regexp
}

// vouches reports whether the selector alone identifies the control.
func (k Kind) vouches(selector string) bool {
	for _, key := range k.Keys {
		if strings.Contains(selector, key) {
			return true
		}
	}
	return false
}

const genericButtons = `button, input[type="submit"], input[type="button"], a[role="button"]`

var kinds = map[string]Kind{
	"buy_now": {
		Name: "buy_now",
		Selectors: []string{
			`#buy-now-button`,
			`input[name="submit.buy-now"]`,
			`input[aria-labelledby="buy-now-button-announce"]`,
			`[data-testid="buy-now-button"]`,
			`input[value*="Buy Now" i]`,
			`input[title*="Buy Now" i]`,
			`button[aria-label*="Buy Now" i]`,
			`#one-click-button`,
			`input[name="submit.one-click"]`,
			`[data-testid="one-click-button"]`,
			`.a-button-oneclick`,
			`.a-button-buynow`,
			`input[type="submit"][name*="buy"]`,
			`input[type="submit"][value*="now" i]`,
			`button[name*="buy-now"]`,
			`.a-button input[aria-labelledby*="buy"]`,
			`.a-button input[title*="buy" i]`,
		},
		Keys:         []string{"buy-now", "one-click"},
		Label:        regexp.MustCompile(`(?i)buy.*now|one.*click|instant.*buy|quick.*buy`),
		Generic:      genericButtons,
		GenericLabel: regexp.MustCompile(`(?i)buy\s*now|one\s*click|instant\s*buy|quick\s*buy|1\s*click`),
	},
	"place_order": {
		Name: "place_order",
		Selectors: []string{
			`#placeYourOrder`,
			`#place-your-order-button`,
			`input[name="placeYourOrder1"]`,
			`input[name="placeYourOrder"]`,
			`button[name="placeYourOrder"]`,
			`input[value*="Place your order" i]`,
			`input[value*="Place order" i]`,
			`button[aria-label*="Place your order" i]`,
			`button[aria-label*="Place order" i]`,
			`input[value*="Complete order" i]`,
			`button[aria-label*="Complete order" i]`,
			`input[name*="complete-order"]`,
			`input[value*="Submit order" i]`,
			`input[name*="submit-order"]`,
			`[data-testid*="place-order"]`,
			`[data-testid*="place-your-order"]`,
			`.place-order-button`,
			`.place-your-order`,
			`form[name="orderReviewForm"] input[type="submit"]`,
			`form[action*="order"] input[type="submit"]`,
			`input[type="submit"][id*="order"]`,
		},
		Keys:         []string{"placeYourOrder", "place-order", "place-your-order"},
		Label:        regexp.MustCompile(`(?i)place.*order|complete.*order|submit.*order|finalize.*order|buy.*now|confirm.*order`),
		Generic:      genericButtons,
		GenericLabel: regexp.MustCompile(`(?i)place\s*your\s*order|place\s*order|complete\s*order|submit\s*order|finalize\s*order|confirm\s*order|order\s*now`),
	},
	"cash_on_delivery": {
		Name: "cash_on_delivery",
		Selectors: []string{
			`input[type="radio"][value*="cod" i]`,
			`input[type="radio"][value*="cash" i]`,
			`input[type="radio"][name*="payment"][value*="delivery" i]`,
			`input[type="radio"][data-testid*="cod"]`,
			`input[type="radio"][id*="cod"]`,
			`input[type="radio"][id*="cash-on-delivery"]`,
			`label[for*="cod"]`,
			`label[for*="cash-on-delivery"]`,
			`[data-testid*="cod"] input[type="radio"]`,
			`.payment-method-cod input[type="radio"]`,
			`input[name="ppw-instrumentRowSelection"][value*="cod" i]`,
			`input[name="paymentMethod"][value*="cod" i]`,
			`.payment-option input[type="radio"]`,
			`.payment-method input[type="radio"]`,
		},
		Keys:         []string{"cod", "cash-on-delivery"},
		Label:        regexp.MustCompile(`(?i)cash.*on.*delivery|cod|pay.*on.*delivery|cash.*at.*delivery|delivery.*payment`),
		Generic:      `input[type="radio"]`,
		GenericLabel: regexp.MustCompile(`(?i)cash.*on.*delivery|cod|pay.*on.*delivery|cash.*at.*delivery`),
	},
	"continue": {
		Name: "continue",
		Selectors: []string{
			`input[type="submit"][name*="continue"]`,
			`button[name*="continue"]`,
			`input[value*="continue" i]`,
			`button[aria-label*="continue" i]`,
			`input[type="submit"][name*="next"]`,
			`button[name*="next"]`,
			`input[value*="next" i]`,
			`input[value*="proceed" i]`,
			`#continue-top`,
			`#continue-bottom`,
			`input[name="continue-top"]`,
			`input[name="continue-bottom"]`,
			`[data-testid*="continue"]`,
		},
		Keys:         []string{"continue"},
		Label:        regexp.MustCompile(`(?i)continue|next|proceed`),
		Generic:      `button, input[type="submit"], input[type="button"]`,
		GenericLabel: regexp.MustCompile(`(?i)continue|next|proceed|review.*order`),
	},
}

var kindAliases = map[string]string{
	"buy":              "buy_now",
	"buynow":           "buy_now",
	"place_your_order": "place_order",
	"placeorder":       "place_order",
	"cod":              "cash_on_delivery",
	"next":             "continue",
	"proceed":          "continue",
}

// LookupKind finds a named control by type or label ("Buy Now", "buy_now").
func LookupKind(name string) (Kind, bool) {
	key := strings.Join(strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	}), "_")
	if alias, ok := kindAliases[key]; ok {
		key = alias
	}
	k, ok := kinds[key]
	return k, ok
}
