package services

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"promo-bot/config"
	"promo-bot/models"
)

// Categorizer assigns a category from the product name using an ordered keyword table
type Categorizer struct {
	rules []config.CategoryRule
}

// NewCategorizer copies rules, lower-casing keywords once
func NewCategorizer(rules []config.CategoryRule) *Categorizer {
	cp := make([]config.CategoryRule, 0, len(rules))
	for _, r := range rules {
		kws := make([]string, 0, len(r.Keywords))
		for _, k := range r.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				kws = append(kws, k)
			}
		}
		cp = append(cp, config.CategoryRule{Name: r.Name, Keywords: kws})
	}
	return &Categorizer{rules: cp}
}

// Categorize returns the first category with a keyword that starts a word in
// name, or models.DefaultCategory.
func (c *Categorizer) Categorize(name string) string {
	lower := strings.ToLower(name)
	for _, r := range c.rules {
		for _, kw := range r.Keywords {
			if containsWordPrefix(lower, kw) {
				return r.Name
			}
		}
	}
	return models.DefaultCategory
}

// containsWordPrefix reports whether kw occurs in s at a word start,
// so "pet" matches "pet shop" and "petisco" but not "tapete".
func containsWordPrefix(s, kw string) bool {
	for from := 0; from <= len(s)-len(kw); {
		i := strings.Index(s[from:], kw)
		if i < 0 {
			return false
		}
		at := from + i
		if at == 0 || !isWordRune(lastRune(s[:at])) {
			return true
		}
		from = at + 1
	}
	return false
}

func lastRune(s string) rune {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
