package render

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"promo-bot/models"
)

const disclaimer = "_*Promoção sujeita a alteração a qualquer momento*_"

var (
	wasNowPrice = regexp.MustCompile(`R\$([\d.,]+)\s+\(de\s+R\$([\d.,]+)\)`)
	plainPrice  = regexp.MustCompile(`R\$([\d.,]+)`)
)

// Message renders the advertisement text for p
func Message(p models.Product) string {
	name := p.Name
	if name == "" {
		name = "Produto sem nome"
	}
	link := p.Link
	if link == "" {
		link = "#"
	}

	current, original := splitPrice(p.Price, p.Discount)

	var b strings.Builder
	fmt.Fprintf(&b, "🛍️ %s\n\n", name)
	if original != "" {
		fmt.Fprintf(&b, "de: ~%s~\n", original)
	}
	fmt.Fprintf(&b, "💸 Por: %s 🔥\n\n", current)
	if line := ratingLine(p.Rating); line != "" {
		b.WriteString(line)
	}
	if p.Sales != "" {
		fmt.Fprintf(&b, "🛒 %s\n", p.Sales)
	}
	fmt.Fprintf(&b, "👉 Link para comprar: %s\n\n", link)
	b.WriteString(disclaimer)
	return b.String()
}

// splitPrice returns the current price and, when known, the original price,
// both with Brazilian separators. An explicit "(de R$X)" clause wins; otherwise
// the original is derived from the discount rate. Unparseable prices are kept
// as stored.
func splitPrice(price string, discount int) (current, original string) {
	if m := wasNowPrice.FindStringSubmatch(price); m != nil {
		return brl(m[1]), brl(m[2])
	}
	current = price
	m := plainPrice.FindStringSubmatch(price)
	if m == nil {
		return current, ""
	}
	v, err := parseAmount(m[1])
	if err != nil {
		return current, ""
	}
	current = "R$" + FormatBRL(v)
	if discount <= 0 || discount >= 100 {
		return current, ""
	}
	return current, "R$" + FormatBRL(v/(1-float64(discount)/100))
}

func brl(amount string) string {
	v, err := parseAmount(amount)
	if err != nil {
		return "R$" + amount
	}
	return "R$" + FormatBRL(v)
}

// parseAmount accepts "1234.50" as stored and "1.234,50" as displayed
func parseAmount(s string) (float64, error) {
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	return strconv.ParseFloat(s, 64)
}

// FormatBRL formats v with Brazilian separators, e.g. 1234.5 -> "1.234,50"
func FormatBRL(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	intPart, frac := s[:len(s)-3], s[len(s)-2:]
	neg := strings.HasPrefix(intPart, "-")
	intPart = strings.TrimPrefix(intPart, "-")

	var groups []string
	for len(intPart) > 3 {
		groups = append([]string{intPart[len(intPart)-3:]}, groups...)
		intPart = intPart[:len(intPart)-3]
	}
	groups = append([]string{intPart}, groups...)

	out := strings.Join(groups, ".") + "," + frac
	if neg {
		out = "-" + out
	}
	return out
}

// Stars is the rating rounded half-up, as a row of ⭐
func Stars(rating float64) string {
	if rating <= 0 {
		return ""
	}
	return strings.Repeat("⭐", int(math.Floor(rating+0.5)))
}

func ratingLine(rating string) string {
	v, err := strconv.ParseFloat(strings.ReplaceAll(rating, ",", "."), 64)
	if err != nil || v <= 0 {
		return ""
	}
	return fmt.Sprintf("%s (%s)\n", Stars(v), rating)
}
