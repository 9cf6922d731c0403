package services

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"promo-bot/models"
)

const boxWidth = 55

func header(w io.Writer, title string) {
	border := strings.Repeat("═", boxWidth)
	fmt.Fprintf(w, "\n╔%s╗\n", border)
	fmt.Fprintf(w, "║%s║\n", center(title, boxWidth))
	fmt.Fprintf(w, "╚%s╝\n", border)
}

func section(w io.Writer, title string) {
	fmt.Fprintf(w, "\n %s\n%s\n", title, strings.Repeat("─", boxWidth))
}

func footer(w io.Writer) {
	fmt.Fprintf(w, "\n%s\n\n", strings.Repeat("═", boxWidth))
}

// PrintCollectReport prints a collection summary
func PrintCollectReport(w io.Writer, r *models.CollectReport) {
	header(w, "COLLECTION SUMMARY")

	section(w, "OVERVIEW")
	fmt.Fprintf(w, "  Run ID                  : %s\n", r.RunID)
	fmt.Fprintf(w, "  Pages Requested         : %d\n", r.Pages)
	fmt.Fprintf(w, "  Offers Fetched          : %d\n", r.Fetched)
	fmt.Fprintf(w, "  Offers Qualified        : %d\n", r.Qualified)
	fmt.Fprintf(w, "  Formatted / Skipped     : %d / %d\n", r.Formatted, r.Skipped)
	fmt.Fprintf(w, "  New / Already Known     : %d / %d\n", r.Inserted, r.Duplicates)
	if r.Partial {
		fmt.Fprintf(w, "  Partial Run             : yes (%s)\n", truncate(r.Error, 28))
	}

	if in := r.Insights; in != nil && in.Total > 0 {
		section(w, "HIGHLIGHTS")
		fmt.Fprintf(w, "  Biggest Discount        : %d%%\n", in.MaxDiscount)
		if in.MaxCommission != "" {
			fmt.Fprintf(w, "  Best Commission         : %s\n", in.MaxCommission)
		}
		if in.TopShop != "" {
			fmt.Fprintf(w, "  Top Shop                : %s (%d)\n", truncate(in.TopShop, 25), in.TopShopCount)
		}
		printBars(w, "PRODUCTS PER CATEGORY", in.ByCategory)
	}
	footer(w)
}

// PrintRenderReport prints a render summary
func PrintRenderReport(w io.Writer, r *models.RenderReport) {
	header(w, "RENDER SUMMARY")
	section(w, "OVERVIEW")
	fmt.Fprintf(w, "  Run ID                  : %s\n", r.RunID)
	fmt.Fprintf(w, "  Products Selected       : %d\n", r.Selected)
	fmt.Fprintf(w, "  Rendered / Failed       : %d / %d\n", r.Succeeded, r.Failed)
	fmt.Fprintf(w, "  Without Image           : %d\n", r.ImagesMissing)
	footer(w)
}

// PrintDeliveryReport prints a delivery summary
func PrintDeliveryReport(w io.Writer, r *models.DeliveryReport) {
	header(w, "DELIVERY SUMMARY")
	section(w, "OVERVIEW")
	fmt.Fprintf(w, "  Run ID                  : %s\n", r.RunID)
	fmt.Fprintf(w, "  Units Pending           : %d\n", r.Pending)
	fmt.Fprintf(w, "  Attempted               : %d\n", r.Attempted)
	fmt.Fprintf(w, "  Confirmed / Rejected    : %d / %d\n", r.Confirmed, r.Rejected)
	fmt.Fprintf(w, "  Marked Delivered        : %d\n", r.Marked)
	fmt.Fprintf(w, "  Stopped By              : %s\n", r.StoppedBy)
	footer(w)
}

// PrintStatusReport prints the store overview
func PrintStatusReport(w io.Writer, r *models.StatusReport) {
	header(w, "PROMO-BOT STATUS")
	section(w, "STORE ("+r.Backend+")")
	fmt.Fprintf(w, "  Total Products          : %d\n", r.Counts.Total)
	fmt.Fprintf(w, "  Delivered               : %d\n", r.Counts.Delivered)
	fmt.Fprintf(w, "  Pending                 : %d\n", r.Counts.Pending)
	fmt.Fprintf(w, "  Rendered, Not Yet Sent  : %d\n", r.Queued)

	pending := make(map[string]int, len(r.ByCategory))
	for cat, c := range r.ByCategory {
		pending[cat] = c.Pending
	}
	printBars(w, "PENDING PER CATEGORY", pending)
	footer(w)
}

func printBars(w io.Writer, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	section(w, title)
	type catCount struct {
		cat   string
		count int
	}
	var cats []catCount
	for cat, cnt := range counts {
		cats = append(cats, catCount{cat, cnt})
	}
	sort.Slice(cats, func(i, j int) bool {
		if cats[i].count != cats[j].count {
			return cats[i].count > cats[j].count
		}
		return cats[i].cat < cats[j].cat
	})
	for _, cc := range cats {
		bar := strings.Repeat("▓", min(cc.count, 30))
		fmt.Fprintf(w, "  %-25s %3d  %s\n", truncate(cc.cat, 24)+":", cc.count, bar)
	}
}

func center(s string, width int) string {
	runes := []rune(s)
	if len(runes) >= width {
		return s
	}
	pad := (width - len(runes)) / 2
	return strings.Repeat(" ", pad) + s + strings.Repeat(" ", width-len(runes)-pad)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
