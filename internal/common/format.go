package common

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Report widths for the CLI tables.
const (
	DefaultWidth = 80
	WideWidth    = 100
)

func rule(width int) string { return strings.Repeat("=", width) }

// PrintHeader opens a report section.
func PrintHeader(title string, width int) {
	fmt.Printf("\n%s\n%s\n%s\n", rule(width), title, rule(width))
}

// PrintFooter closes a report with a summary line.
func PrintFooter(message string, width int) {
	fmt.Printf("\n%s\n%s\n%s\n\n", rule(width), message, rule(width))
}

func PrintBoxSeparator(width int) {
	fmt.Printf("├%s\n", strings.Repeat("─", width))
}

// BoxPrefix and BoxDetailPrefix draw the tree gutter for nested rows; the last
// row of a group closes the gutter.
func BoxPrefix(last bool) string {
	if last {
		return "└  "
	}
	return "│  "
}

func BoxDetailPrefix(last bool) string {
	if last {
		return "   "
	}
	return "│  "
}

// Money renders an amount with its currency, e.g. "125.00 USD".
func Money(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(2) + " " + currency
}

// ShortId trims a uuid to its first block for tables.
func ShortId(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
