package notify

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var yenPrinter = message.NewPrinter(language.Japanese)

// FormatYen renders an amount with digit grouping for notification bodies.
func FormatYen(amount int64) string {
	return yenPrinter.Sprintf("¥%d", amount)
}
