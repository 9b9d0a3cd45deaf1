package offer

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// ReferenceCode builds the human-readable offer reference:
//
//	<seller code>-<property initials><house type code>-<running count>-<YYMMDD>
//
// e.g. "LAH-GCE4BT-003-261017" for the third offer on "Green Court Estate",
// a "4 Bedroom Terrace" sold by seller code LAH. Computed once at creation.
func ReferenceCode(seller *Party, p *Property, priorOffers int, now time.Time) string {
	return fmt.Sprintf("%s-%s%s-%03d-%s",
		sellerCode(seller),
		initials(p.Name),
		initials(p.HouseType),
		priorOffers+1,
		now.UTC().Format("060102"),
	)
}

func sellerCode(seller *Party) string {
	if seller == nil {
		return "XX"
	}
	if seller.Code != "" {
		return strings.ToUpper(seller.Code)
	}
	if code := initials(seller.Name); code != "" {
		return code
	}
	return "XX"
}

// initials takes the first letter or digit of every word, upper-cased.
func initials(s string) string {
	var b strings.Builder
	for _, word := range strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		r := []rune(word)[0]
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}
