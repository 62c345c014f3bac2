package match

import (
	"fmt"
	"regexp"
	"strings"
)

const summaryMaxLength = 45

// fillerWords are dropped from product names during summarization.
var fillerWords = map[string]bool{
	"the": true, "a": true, "an": true, "for": true, "with": true,
	"and": true, "or": true, "in": true, "on": true, "to": true,
	"of": true, "by": true, "your": true, "our": true, "all": true,
	"new": true, "best": true, "great": true, "perfect": true,
	"premium": true, "quality": true, "professional": true,
	"upgraded": true, "improved": true, "enhanced": true, "deluxe": true,
	"ultimate": true, "extra": true, "super": true, "mega": true,
	"ultra": true, "max": true, "pro": true, "plus": true, "pack": true,
	"count": true, "up": true, "use": true, "multi": true, "high": true,
	"performance": true, "long": true, "lasting": true, "natural": true,
}

// brandPrefixes are preserved verbatim at the start of a summary.
var brandPrefixes = []string{
	"amazon basics", "amazonbasics", "amazon essentials", "zippo",
	"tylenol", "advil", "clorox", "dawn", "bounty", "charmin", "tide",
	"glad", "ziploc", "duracell", "energizer", "scotch", "post-it",
	"sharpie", "bic",
}

var (
	shipmentPrefixRe = regexp.MustCompile(`^\d+of\d+_`)
	leadingSepRe     = regexp.MustCompile(`^[\s\-,:\|]+`)
	quantityRe       = regexp.MustCompile(`(?i)(\d+)[\s\-]*(pack|count|ct|pcs?|pieces?|sheets|wipes|pods|capsules|tablets|gels)\b`)
	leadingQtyRe     = regexp.MustCompile(`(?i)^(\d+)\s*(pack|count|ct|pcs?)?\s+`)
	segmentSplitRe   = regexp.MustCompile(`\s*[\|,]\s*|\s+-\s+`)
	nonWordRe        = regexp.MustCompile(`[^\w']`)
	sizeSpecRe       = regexp.MustCompile(`^\d+\w{1,2}$`)
	dimensionRe      = regexp.MustCompile(`^\d+x\d+`)
	spaceRe          = regexp.MustCompile(`\s+`)
)

// SummarizeItemName compresses a long marketplace product name into a
// short readable label: brand kept, marketing filler dropped, quantity
// pulled out into a trailing "(N)".
func SummarizeItemName(name string) string {
	original := strings.TrimSpace(name)
	if original == "" {
		return ""
	}

	working := shipmentPrefixRe.ReplaceAllString(original, "")

	var brand string
	lower := strings.ToLower(working)
	for _, prefix := range brandPrefixes {
		if strings.HasPrefix(lower, prefix) {
			brand = strings.Title(working[:len(prefix)]) //nolint:staticcheck // product names are ASCII
			working = leadingSepRe.ReplaceAllString(strings.TrimSpace(working[len(prefix):]), "")
			break
		}
	}

	var qty string
	if m := quantityRe.FindStringSubmatchIndex(working); m != nil {
		qty = fmt.Sprintf("(%s)", working[m[2]:m[3]])
		working = working[:m[0]] + working[m[1]:]
	} else if m := leadingQtyRe.FindStringSubmatch(working); m != nil {
		qty = fmt.Sprintf("(%s)", m[1])
		working = working[len(m[0]):]
	}

	segments := segmentSplitRe.Split(working, -1)
	main := working
	if len(segments) > 0 {
		main = segments[0]
	}

	var kept []string
	for _, word := range strings.Fields(main) {
		clean := nonWordRe.ReplaceAllString(word, "")
		lower := strings.ToLower(clean)

		if fillerWords[lower] || len(clean) < 2 || isDigits(clean) ||
			sizeSpecRe.MatchString(clean) || dimensionRe.MatchString(lower) {
			continue
		}

		kept = append(kept, clean)
		if len(kept) >= 4 {
			break
		}
	}

	var parts []string
	if brand != "" {
		parts = append(parts, brand)
	}
	if len(kept) > 0 {
		parts = append(parts, strings.Join(kept, " "))
	}
	if qty != "" {
		parts = append(parts, qty)
	}

	summary := spaceRe.ReplaceAllString(strings.TrimSpace(strings.Join(parts, " ")), " ")
	if summary == "" {
		summary = original
	}
	if len(summary) > summaryMaxLength {
		truncated := summary[:summaryMaxLength-3]
		if i := strings.LastIndex(truncated, " "); i > 0 {
			truncated = truncated[:i]
		}
		summary = truncated + "..."
	}
	return summary
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
