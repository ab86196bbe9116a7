// Package volnum extracts volume numbers from storefront display names and
// orders them.
//
// Volume numbers stay strings: "7", "7.5" and "7-8" are all valid and are
// stored exactly as printed on the product.
package volnum

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// number matches an integer, a decimal, or a hyphenated range such as 7-8.
const number = `(\d+\.?-?\d*)`

// labelPatterns are tried in order; the first match wins.
var labelPatterns = []*regexp.Regexp{
	regexp.MustCompile(` [()]?Volume[a-z]?[()]? ` + number),
	regexp.MustCompile(` [()]?Vol[a-z]?[()]? ` + number),
	regexp.MustCompile(` [()]?Vol\.[a-z]?[()]? ` + number),
	regexp.MustCompile(` [()]?Graphic Novel[a-z]?[()]? ` + number),
	regexp.MustCompile(` [()]?Box Set[()]? ` + number),
}

var categoryPatterns sync.Map // category -> *regexp.Regexp

// Parse returns the volume number printed in displayName. Labels are checked
// in a fixed order (Volume, Vol, Vol., Graphic Novel, Box Set) before falling
// back to "<category> N". ok is false when no label matches.
func Parse(displayName, category string) (string, bool) {
	for _, re := range labelPatterns {
		if m := re.FindStringSubmatch(displayName); m != nil {
			return m[1], true
		}
	}
	if re := categoryPattern(category); re != nil {
		if m := re.FindStringSubmatch(displayName); m != nil {
			return m[1], true
		}
	}
	return "", false
}

func categoryPattern(category string) *regexp.Regexp {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil
	}
	if re, ok := categoryPatterns.Load(category); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`(?i) [()]?` + regexp.QuoteMeta(category) + `[a-z]?[()]? ` + number)
	actual, _ := categoryPatterns.LoadOrStore(category, re)
	return actual.(*regexp.Regexp)
}

// SortKey converts a volume number into its numeric ordering key: the first
// hyphen-separated segment parsed as a float. Missing or unreadable numbers
// sort first with -1.
func SortKey(volume string) float64 {
	volume = strings.TrimSpace(volume)
	if volume == "" {
		return -1
	}
	first, _, _ := strings.Cut(volume, "-")
	f, err := strconv.ParseFloat(strings.TrimSuffix(first, "."), 64)
	if err != nil {
		return -1
	}
	return f
}

// Less orders two volume numbers by SortKey.
func Less(a, b string) bool {
	return SortKey(a) < SortKey(b)
}

// Range splits a volume number into its first and last segment.
// "7-9" yields ("7", "9"); "7" yields ("7", "7").
func Range(volume string) (start, end string) {
	volume = strings.TrimSpace(volume)
	if volume == "" {
		return "", ""
	}
	first, last, found := strings.Cut(volume, "-")
	if !found || last == "" {
		return first, first
	}
	return first, last
}
