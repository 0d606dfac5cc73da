package extract

import (
	"regexp"
	"strings"
)

// ErrCodeParse marks output that matched none of the grammar.
const ErrCodeParse = "parse_error"

// Result is the parsed form of one model reply.
type Result struct {
	ScrapeStatus     string // "success" or "error"
	ErrorCode        string // "" when none
	SectorialNiches  []string
	EndMarkets       []string
	ProductOfferings []string
	ServiceOfferings []string
	CoreActivities   []string
}

// Parseable reports whether the reply matched the grammar at all. A
// non-parseable result must be dead-lettered, not consolidated.
func (r Result) Parseable() bool {
	return r.ErrorCode != ErrCodeParse
}

// hasSubstance reports whether the fields that can only come from page
// content are populated. End markets are excluded from the check.
func (r Result) hasSubstance() bool {
	return len(r.SectorialNiches) > 0 || len(r.ProductOfferings) > 0 ||
		len(r.ServiceOfferings) > 0 || len(r.CoreActivities) > 0
}

var (
	statusPattern = regexp.MustCompile(`(?i)scrape_status:\s*(success|error)`)
	errorPattern  = regexp.MustCompile(`(?i)error_code:\s*(\w+|null)`)

	fieldPatterns = []struct {
		dst     func(*Result) *[]string
		pattern *regexp.Regexp
	}{
		{func(r *Result) *[]string { return &r.SectorialNiches }, regexp.MustCompile(`(?i)sectorial niche/?s:\s*([^\n]+)`)},
		{func(r *Result) *[]string { return &r.EndMarkets }, regexp.MustCompile(`(?i)end markets:\s*([^\n]+)`)},
		{func(r *Result) *[]string { return &r.ProductOfferings }, regexp.MustCompile(`(?i)product offerings:\s*([^\n]+)`)},
		{func(r *Result) *[]string { return &r.ServiceOfferings }, regexp.MustCompile(`(?i)service offerings:\s*([^\n]+)`)},
		{func(r *Result) *[]string { return &r.CoreActivities }, regexp.MustCompile(`(?i)core activities:\s*([^\n]+)`)},
	}

	valueSplitter = regexp.MustCompile(`[,;]`)
)

// Parse reads one model reply in the guarded extraction format. Output
// matching nothing yields scrape_status error with ErrCodeParse. An error
// status, declared or defaulted, ends parsing before the content fields;
// a success reply keeps a stale error code unless a substantive field
// proves the page was actually read.
func Parse(text string) Result {
	result := Result{ScrapeStatus: "error", ErrorCode: ErrCodeParse}

	if m := statusPattern.FindStringSubmatch(text); m != nil {
		result.ScrapeStatus = strings.ToLower(m[1])
	}
	if m := errorPattern.FindStringSubmatch(text); m != nil {
		if code := strings.ToLower(m[1]); code != "null" {
			result.ErrorCode = code
		} else {
			result.ErrorCode = ""
		}
	}

	// Fields below a failure header are noise; the verdict stands.
	if result.ScrapeStatus == "error" {
		return result
	}

	for _, f := range fieldPatterns {
		if m := f.pattern.FindStringSubmatch(text); m != nil {
			*f.dst(&result) = splitValues(m[1])
		}
	}

	if result.hasSubstance() {
		result.ErrorCode = ""
	}

	return result
}

func splitValues(raw string) []string {
	var values []string
	for _, v := range valueSplitter.Split(raw, -1) {
		v = strings.TrimSpace(v)
		v = strings.Trim(v, `"'`)
		if v != "" {
			values = append(values, v)
		}
	}
	return values
}
