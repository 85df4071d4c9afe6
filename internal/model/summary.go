package model

import "sort"

// TopRulesLimit is the maximum number of rules kept in SiteSummary.TopRules.
const TopRulesLimit = 10

// SiteSummary is the site-level reduction of many page results.
// It is derived data: the same pages always produce the same summary.
//
// Design decision: The summary is computed, not stored alongside the page
// results in the artifact. Keeping it derivable means the stored report
// remains the single source of truth and renderers can recompute it.
type SiteSummary struct {
	// TotalPages is the number of page results that were aggregated.
	TotalPages int `json:"totalPages"`

	// TotalViolations is the sum of violated rules over all pages.
	TotalViolations int `json:"totalViolations"`

	// TotalIncomplete is the sum of needs-review rules over all pages.
	TotalIncomplete int `json:"totalIncomplete"`

	// TopRules are the most frequent violated rules, ordered by the
	// number of affected nodes across the site.
	TopRules []RuleStat `json:"topRules"`

	// Pages holds one summary per page in scan order.
	Pages []PageSummary `json:"perPageSummaries"`
}

// RuleStat is the site-wide tally of one violated rule.
type RuleStat struct {
	// RuleID is the engine rule identifier.
	RuleID string `json:"ruleId"`

	// Count is the number of affected nodes across all pages.
	Count int `json:"count"`

	// Impact, Help, HelpURL and Description are taken from the first
	// page on which the rule was seen.
	Impact      Impact `json:"impact"`
	Help        string `json:"help"`
	HelpURL     string `json:"helpUrl"`
	Description string `json:"description"`
}

// PageSummary is the per-page line of a site summary.
type PageSummary struct {
	URL        string `json:"url"`
	Violations int    `json:"violationCount"`
	Incomplete int    `json:"incompleteCount"`
}

// NewSiteSummary reduces page results into site-level statistics.
//
// Violations are counted per rule and not per node, so TotalViolations is
// the number of rule failures over all pages. RuleStat.Count instead sums
// affected nodes, so a rule that fails on many elements ranks higher than
// one that fails once per page. Ties keep the order in which rules were
// first encountered, page by page.
//
// The function is pure: it reads no clock and never mutates its input.
func NewSiteSummary(pages []PageAuditResult) *SiteSummary {
	summary := &SiteSummary{
		TotalPages: len(pages),
		TopRules:   []RuleStat{},
		Pages:      make([]PageSummary, 0, len(pages)),
	}

	for i := range pages {
		page := &pages[i]
		summary.TotalViolations += page.ViolationCount()
		summary.TotalIncomplete += page.IncompleteCount()
		summary.Pages = append(summary.Pages, PageSummary{
			URL:        page.URL,
			Violations: page.ViolationCount(),
			Incomplete: page.IncompleteCount(),
		})
	}

	stats := RankRules(pages)
	if len(stats) > TopRulesLimit {
		stats = stats[:TopRulesLimit]
	}
	summary.TopRules = append(summary.TopRules, stats...)

	return summary
}

// RankRules tallies every violated rule over pages, ordered the same way
// as SiteSummary.TopRules but without the length limit.
func RankRules(pages []PageAuditResult) []RuleStat {
	index := make(map[string]int)
	stats := make([]RuleStat, 0)

	for i := range pages {
		for _, v := range pages[i].Violations {
			pos, ok := index[v.RuleID]
			if !ok {
				pos = len(stats)
				index[v.RuleID] = pos
				stats = append(stats, RuleStat{
					RuleID:      v.RuleID,
					Impact:      v.Impact,
					Help:        v.Help,
					HelpURL:     v.HelpURL,
					Description: v.Description,
				})
			}
			stats[pos].Count += len(v.Nodes)
		}
	}

	// SliceStable keeps first-seen order between equal counts.
	sort.SliceStable(stats, func(a, b int) bool {
		return stats[a].Count > stats[b].Count
	})
	return stats
}

// ImpactBreakdown counts violated rules per impact over all pages.
// Every impact level is present in the result, zero when unused.
func ImpactBreakdown(pages []PageAuditResult) map[Impact]int {
	counts := make(map[Impact]int, len(AllImpacts()))
	for _, impact := range AllImpacts() {
		counts[impact] = 0
	}
	for i := range pages {
		for _, v := range pages[i].Violations {
			counts[v.Impact]++
		}
	}
	return counts
}
