package classify

import "strings"

// complexityPatterns maps SQL features to a 1-5 difficulty level.
// Level assignment follows the cognitive-load hierarchy used by the
// explanation layer: filtering < joins < subqueries < window functions.
var complexityPatterns = map[int][]string{
	2: {"WHERE", "GROUP BY", "ORDER BY"},
	3: {"JOIN", "INNER JOIN", "LEFT JOIN"},
	4: {"HAVING", "CASE WHEN", "UNION", "EXISTS"},
	5: {"OVER (", "OVER(", "PARTITION BY", "WITH ", "RECURSIVE"},
}

// Complexity scores a SQL query on a 1-5 scale. A bare SELECT is 1;
// multiple SELECTs (subqueries) escalate to at least 4, multiple JOINs
// to 5.
func Complexity(sqlQuery string) int {
	upper := strings.ToUpper(sqlQuery)
	score := 1

	for level, patterns := range complexityPatterns {
		for _, p := range patterns {
			if strings.Contains(upper, p) {
				if level > score {
					score = level
				}
				break
			}
		}
	}

	if strings.Count(upper, "SELECT") > 1 {
		score = max(score, 4)
	}
	if strings.Count(upper, "JOIN") > 1 {
		score = 5
	}

	if score > 5 {
		score = 5
	}
	return score
}

// SQL concept categories, most to least advanced. Concept checks run in
// this order so the most specific category wins.
const (
	ConceptAdvancedAnalytics = "advanced_analytics"
	ConceptWindowFunctions   = "window_functions"
	ConceptAdvancedLogic     = "advanced_logic"
	ConceptJoins             = "joins"
	ConceptAggregation       = "aggregation"
	ConceptBasicSelect       = "basic_select"
)

var conceptKeywords = []struct {
	concept  string
	keywords []string
}{
	{ConceptAdvancedAnalytics, []string{"WITH ", "RECURSIVE"}},
	{ConceptWindowFunctions, []string{"OVER (", "OVER(", "PARTITION BY", "ROW_NUMBER", "RANK("}},
	{ConceptAdvancedLogic, []string{"CASE WHEN", "UNION", "EXISTS"}},
	{ConceptJoins, []string{"JOIN"}},
	{ConceptAggregation, []string{"GROUP BY", "HAVING", "SUM(", "COUNT(", "AVG(", "MAX(", "MIN("}},
}

// Concept classifies a SQL query into the concept category used for
// expertise tracking and explanation selection.
func Concept(sqlQuery string) string {
	upper := strings.ToUpper(sqlQuery)
	for _, c := range conceptKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(upper, kw) {
				return c.concept
			}
		}
	}
	return ConceptBasicSelect
}
