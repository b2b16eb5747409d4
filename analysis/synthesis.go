package analysis

import (
	"fmt"
	"math"
	"sort"

	"classlens/models"
)

const (
	contradictionDelta = 25.0
	strongDelta        = 40.0
	correlationDelta   = 10.0
	reinforceFloor     = 60.0
	reinforceStrong    = 75.0
)

// synthesize derives cross-framework insights, the overall score and the
// merged recommendation list from whatever frameworks succeeded.
func (e *Engine) synthesize(report *models.AnalysisReport) {
	ids := make([]string, 0, len(report.Results))
	for id := range report.Results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// Overall score: equal-weight mean over succeeded frameworks.
	var sum float64
	for _, id := range ids {
		sum += report.Results[id].Score
	}
	if len(ids) > 0 {
		report.OverallScore = math.Round(sum/float64(len(ids))*10) / 10
	}

	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := report.Results[ids[i]], report.Results[ids[j]]
			if insight, ok := e.pairInsight(a, b); ok {
				report.Insights = append(report.Insights, insight)
			}
		}
	}

	report.Recommendations = e.rankRecommendations(report.Results)
}

func (e *Engine) pairInsight(a, b *models.AnalysisResult) (models.CrossFrameworkInsight, bool) {
	delta := math.Abs(a.Score - b.Score)
	related := e.registry.Related(a.FrameworkID, b.FrameworkID)
	pair := [2]string{a.FrameworkID, b.FrameworkID}

	switch {
	case delta >= strongDelta:
		return models.CrossFrameworkInsight{
			Frameworks:   pair,
			Kind:         models.InsightContradiction,
			Significance: models.SignificanceHigh,
			Summary: fmt.Sprintf("%s (%.0f) and %s (%.0f) diverge sharply; one dimension of practice is far behind the other",
				a.FrameworkID, a.Score, b.FrameworkID, b.Score),
		}, true
	case delta >= contradictionDelta:
		return models.CrossFrameworkInsight{
			Frameworks:   pair,
			Kind:         models.InsightContradiction,
			Significance: models.SignificanceModerate,
			Summary: fmt.Sprintf("%s (%.0f) and %s (%.0f) point in different directions",
				a.FrameworkID, a.Score, b.FrameworkID, b.Score),
		}, true
	case a.Score >= reinforceStrong && b.Score >= reinforceStrong:
		return models.CrossFrameworkInsight{
			Frameworks:   pair,
			Kind:         models.InsightReinforcement,
			Significance: models.SignificanceHigh,
			Summary: fmt.Sprintf("%s and %s both score high; these practices reinforce each other",
				a.FrameworkID, b.FrameworkID),
		}, true
	case a.Score >= reinforceFloor && b.Score >= reinforceFloor:
		return models.CrossFrameworkInsight{
			Frameworks:   pair,
			Kind:         models.InsightReinforcement,
			Significance: models.SignificanceModerate,
			Summary: fmt.Sprintf("%s and %s are both solid", a.FrameworkID, b.FrameworkID),
		}, true
	case related && delta <= correlationDelta:
		return models.CrossFrameworkInsight{
			Frameworks:   pair,
			Kind:         models.InsightCorrelation,
			Significance: models.SignificanceLow,
			Summary: fmt.Sprintf("%s and %s track each other as expected for related dimensions",
				a.FrameworkID, b.FrameworkID),
		}, true
	}
	return models.CrossFrameworkInsight{}, false
}

// rankRecommendations merges every framework's recommendations into one
// list ordered by source-framework urgency, capped to the configured top N.
// Lower-scoring frameworks rank first within the same urgency: the weakest
// area needs attention most.
func (e *Engine) rankRecommendations(results map[string]*models.AnalysisResult) []models.RankedRecommendation {
	var merged []models.RankedRecommendation
	for _, result := range results {
		for _, text := range result.Recommendations {
			merged = append(merged, models.RankedRecommendation{
				Text:      text,
				Framework: result.FrameworkID,
				Priority:  result.Urgency*1000 + int(100-result.Score),
			})
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Priority != merged[j].Priority {
			return merged[i].Priority > merged[j].Priority
		}
		return merged[i].Framework < merged[j].Framework
	})

	if e.config.TopN > 0 && len(merged) > e.config.TopN {
		merged = merged[:e.config.TopN]
	}
	return merged
}
