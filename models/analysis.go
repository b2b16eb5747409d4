package models

import (
	"time"
)

// AnalysisResult is one framework's verdict over one transcript. The engine
// treats Dimensions as opaque framework-specific fields.
type AnalysisResult struct {
	ID              string             `json:"id"`
	FrameworkID     string             `json:"framework_id"`
	Score           float64            `json:"score"`
	Dimensions      map[string]float64 `json:"dimensions,omitempty"`
	Summary         string             `json:"summary,omitempty"`
	Recommendations []string           `json:"recommendations,omitempty"`
	Urgency         int                `json:"urgency"`
	CreatedAt       time.Time          `json:"created_at"`
}

// AnalysisError records why one framework produced no result.
type AnalysisError struct {
	FrameworkID string `json:"framework_id"`
	Code        string `json:"code"`
	Message     string `json:"message"`
}

type InsightKind string

const (
	InsightCorrelation   InsightKind = "correlation"
	InsightContradiction InsightKind = "contradiction"
	InsightReinforcement InsightKind = "reinforcement"
)

type InsightSignificance string

const (
	SignificanceHigh     InsightSignificance = "high"
	SignificanceModerate InsightSignificance = "moderate"
	SignificanceLow      InsightSignificance = "low"
)

// CrossFrameworkInsight is derived pairwise from completed results. It is
// recomputed from its parent result set, never persisted on its own.
type CrossFrameworkInsight struct {
	Frameworks   [2]string           `json:"frameworks"`
	Kind         InsightKind         `json:"kind"`
	Significance InsightSignificance `json:"significance"`
	Summary      string              `json:"summary"`
}

// RankedRecommendation is one entry of the merged cross-framework
// recommendation list.
type RankedRecommendation struct {
	Text      string `json:"text"`
	Framework string `json:"framework"`
	Priority  int    `json:"priority"`
}

// AnalysisReport is the synthesized output over all requested frameworks.
// Coverage reports the fraction of requested frameworks that produced a
// usable result; partial results are always returned.
type AnalysisReport struct {
	ID              string                     `json:"id"`
	TranscriptID    string                     `json:"transcript_id,omitempty"`
	Results         map[string]*AnalysisResult `json:"results"`
	Errors          map[string]*AnalysisError  `json:"errors,omitempty"`
	Insights        []CrossFrameworkInsight    `json:"insights,omitempty"`
	Recommendations []RankedRecommendation     `json:"recommendations,omitempty"`
	OverallScore    float64                    `json:"overall_score"`
	Coverage        float64                    `json:"coverage"`
	CreatedAt       time.Time                  `json:"created_at"`
}
