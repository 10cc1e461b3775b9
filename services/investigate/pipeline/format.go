// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"fmt"
	"strconv"
	"strings"
)

const clarificationLead = "I need some additional information to provide a thorough analysis:"

var statusMessages = map[Phase]string{
	PhaseRefinement:    "Analyzing your query and gathering requirements...",
	PhaseTranslation:   "Generating database queries for comprehensive analysis...",
	PhaseExecution:     "Retrieving data from multiple sources...",
	PhaseConsolidation: "Consolidating findings and generating insights...",
	PhaseCompleted:     "Investigation completed successfully!",
}

// StatusMessage returns the user-facing progress line for a phase.
func StatusMessage(phase Phase) string {
	if msg, ok := statusMessages[phase]; ok {
		return msg
	}
	return "Processing your investigation request..."
}

// FormatClarification renders follow-up questions as a numbered list.
func FormatClarification(message string, followups []string) string {
	var b strings.Builder
	if message != "" {
		b.WriteString(message)
		b.WriteString("\n\n")
	}
	b.WriteString(clarificationLead)
	b.WriteString("\n")
	for i, q := range followups {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q)
	}
	return b.String()
}

// FormatRejection renders a decline.
func FormatRejection(message string) string {
	if message == "" {
		return defaultRejection
	}
	return message
}

// FormatResult renders a completed investigation as Markdown.
//
// Description:
//
//	Sections are emitted only when they have content: analysis, key
//	findings, subject profile, communication patterns, location analysis,
//	recommendations, data quality, and technical details.
func FormatResult(r *Result) string {
	if r == nil {
		return ""
	}
	c := r.Consolidated
	var b strings.Builder

	b.WriteString("**Investigation Completed**\n\n")

	if c.QueryContext != "" {
		fmt.Fprintf(&b, "**Analysis:** %s\n\n", c.QueryContext)
	}

	if len(c.KeyInsights) > 0 {
		b.WriteString("**Key Findings:**\n")
		for i, insight := range c.KeyInsights {
			fmt.Fprintf(&b, "%d. %s\n", i+1, insight)
		}
		b.WriteString("\n")
	}

	if d := c.Details; d != nil {
		if p := d.SubjectProfile; p != nil {
			b.WriteString("**Subject Profile:**\n")
			writeField(&b, "Phone", string(p.PhoneNumber))
			writeField(&b, "Total Calls", string(p.TotalCalls))
			writeField(&b, "Network Role", string(p.NetworkCentrality))
			writeField(&b, "Active Period", string(p.ActivePeriod))
			b.WriteString("\n")
		}
		writeSection(&b, "Communication Patterns", string(d.CommunicationSummary))
		writeSection(&b, "Location Analysis", string(d.LocationInsights))
		writeSection(&b, "Network Connections", string(d.NetworkConnections))
		writeSection(&b, "Timeline", string(d.TimelineAnalysis))
		if len(d.SuspiciousIndicators) > 0 {
			b.WriteString("**Suspicious Indicators:**\n")
			for _, s := range d.SuspiciousIndicators {
				fmt.Fprintf(&b, "- %s\n", s)
			}
			b.WriteString("\n")
		}
	}

	if rec := c.Recommendations; rec != nil && (len(rec.ImmediateActions) > 0 || len(rec.FurtherInvestigation) > 0 || rec.RiskAssessment != "") {
		b.WriteString("**Recommendations:**\n")
		for _, a := range rec.ImmediateActions {
			fmt.Fprintf(&b, "- Immediate: %s\n", a)
		}
		for _, a := range rec.FurtherInvestigation {
			fmt.Fprintf(&b, "- Follow up: %s\n", a)
		}
		writeField(&b, "Risk", string(rec.RiskAssessment))
		b.WriteString("\n")
	}

	q := c.DataQuality
	b.WriteString("**Data Quality:**\n")
	fmt.Fprintf(&b, "- Coverage: %s%%\n", strconv.FormatFloat(q.CoveragePercentage, 'f', -1, 64))
	fmt.Fprintf(&b, "- Confidence: %s\n", q.Confidence)
	if len(q.MissingElements) > 0 {
		fmt.Fprintf(&b, "- Missing: %s\n", strings.Join(q.MissingElements, ", "))
	}
	b.WriteString("\n")

	s := r.ExecutionSummary
	b.WriteString("**Technical Details:**\n")
	fmt.Fprintf(&b, "- SQL Queries: %d\n", len(r.StructuredQueries))
	fmt.Fprintf(&b, "- Graph Queries: %d\n", len(r.GraphQueries))
	if s.TotalRows > 0 {
		fmt.Fprintf(&b, "- Records Analyzed: %d\n", s.TotalRows)
	}
	if s.TotalNodes > 0 {
		fmt.Fprintf(&b, "- Network Nodes: %d\n", s.TotalNodes)
	}
	if s.TotalRelationships > 0 {
		fmt.Fprintf(&b, "- Relationships: %d\n", s.TotalRelationships)
	}

	return b.String()
}

// FormatOutcome renders any Outcome.
func FormatOutcome(o *Outcome) string {
	if o == nil {
		return ""
	}
	switch o.State {
	case StateCompleted:
		return FormatResult(o.Result)
	case StateAwaitingClarification:
		return FormatClarification(o.Message, o.Followups)
	case StateRejected:
		return FormatRejection(o.Message)
	default:
		return fmt.Sprintf("Investigation status: %s", o.State)
	}
}

func writeField(b *strings.Builder, label, value string) {
	if value != "" {
		fmt.Fprintf(b, "- %s: %s\n", label, value)
	}
}

func writeSection(b *strings.Builder, title, body string) {
	if body != "" {
		fmt.Fprintf(b, "**%s:**\n%s\n\n", title, body)
	}
}
