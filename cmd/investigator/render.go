// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/AleutianInvestigate/services/investigate"
	"github.com/AleutianAI/AleutianInvestigate/services/investigate/pipeline"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	errStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	keyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#AFAFAF"))
	questionMark = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Render("?")
)

// renderResponse prints an investigation response.
func renderResponse(w io.Writer, resp *investigate.InvestigateResponse) {
	switch resp.Status {
	case string(pipeline.StateCompleted):
		fmt.Fprintln(w, okStyle.Render("Investigation complete"))
		fmt.Fprintln(w)
		fmt.Fprintln(w, strings.TrimSpace(resp.Formatted))
	case string(pipeline.StateAwaitingClarification):
		fmt.Fprintln(w, warnStyle.Render("More details needed"))
		if resp.Message != "" {
			fmt.Fprintln(w, resp.Message)
		}
		for _, q := range resp.FollowupQuestions {
			fmt.Fprintf(w, " %s %s\n", questionMark, q)
		}
	case string(pipeline.StateRejected):
		fmt.Fprintln(w, warnStyle.Render("Not an investigation query"))
		fmt.Fprintln(w, resp.Message)
		if resp.Closed {
			fmt.Fprintln(w, dimStyle.Render("This conversation is closed. Start a new one."))
		}
	case investigate.StatusFailed:
		fmt.Fprintln(w, errStyle.Render(fmt.Sprintf("The %s phase failed", resp.Phase)))
		fmt.Fprintln(w, resp.Error)
	default:
		fmt.Fprintln(w, resp.Formatted)
	}
	if resp.ConversationID != "" {
		fmt.Fprintln(w, dimStyle.Render("conversation: "+resp.ConversationID))
	}
}

// renderError prints a request failure, naming the phase when known.
func renderError(w io.Writer, err error) {
	var se *serverError
	if errors.As(err, &se) && se.Body.Phase != "" {
		fmt.Fprintln(w, errStyle.Render(fmt.Sprintf("The %s phase failed", se.Body.Phase)))
		fmt.Fprintln(w, se.Body.Error)
		if se.Body.ConversationID != "" {
			fmt.Fprintln(w, dimStyle.Render("conversation: "+se.Body.ConversationID))
		}
		return
	}
	fmt.Fprintln(w, errStyle.Render("Error: ")+err.Error())
}

// renderPhase prints one progress line.
func renderPhase(w io.Writer, ev pipeline.PhaseEvent) {
	switch ev.State {
	case pipeline.EventStarted:
		msg := ev.Message
		if msg == "" {
			msg = pipeline.StatusMessage(ev.Phase)
		}
		fmt.Fprintln(w, dimStyle.Render("… "+msg))
	case pipeline.EventCompleted:
		fmt.Fprintln(w, okStyle.Render("✓ ")+string(ev.Phase))
	case pipeline.EventFailed:
		fmt.Fprintln(w, errStyle.Render("✗ ")+string(ev.Phase))
	}
}

func renderHealth(w io.Writer, h *investigate.HealthResponse) {
	style := okStyle
	if h.Status != "healthy" {
		style = errStyle
	}
	fmt.Fprintf(w, "%s %s\n", keyStyle.Render("status: "), style.Render(h.Status))
	fmt.Fprintf(w, "%s %s\n", keyStyle.Render("agents: "), h.Agents)
	if h.Version != "" {
		fmt.Fprintf(w, "%s %s\n", keyStyle.Render("version:"), h.Version)
	}
	if h.Error != "" {
		fmt.Fprintf(w, "%s %s\n", keyStyle.Render("error:  "), h.Error)
	}
}

func renderConversations(w io.Writer, list *investigate.ConversationsResponse) {
	if list.Count == 0 {
		fmt.Fprintln(w, dimStyle.Render("No conversations yet."))
		return
	}
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%d recent conversations", list.Count)))
	for _, c := range list.Conversations {
		fmt.Fprintf(w, "%s  %-24s %s  %s\n",
			c.ID,
			string(c.Status),
			dimStyle.Render(c.LastActivity.Local().Format(time.DateTime)),
			truncate(c.FirstQuery, 60))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
