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
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianInvestigate/services/investigate"
	"github.com/AleutianAI/AleutianInvestigate/services/investigate/pipeline"
)

const defaultServerURL = "http://localhost:12220"

// rootOptions holds the persistent flags.
type rootOptions struct {
	server  string
	timeout time.Duration
	json    bool
}

func (o *rootOptions) client() *apiClient {
	return newAPIClient(o.server, o.timeout)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	server := os.Getenv("INVESTIGATE_URL")
	if server == "" {
		server = defaultServerURL
	}

	root := &cobra.Command{
		Use:           "investigator",
		Short:         "Ask investigative questions over telecom evidence",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", server, "Orchestrator base URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "Request timeout")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "Print raw JSON")

	root.AddCommand(
		newAskCmd(opts),
		newChatCmd(opts),
		newHealthCmd(opts),
		newConversationsCmd(opts),
		newShowCmd(opts),
	)
	return root
}

func newAskCmd(opts *rootOptions) *cobra.Command {
	var (
		conversationID string
		stream         bool
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Run one investigation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			req := investigate.InvestigateRequest{
				Query:          strings.Join(args, " "),
				ConversationID: conversationID,
			}

			var (
				resp *investigate.InvestigateResponse
				err  error
			)
			if stream {
				resp, err = opts.client().stream(ctx, req, func(ev pipeline.PhaseEvent) {
					if !opts.json {
						renderPhase(out, ev)
					}
				})
			} else {
				resp, err = opts.client().investigate(ctx, req)
			}
			if err != nil {
				renderError(cmd.ErrOrStderr(), err)
				return err
			}
			if opts.json {
				return printJSON(out, resp)
			}
			renderResponse(out, resp)
			if resp.Status == investigate.StatusFailed {
				return fmt.Errorf("%s phase failed", resp.Phase)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "Continue this conversation")
	cmd.Flags().BoolVar(&stream, "stream", false, "Show phase progress while the investigation runs")
	return cmd
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive session that answers follow-up questions in place",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, opts.client(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// runChat reads questions line by line. While the server is waiting for
// details, the next line is sent as the answer to the same conversation.
func runChat(ctx context.Context, client *apiClient, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, titleStyle.Render("Aleutian Investigate"))
	fmt.Fprintln(out, dimStyle.Render("Type a question. /new starts over, exit quits."))

	scanner := bufio.NewScanner(in)
	conversationID := ""
	awaiting := false
	for {
		if awaiting {
			fmt.Fprint(out, questionMark+" ")
		} else {
			fmt.Fprint(out, "> ")
		}
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit", "q":
			fmt.Fprintln(out, "Goodbye.")
			return nil
		case "/new":
			conversationID, awaiting = "", false
			fmt.Fprintln(out, dimStyle.Render("Started a new conversation."))
			continue
		}

		var (
			resp *investigate.InvestigateResponse
			err  error
		)
		if awaiting {
			resp, err = client.continueInvestigation(ctx, investigate.ContinueRequest{ConversationID: conversationID, Answer: line})
		} else {
			resp, err = client.investigate(ctx, investigate.InvestigateRequest{Query: line})
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			renderError(out, err)
			conversationID, awaiting = "", false
			continue
		}

		renderResponse(out, resp)
		if resp.Status == string(pipeline.StateAwaitingClarification) {
			conversationID, awaiting = resp.ConversationID, true
		} else {
			conversationID, awaiting = "", false
		}
	}
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the orchestrator and agent service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := opts.client().health(cmd.Context())
			if err != nil {
				renderError(cmd.ErrOrStderr(), err)
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), h)
			}
			renderHealth(cmd.OutOrStdout(), h)
			if h.Status != "healthy" {
				return errors.New("service degraded")
			}
			return nil
		},
	}
}

func newConversationsCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "List recent conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := opts.client().conversations(cmd.Context(), limit)
			if err != nil {
				renderError(cmd.ErrOrStderr(), err)
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), list)
			}
			renderConversations(cmd.OutOrStdout(), list)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum conversations to list")
	return cmd
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	var history bool
	cmd := &cobra.Command{
		Use:   "show [conversation-id]",
		Short: "Show an archived investigation report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if history {
				conv, err := opts.client().conversation(cmd.Context(), args[0])
				if err != nil {
					renderError(cmd.ErrOrStderr(), err)
					return err
				}
				if opts.json {
					return printJSON(out, conv)
				}
				fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%s (%s)", conv.ID, conv.Status)))
				for _, m := range conv.Messages {
					label := string(m.Role)
					if phase := m.Phase(); phase != "" {
						label += "/" + phase
					}
					fmt.Fprintf(out, "%s %s\n", keyStyle.Render(fmt.Sprintf("[%s]", label)), truncate(m.Text(), 200))
				}
				return nil
			}

			inv, err := opts.client().investigation(cmd.Context(), args[0])
			if err != nil {
				renderError(cmd.ErrOrStderr(), err)
				return err
			}
			if opts.json {
				return printJSON(out, inv.Result)
			}
			fmt.Fprintln(out, strings.TrimSpace(inv.Formatted))
			return nil
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "Show the conversation's message history instead of the report")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
