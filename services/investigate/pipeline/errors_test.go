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
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestPhaseError_MatchesOnlyItsKind(t *testing.T) {
	kinds := map[Phase]error{
		PhaseRefinement:    ErrRefinement,
		PhaseTranslation:   ErrTranslation,
		PhaseExecution:     ErrExecution,
		PhaseConsolidation: ErrConsolidation,
	}
	for phase, kind := range kinds {
		err := fmt.Errorf("wrapped: %w", phaseError(phase, "conv_1", errors.New("cause")))
		for other, otherKind := range kinds {
			got := errors.Is(err, otherKind)
			if want := other == phase; got != want {
				t.Errorf("errors.Is(%s error, %v) = %v, want %v", phase, otherKind, got, want)
			}
		}
		if !errors.Is(err, kind) {
			t.Errorf("%s error does not match its kind", phase)
		}
		if PhaseOf(err) != phase {
			t.Errorf("PhaseOf = %q, want %q", PhaseOf(err), phase)
		}
		if !strings.Contains(err.Error(), string(phase)) {
			t.Errorf("message %q does not name phase %q", err, phase)
		}
	}
}

func TestPhaseError_UnwrapsCause(t *testing.T) {
	cause := errors.New("socket closed")
	err := phaseError(PhaseExecution, "", cause)
	if !errors.Is(err, cause) {
		t.Error("cause not reachable through Unwrap")
	}
}

func TestRejectedError(t *testing.T) {
	plain := &RejectedError{Message: "not an investigation"}
	if !errors.Is(plain, ErrRejected) {
		t.Error("RejectedError should match ErrRejected")
	}
	if errors.Is(plain, ErrClarificationLimit) {
		t.Error("plain rejection should not match ErrClarificationLimit")
	}

	limited := &RejectedError{Message: "too many rounds", Reason: ErrClarificationLimit}
	if !errors.Is(limited, ErrClarificationLimit) {
		t.Error("limit rejection should match ErrClarificationLimit")
	}
	if !errors.Is(ErrClarificationLimit, ErrRejected) {
		t.Error("ErrClarificationLimit should wrap ErrRejected")
	}
	if PhaseOf(limited) != "" {
		t.Error("a rejection has no phase")
	}
}

func TestParseConfidence(t *testing.T) {
	tests := map[string]Confidence{
		"high":     ConfidenceHigh,
		"High":     ConfidenceHigh,
		" MEDIUM ": ConfidenceMedium,
		"low":      ConfidenceLow,
	}
	for in, want := range tests {
		got, err := ParseConfidence(in)
		if err != nil || got != want {
			t.Errorf("ParseConfidence(%q) = (%q, %v), want %q", in, got, err, want)
		}
	}
	for _, bad := range []string{"", "very high", "unknown"} {
		if _, err := ParseConfidence(bad); err == nil {
			t.Errorf("ParseConfidence(%q) should fail", bad)
		}
	}
}
