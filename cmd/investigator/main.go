// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command investigator is the terminal client for Aleutian Investigate.
//
// Usage:
//
//	investigator ask "Who did 9876543210 call most in March?"
//	investigator ask --stream "Tower dump for cell 4411 on 2024-03-02"
//	investigator chat
//	investigator conversations --limit 20
//	investigator show conv_...
//	investigator health
//
// The orchestrator URL comes from --server or INVESTIGATE_URL.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
