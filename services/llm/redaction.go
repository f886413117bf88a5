// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"regexp"
	"strings"
)

// secretRule is one redaction rule: what to find and what to print instead.
type secretRule struct {
	re    *regexp.Regexp
	label string
}

// secretRules are applied in order. The Anthropic rule must run before the
// generic "sk-" rule or Anthropic keys come out labelled as OpenAI keys.
var secretRules = []secretRule{
	{regexp.MustCompile(`sk-ant-api03-[A-Za-z0-9_-]{20,}`), "[REDACTED:anthropic_key]"},
	{regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`), "[REDACTED:openai_key]"},
	{regexp.MustCompile(`AIza[A-Za-z0-9_-]{30,}`), "[REDACTED:gemini_key]"},
	{regexp.MustCompile(`Bearer\s+[A-Za-z0-9._-]{10,}`), "[REDACTED:bearer_token]"},
	{regexp.MustCompile(`(?i)(x-api-key|x-goog-api-key)["':=\s]+[A-Za-z0-9._-]{10,}`), "${1}=[REDACTED]"},
	{regexp.MustCompile(`key=[A-Za-z0-9._-]{10,}`), "key=[REDACTED]"},
	{regexp.MustCompile(`token=[A-Za-z0-9._-]{10,}`), "token=[REDACTED]"},
	{regexp.MustCompile(`password=[^\s&]{3,}`), "password=[REDACTED]"},
	{regexp.MustCompile(`(postgres|mysql|mongodb|https?)://[^\s/@]+:[^\s/@]+@`), "${1}://[REDACTED]@"},
}

// SafeLogString strips known secret formats from s before it is logged or
// stored on a Strategy.
//
// Description:
//
//	Provider error bodies, tool server responses and management API errors
//	are echoed into logs and into Strategy diagnostics. Any API key, bearer
//	token, query-string credential or userinfo section of a URL is replaced
//	with a labelled placeholder so the reader can tell what was removed.
//
// Inputs:
//
//	s - Arbitrary text. Empty input is returned unchanged.
//
// Outputs:
//
//	string - s with every match replaced.
//
// Limitations:
//
//	Pattern based. Secrets with no recognizable shape pass through.
//
// Thread Safety: Safe for concurrent use.
func SafeLogString(s string) string {
	if s == "" {
		return s
	}
	for _, r := range secretRules {
		s = r.re.ReplaceAllString(s, r.label)
	}
	return s
}

// Truncate shortens s to at most max bytes for log attributes, appending
// "..." when it cut anything. It never splits a UTF-8 sequence.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return strings.TrimRight(s[:cut], " \n\t") + "..."
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
