// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import "strings"

// ContextHeading opens the block FormatContext produces.
const ContextHeading = "## Earlier in this conversation"

// FormatContext renders entries, oldest first, as the conversation block
// given to the answer prompts. No entries yields "".
//
// Example:
//
//	## Earlier in this conversation
//	User: where is order 7?
//	Assistant: It shipped yesterday.
func FormatContext(entries []Entry) string {
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(ContextHeading)
	for _, e := range entries {
		b.WriteString("\nUser: ")
		b.WriteString(e.UserMessage)
		b.WriteString("\nAssistant: ")
		b.WriteString(e.Response)
	}
	return b.String()
}
