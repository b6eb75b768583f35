// Copyright (c) 2025-2026 loopmaster303
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "strings"

// =============================================================================
// RESPONSE STYLES
// =============================================================================

// Style is a named system-prompt preset. The {userDisplayName}
// placeholder is substituted at request time.
type Style struct {
	ID           string
	Name         string
	SystemPrompt string
}

// builtinStyles is the style catalog, keyed by id.
var builtinStyles = map[string]Style{
	"basic": {
		ID:           "basic",
		Name:         "Basic",
		SystemPrompt: "You are a helpful assistant. Address the user as {userDisplayName} when a name is set.",
	},
	"precise": {
		ID:           "precise",
		Name:         "Precise",
		SystemPrompt: "You are a precise assistant. Answer concisely and factually. The user's name is {userDisplayName}.",
	},
	"casual": {
		ID:           "casual",
		Name:         "Casual",
		SystemPrompt: "You are a friendly conversation partner chatting with {userDisplayName}. Keep the tone relaxed.",
	},
	"user default": {
		ID:   "user default",
		Name: "User Default",
		// Resolved against the user's custom system prompt.
	},
}

// Styles returns the style catalog.
func Styles() []Style {
	out := make([]Style, 0, len(builtinStyles))
	for _, s := range builtinStyles {
		out = append(out, s)
	}
	return out
}

// ResolveSystemPrompt produces the effective system prompt for a
// conversation: the selected style's preset, or the user's custom
// prompt for the "user default" style (and for unknown style ids),
// with the display-name placeholder filled in.
func ResolveSystemPrompt(styleID, customPrompt, userDisplayName string) string {
	var prompt string
	if style, ok := builtinStyles[styleID]; ok && style.SystemPrompt != "" {
		prompt = style.SystemPrompt
	} else {
		prompt = customPrompt
	}

	if prompt == "" {
		return ""
	}

	name := userDisplayName
	if name == "" {
		name = "the user"
	}
	return strings.ReplaceAll(prompt, "{userDisplayName}", name)
}
