// Copyright (c) 2025-2026 loopmaster303
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExportMarkdown renders a conversation as a Markdown transcript.
func (s *Service) ExportMarkdown(id string) (string, error) {
	s.mu.Lock()
	conv := s.findLocked(id)
	if conv == nil {
		s.mu.Unlock()
		return "", ErrConversationNotFound
	}
	conv = conv.Clone()
	s.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", conv.Title)
	fmt.Fprintf(&b, "Created: %s\n\n", conv.CreatedAt.Format("2006-01-02 15:04"))

	for _, msg := range conv.Messages {
		fmt.Fprintf(&b, "## %s\n\n", msg.Role.DisplayName())
		b.WriteString(msg.Content)
		b.WriteString("\n\n")
	}

	return b.String(), nil
}

// ExportJSON renders a conversation as indented JSON.
func (s *Service) ExportJSON(id string) (string, error) {
	s.mu.Lock()
	conv := s.findLocked(id)
	if conv == nil {
		s.mu.Unlock()
		return "", ErrConversationNotFound
	}
	conv = conv.Clone()
	s.mu.Unlock()

	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode conversation: %w", err)
	}
	return string(data), nil
}
