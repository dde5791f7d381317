package jira

import (
	"encoding/json"
	"strings"
)

// DescriptionToPlainText extracts plain text from a rich-text field. The cloud
// API returns ADF (Atlassian Document Format) JSON; the server API returns a
// plain string.
func DescriptionToPlainText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var doc struct {
		Type    string `json:"type"`
		Content []struct {
			Type    string `json:"type"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"content"`
	}

	if err := json.Unmarshal(raw, &doc); err != nil || doc.Type != "doc" {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return string(raw)
	}

	var parts []string
	for _, block := range doc.Content {
		var line []string
		for _, inline := range block.Content {
			if inline.Text != "" {
				line = append(line, inline.Text)
			}
		}
		parts = append(parts, strings.Join(line, ""))
	}

	return strings.Join(parts, "\n")
}

// PlainTextToADF converts plain text to an ADF document, one paragraph per line.
func PlainTextToADF(text string) json.RawMessage {
	if text == "" {
		return nil
	}

	var content []any
	for _, para := range strings.Split(text, "\n") {
		if para == "" {
			content = append(content, map[string]any{
				"type":    "paragraph",
				"content": []any{},
			})
			continue
		}
		content = append(content, map[string]any{
			"type": "paragraph",
			"content": []any{
				map[string]any{"type": "text", "text": para},
			},
		})
	}

	data, _ := json.Marshal(map[string]any{
		"type":    "doc",
		"version": 1,
		"content": content,
	})
	return data
}

// richText encodes text for a rich-text field in the client's API version.
func (c *Client) richText(text string) any {
	if !c.Cloud() {
		return text
	}
	if text == "" {
		return nil
	}
	return PlainTextToADF(text)
}
