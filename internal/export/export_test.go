package export

import (
	"strings"
	"testing"
	"time"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"My Transcript v1.2", "My-Transcript-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "transcript"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},       // Spaces encoded as %20, not +
		{"test+sign", "test%2Bsign"},           // + signs are encoded
		{"special<>", "special%3C%3E"},         // Special chars encoded
		{"normal-text.txt", "normal-text.txt"}, // Unreserved chars pass through
		{"", ""},                               // Empty string
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestRenderTranscriptHTML(t *testing.T) {
	data := TranscriptData{
		Title:       "Permit Questions",
		ProjectName: "Coastal Wind Farm",
		CreatedAt:   time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		GeneratedAt: time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
		Messages: []TranscriptMessage{
			{
				Role:      "USER",
				Content:   "What permits do we need for construction?",
				CreatedAt: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
			},
			{
				Role:      "ASSISTANT",
				Content:   "Construction requires an environmental permit.",
				Citations: []string{"Reg A", "Corpus B"},
				CreatedAt: time.Date(2026, 3, 1, 9, 30, 5, 0, time.UTC),
			},
		},
	}

	html, err := RenderTranscriptHTML(data)
	if err != nil {
		t.Fatalf("RenderTranscriptHTML: %v", err)
	}

	for _, want := range []string{
		"Permit Questions",
		"Coastal Wind Farm",
		"What permits do we need for construction?",
		"Construction requires an environmental permit.",
		"Reg A, Corpus B",
		`class="message user"`,
		`class="message assistant"`,
	} {
		if !strings.Contains(html, want) {
			t.Errorf("transcript HTML missing %q", want)
		}
	}
}

func TestRenderTranscriptHTMLEscapesContent(t *testing.T) {
	data := TranscriptData{
		Title: "XSS Check",
		Messages: []TranscriptMessage{
			{Role: "USER", Content: "<script>alert(1)</script>"},
		},
	}

	html, err := RenderTranscriptHTML(data)
	if err != nil {
		t.Fatalf("RenderTranscriptHTML: %v", err)
	}
	if strings.Contains(html, "<script>alert(1)</script>") {
		t.Error("message content was not escaped")
	}
}

func TestRenderAuditHTML(t *testing.T) {
	data := AuditData{
		OrgName:     "Acme Energy",
		GeneratedAt: time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
		Entries: []AuditEntryInfo{
			{
				RequestID:  "req-1",
				UserID:     "usr_1",
				Action:     "PROJECT_CREATE",
				TargetType: "project",
				TargetID:   "prj_1",
				CreatedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
			},
		},
	}

	html, err := RenderAuditHTML(data)
	if err != nil {
		t.Fatalf("RenderAuditHTML: %v", err)
	}

	for _, want := range []string{"Acme Energy", "PROJECT_CREATE", "usr_1", "prj_1", "req-1"} {
		if !strings.Contains(html, want) {
			t.Errorf("audit HTML missing %q", want)
		}
	}
}
