package tokens

import (
	"strings"
	"testing"

	"llm-gateway/pkg/models"
)

func TestCount(t *testing.T) {
	e := NewEstimator()

	tests := []struct {
		name string
		text string
		want int
	}{
		{
			name: "empty text",
			text: "",
			want: 0,
		},
		{
			name: "single word",
			text: "hello",
			want: 1, // int(1 * 1.3)
		},
		{
			name: "ten words",
			text: "one two three four five six seven eight nine ten",
			want: 13, // int(10 * 1.3)
		},
		{
			name: "cjk characters cost one each",
			text: "你好世界",
			want: 4,
		},
		{
			name: "symbols cost half",
			text: "!!!!",
			want: 2, // int(4 * 0.5)
		},
		{
			name: "single symbol floors to one",
			text: "!",
			want: 1, // int(0.5) == 0, floored to 1 for non-empty input
		},
		{
			name: "mixed text",
			text: "hello 世界!",
			want: 3, // int(1*1.3) + 2 cjk + int(1*0.5)==0
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Count(tt.text); got != tt.want {
				t.Errorf("Count(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestCountScalesWithWords(t *testing.T) {
	e := NewEstimator()
	for _, n := range []int{5, 20, 100} {
		text := strings.TrimSpace(strings.Repeat("word ", n))
		want := int(float64(n) * tokensPerWord)
		if got := e.Count(text); got != want {
			t.Errorf("Count of %d words = %d, want %d", n, got, want)
		}
	}
}

func TestCountMessages(t *testing.T) {
	e := NewEstimator()
	messages := []models.ChatMessage{
		{Role: "user", Content: "hello there"},
		{Role: "assistant", Content: "hi"},
	}
	// user: 1 role + 2 words content, assistant: 1 role + 1 word content,
	// plus the framing overhead on each.
	want := (1 + 2 + messageOverhead) + (1 + 1 + messageOverhead)
	if got := e.CountMessages(messages); got != want {
		t.Errorf("CountMessages() = %d, want %d", got, want)
	}

	if got := e.CountMessages(nil); got != 0 {
		t.Errorf("CountMessages(nil) = %d, want 0", got)
	}
}

func msg(role, content string) models.ChatMessage {
	return models.ChatMessage{Role: role, Content: content}
}

func TestTruncateKeepsRecentMessages(t *testing.T) {
	e := NewEstimator()
	messages := []models.ChatMessage{
		msg("user", "oldest message with quite a few extra words in it"),
		msg("assistant", "middle reply"),
		msg("user", "newest question"),
	}

	budget := e.CountMessages(messages[1:])
	got := e.Truncate(messages, budget, true)

	if len(got) != 2 {
		t.Fatalf("Truncate() kept %d messages, want 2", len(got))
	}
	if got[0].Content != "middle reply" || got[1].Content != "newest question" {
		t.Errorf("Truncate() kept wrong messages: %+v", got)
	}
	if e.CountMessages(got) > budget {
		t.Errorf("Truncate() result costs %d tokens, budget %d", e.CountMessages(got), budget)
	}
}

func TestTruncatePreservesOrder(t *testing.T) {
	e := NewEstimator()
	var messages []models.ChatMessage
	for _, content := range []string{"first", "second", "third", "fourth", "fifth"} {
		messages = append(messages, msg("user", content))
	}

	got := e.Truncate(messages, e.CountMessages(messages), true)
	if len(got) != len(messages) {
		t.Fatalf("Truncate() with full budget dropped messages: got %d", len(got))
	}
	for i := range got {
		if got[i].Content != messages[i].Content {
			t.Errorf("Truncate() reordered: position %d = %q, want %q", i, got[i].Content, messages[i].Content)
		}
	}
}

func TestTruncateSystemMessagesFirst(t *testing.T) {
	e := NewEstimator()
	messages := []models.ChatMessage{
		msg("system", "you are a helpful assistant"),
		msg("user", "hello"),
		msg("assistant", "hi there"),
		msg("user", "what is the weather"),
	}

	got := e.Truncate(messages, 30, true)
	if len(got) == 0 || got[0].Role != "system" {
		t.Fatalf("Truncate() did not keep the system message first: %+v", got)
	}

	// Without preservation the system message is dropped outright.
	got = e.Truncate(messages, 30, false)
	for _, m := range got {
		if m.Role == "system" {
			t.Errorf("Truncate(preserveSystem=false) kept a system message")
		}
	}
}

func TestTruncateKeepsOnlyLastSystemMessageWhenOverBudget(t *testing.T) {
	e := NewEstimator()
	big := strings.TrimSpace(strings.Repeat("directive ", 50))
	messages := []models.ChatMessage{
		msg("system", big),
		msg("system", "short final directive"),
		msg("user", "hello"),
	}

	got := e.Truncate(messages, 20, true)
	systems := 0
	for _, m := range got {
		if m.Role == "system" {
			systems++
			if m.Content != "short final directive" {
				t.Errorf("kept wrong system message: %q", m.Content)
			}
		}
	}
	if systems != 1 {
		t.Errorf("kept %d system messages, want 1", systems)
	}
}

func TestTruncateSingleOversizedMessage(t *testing.T) {
	e := NewEstimator()
	big := strings.TrimSpace(strings.Repeat("word ", 400))
	messages := []models.ChatMessage{msg("user", big)}

	got := e.Truncate(messages, 100, true)
	if len(got) != 1 {
		t.Fatalf("Truncate() dropped the sole oversized message, want it truncated")
	}
	if !strings.HasSuffix(got[0].Content, TruncationMarker) {
		t.Errorf("truncated message is missing the marker suffix")
	}
	if len(got[0].Content) >= len(big) {
		t.Errorf("truncated message did not shrink")
	}
}

func TestTruncateOversizedOldMessageIsDropped(t *testing.T) {
	e := NewEstimator()
	big := strings.TrimSpace(strings.Repeat("word ", 400))
	messages := []models.ChatMessage{
		msg("user", big),
		msg("assistant", "short answer"),
	}

	// The newest message fits; the oversized older one is dropped, not
	// truncated, because it is not the sole candidate.
	got := e.Truncate(messages, 50, true)
	if len(got) != 1 || got[0].Content != "short answer" {
		t.Fatalf("Truncate() = %+v, want only the newest message", got)
	}
}

func TestTruncateEmptyInput(t *testing.T) {
	e := NewEstimator()
	if got := e.Truncate(nil, 100, true); len(got) != 0 {
		t.Errorf("Truncate(nil) = %+v, want empty", got)
	}
}
