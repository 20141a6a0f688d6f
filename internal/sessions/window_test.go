package sessions

import (
	"strings"
	"testing"

	"github.com/haasonsaas/chatcore/pkg/models"
)

func turn(role models.Role, chars int, tag string) models.Turn {
	return models.Turn{Role: role, Content: tag + strings.Repeat("x", chars-len(tag))}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 0},
		{"abcd", 1},
		{strings.Repeat("a", 41), 10},
		{"ééééé", 1},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestTrim(t *testing.T) {
	system := turn(models.RoleSystem, 400, "sys")
	u1 := turn(models.RoleUser, 40, "u1")
	a1 := turn(models.RoleAssistant, 40, "a1")
	u2 := turn(models.RoleUser, 40, "u2")

	tests := []struct {
		name      string
		history   []models.Turn
		maxTokens int
		want      []string
	}{
		{
			name:      "within budget is unchanged",
			history:   []models.Turn{u1, system, a1},
			maxTokens: 20,
			want:      []string{"u1", "sys", "a1"},
		},
		{
			name:      "drops oldest conversational first",
			history:   []models.Turn{system, u1, a1, u2},
			maxTokens: 20,
			want:      []string{"sys", "a1", "u2"},
		},
		{
			name:      "pinned never counted or removed",
			history:   []models.Turn{u1, system, a1, u2},
			maxTokens: 10,
			want:      []string{"sys", "u2"},
		},
		{
			name:      "single oversized message is kept",
			history:   []models.Turn{system, turn(models.RoleUser, 4000, "big")},
			maxTokens: 5,
			want:      []string{"sys", "big"},
		},
		{
			name:      "zero budget keeps last conversational",
			history:   []models.Turn{u1, a1, u2},
			maxTokens: 0,
			want:      []string{"u2"},
		},
		{
			name:      "empty history",
			history:   nil,
			maxTokens: 10,
			want:      nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Trim(tt.history, tt.maxTokens)
			if len(got) != len(tt.want) {
				t.Fatalf("Trim() returned %d turns, want %d", len(got), len(tt.want))
			}
			for i, prefix := range tt.want {
				if !strings.HasPrefix(got[i].Content, prefix) {
					t.Errorf("turn %d = %.8q, want prefix %q", i, got[i].Content, prefix)
				}
			}
		})
	}
}

func TestTrim_PinnedOrderPreserved(t *testing.T) {
	history := []models.Turn{
		turn(models.RoleSystem, 10, "s1"),
		turn(models.RoleUser, 400, "u1"),
		turn(models.RoleSystem, 10, "s2"),
		turn(models.RoleUser, 400, "u2"),
	}
	got := Trim(history, 50)
	want := []string{"s1", "s2", "u2"}
	if len(got) != len(want) {
		t.Fatalf("Trim() returned %d turns, want %d", len(got), len(want))
	}
	for i, prefix := range want {
		if !strings.HasPrefix(got[i].Content, prefix) {
			t.Errorf("turn %d = %.8q, want prefix %q", i, got[i].Content, prefix)
		}
	}
}
