package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRole_Pinned(t *testing.T) {
	tests := []struct {
		role Role
		want bool
	}{
		{RoleSystem, true},
		{RoleUser, false},
		{RoleAssistant, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			if got := tt.role.Pinned(); got != tt.want {
				t.Errorf("Pinned() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTurn_AttachmentNames(t *testing.T) {
	turn := NewTurn(RoleUser, "see attached",
		Attachment{Filename: "build.log", Kind: AttachmentText},
		Attachment{Filename: " ", Kind: AttachmentImage},
	)

	names := turn.AttachmentNames()
	if len(names) != 2 {
		t.Fatalf("AttachmentNames() len = %d, want 2", len(names))
	}
	if names[0] != "build.log" || names[1] != "unknown" {
		t.Errorf("AttachmentNames() = %v", names)
	}
	if turn.CreatedAt.IsZero() {
		t.Error("NewTurn should stamp CreatedAt")
	}

	if got := NewTurn(RoleUser, "plain").AttachmentNames(); got != nil {
		t.Errorf("AttachmentNames() without attachments = %v, want nil", got)
	}
}

func TestCloneTurns_DeepCopy(t *testing.T) {
	original := []Turn{
		NewTurn(RoleUser, "q", Attachment{Filename: "a.txt", Kind: AttachmentText, Payload: "x"}),
		NewTurn(RoleAssistant, "a"),
	}

	clone := CloneTurns(original)
	clone[0].Content = "changed"
	clone[0].Attachments[0].Payload = "changed"

	if original[0].Content != "q" {
		t.Errorf("original content mutated: %q", original[0].Content)
	}
	if original[0].Attachments[0].Payload != "x" {
		t.Errorf("original attachment mutated: %q", original[0].Attachments[0].Payload)
	}
	if CloneTurns(nil) != nil {
		t.Error("CloneTurns(nil) should be nil")
	}
}

func TestSession_CloneAndMetadata(t *testing.T) {
	now := time.Now()
	session := &Session{
		ID:           "11111111-1111-1111-1111-111111111111",
		Owner:        "alice",
		History:      []Turn{NewTurn(RoleUser, "hello")},
		CreatedAt:    now,
		LastAccessed: now,
		Dirty:        true,
	}

	clone := session.Clone()
	clone.History[0].Content = "bye"
	if session.History[0].Content != "hello" {
		t.Error("Clone shares history with the original")
	}
	if !clone.Dirty {
		t.Error("Clone should keep the dirty flag")
	}

	meta := session.Metadata()
	if meta.SessionID != session.ID || meta.Owner != "alice" {
		t.Errorf("Metadata() = %+v", meta)
	}

	var nilSession *Session
	if nilSession.Clone() != nil || nilSession.Metadata() != nil {
		t.Error("nil session helpers should return nil")
	}
}

func TestSessionMetadata_JSONFieldNames(t *testing.T) {
	meta := SessionMetadata{SessionID: "id-1", Owner: "bob"}
	data, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if raw["user_id"] != "bob" {
		t.Errorf("owner should be stored as user_id, got %v", raw)
	}
	if raw["session_id"] != "id-1" {
		t.Errorf("session_id = %v", raw["session_id"])
	}
}

func TestChunk_JSONFieldNames(t *testing.T) {
	input := `{"id":"c1","chunk_text":"Use [[CODE_BLOCK_0]]","code_blocks":["sh 'make'"],"metadata":{"title":"Pipelines","plugin_name":"git"}}`

	var chunk Chunk
	if err := json.Unmarshal([]byte(input), &chunk); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if chunk.Text != "Use [[CODE_BLOCK_0]]" {
		t.Errorf("Text = %q", chunk.Text)
	}
	if len(chunk.CodeBlocks) != 1 || chunk.Metadata.PluginName != "git" {
		t.Errorf("chunk = %+v", chunk)
	}
}
