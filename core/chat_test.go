package core

import "testing"

func TestMessageText(t *testing.T) {
	plain := Message{Role: RoleUser, Content: "hello"}
	if plain.Text() != "hello" {
		t.Errorf("Text() = %q", plain.Text())
	}

	structured := Message{
		Role: RoleUser,
		Parts: []ContentPart{
			{Type: PartText, Text: "first"},
			{Type: PartImage, ImageURL: "https://example.com/x.png"},
			{Type: PartText, Text: "second"},
		},
	}
	if structured.Text() != "first\nsecond" {
		t.Errorf("Text() = %q, want text parts joined", structured.Text())
	}
}

func TestUserQueryText(t *testing.T) {
	req := &ChatRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: "be helpful"},
			{Role: RoleUser, Content: "first question"},
			{Role: RoleAssistant, Content: "an answer"},
			{Role: RoleUser, Content: "second question"},
		},
	}
	if got := req.UserQueryText(); got != "first question\nsecond question" {
		t.Errorf("UserQueryText() = %q", got)
	}

	empty := &ChatRequest{Messages: []Message{{Role: RoleSystem, Content: "only system"}}}
	if empty.UserQueryText() != "" {
		t.Error("UserQueryText() non-empty without user messages")
	}
}

func TestChatRequestClone(t *testing.T) {
	temp := 0.7
	maxTokens := 128
	req := &ChatRequest{
		Messages:    []Message{{Role: RoleUser, Content: "original"}},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	}

	cp := req.Clone()
	cp.Messages[0].Content = "mutated"
	*cp.Temperature = 0.1
	*cp.MaxTokens = 1

	if req.Messages[0].Content != "original" {
		t.Error("clone shares the messages slice")
	}
	if *req.Temperature != 0.7 || *req.MaxTokens != 128 {
		t.Error("clone shares pointer fields")
	}
}
