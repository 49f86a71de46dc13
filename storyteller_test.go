package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tmc/langchaingo/llms"
)

// fakeModel answers every prompt with a fixed reply and remembers the last request.
type fakeModel struct {
	reply    string
	err      error
	messages []llms.MessageContent
}

func (m *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestStaticNarration(t *testing.T) {
	for _, kind := range []string{NarrateKilled, NarrateSaved, NarrateNoKill, NarrateLynched, NarrateNoLynch} {
		if staticNarration(kind, "Erin") == "" {
			t.Errorf("no static line for %s", kind)
		}
	}
	for _, kind := range []string{NarrateKilled, NarrateLynched} {
		if line := staticNarration(kind, "Erin"); !strings.Contains(line, "Erin") {
			t.Errorf("%s line %q does not name the victim", kind, line)
		}
	}
	if line := staticNarration(NarrateSaved, "Erin"); strings.Contains(line, "Erin") {
		t.Errorf("saved line reveals the target: %q", line)
	}
}

func TestLLMNarrator(t *testing.T) {
	model := &fakeModel{reply: "  Fog rolls in over the docks.  "}
	n := &llmNarrator{llm: model, systemPrompt: storytellerSystemPrompt}

	text, err := n.Narrate(context.Background(), NarrateKilled, "Erin")
	if err != nil {
		t.Fatalf("Narrate: %v", err)
	}
	if text != "Fog rolls in over the docks." {
		t.Errorf("text = %q", text)
	}
	if len(model.messages) != 2 || model.messages[0].Role != llms.ChatMessageTypeSystem {
		t.Fatalf("prompt %+v", model.messages)
	}
	prompt := model.messages[1].Parts[0].(llms.TextContent).Text
	if !strings.Contains(prompt, "Erin") {
		t.Errorf("prompt %q does not mention the victim", prompt)
	}

	if _, err := n.Narrate(context.Background(), "weather", ""); err == nil {
		t.Error("unknown kind accepted")
	}
	model.err = errors.New("rate limited")
	if _, err := n.Narrate(context.Background(), NarrateNoKill, ""); err == nil {
		t.Error("model error swallowed")
	}
}

func TestInitNarratorFallsBack(t *testing.T) {
	tests := []struct {
		name string
		cfg  AppConfig
	}{
		{"no provider", AppConfig{}},
		{"unknown provider", AppConfig{StorytellerProvider: "carrier-pigeon"}},
		{"openai-compatible without url", AppConfig{StorytellerProvider: "openai-compatible", StorytellerModel: "m"}},
	}
	for _, tt := range tests {
		if _, ok := initNarrator(tt.cfg).(staticNarrator); !ok {
			t.Errorf("%s: expected the static narrator", tt.name)
		}
	}
}

func TestBuildCallOpts(t *testing.T) {
	tests := []struct {
		temperature, thinking string
		want                  int
	}{
		{"", "", 0},
		{"0.7", "", 1},
		{"warm", "", 0},
		{"0.2", "high", 2},
		{"", "deep", 0},
	}
	for _, tt := range tests {
		cfg := AppConfig{StorytellerTemperature: tt.temperature, StorytellerThinking: tt.thinking}
		if got := len(buildCallOpts(cfg)); got != tt.want {
			t.Errorf("buildCallOpts(%q, %q) = %d options, want %d", tt.temperature, tt.thinking, got, tt.want)
		}
	}
}
