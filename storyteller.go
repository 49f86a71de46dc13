package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Narration kinds, one per resolved outcome
const (
	NarrateKilled  = "killed"
	NarrateSaved   = "saved"
	NarrateNoKill  = "no_kill"
	NarrateLynched = "lynched"
	NarrateNoLynch = "no_lynch"
)

const narrationTimeout = 20 * time.Second

const storytellerSystemPrompt = `You are the narrator of a 1930s mafia town game. After each night or town vote you describe what happened in 1-2 short, atmospheric sentences. Never reveal anyone's role.`

// Narrator turns an outcome into a line of flavour text.
type Narrator interface {
	Narrate(ctx context.Context, kind, victim string) (string, error)
}

// staticNarrator always answers from a fixed set of lines.
type staticNarrator struct{}

func (staticNarrator) Narrate(_ context.Context, kind, victim string) (string, error) {
	return staticNarration(kind, victim), nil
}

func staticNarration(kind, victim string) string {
	switch kind {
	case NarrateKilled:
		return fmt.Sprintf("The town wakes to grim news: %s was found dead at dawn.", victim)
	case NarrateSaved:
		return "Shots rang out in the night, but the doctor got there first. Everyone wakes up alive."
	case NarrateNoKill:
		return "A quiet night. Nobody was touched."
	case NarrateLynched:
		return fmt.Sprintf("The town has spoken. %s is led away.", victim)
	case NarrateNoLynch:
		return "The town could not agree. Nobody is eliminated today."
	default:
		return ""
	}
}

type llmNarrator struct {
	llm          llms.Model
	systemPrompt string
	callOpts     []llms.CallOption
}

func (s *llmNarrator) Narrate(ctx context.Context, kind, victim string) (string, error) {
	var what string
	switch kind {
	case NarrateKilled:
		what = victim + " was killed by the mafia during the night."
	case NarrateSaved:
		what = "The mafia struck during the night but the doctor saved their target."
	case NarrateNoKill:
		what = "The night passed without a killing."
	case NarrateLynched:
		what = "The town voted and " + victim + " was eliminated."
	case NarrateNoLynch:
		what = "The town vote ended without an elimination."
	default:
		return "", fmt.Errorf("unknown narration kind %q", kind)
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, s.systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, what+"\n\nNarrate it."),
	}
	resp, err := s.llm.GenerateContent(ctx, messages, s.callOpts...)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("narrator returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

// buildCallOpts builds LLM call options from the config.
func buildCallOpts(cfg AppConfig) []llms.CallOption {
	var opts []llms.CallOption

	if cfg.StorytellerTemperature != "" {
		if f, err := strconv.ParseFloat(cfg.StorytellerTemperature, 64); err == nil {
			opts = append(opts, llms.WithTemperature(f))
			log.Printf("Storyteller: temperature=%.2f", f)
		} else {
			log.Printf("Storyteller: invalid temperature %q: %v", cfg.StorytellerTemperature, err)
		}
	}

	if cfg.StorytellerThinking != "" {
		mode := llms.ThinkingMode(cfg.StorytellerThinking)
		switch mode {
		case llms.ThinkingModeNone, llms.ThinkingModeLow, llms.ThinkingModeMedium, llms.ThinkingModeHigh, llms.ThinkingModeAuto:
			opts = append(opts, llms.WithThinkingMode(mode))
			log.Printf("Storyteller: thinking=%s", mode)
		default:
			log.Printf("Storyteller: invalid thinking %q (valid: none, low, medium, high, auto)", cfg.StorytellerThinking)
		}
	}

	return opts
}

// initNarrator picks the narrator for the configured provider. Any provider
// that fails to initialize falls back to the static lines.
func initNarrator(cfg AppConfig) Narrator {
	provider := cfg.StorytellerProvider
	model := cfg.StorytellerModel

	var (
		llm llms.Model
		err error
	)
	switch provider {
	case "":
		log.Printf("Storyteller: static lines (set storyteller_provider to enable an LLM)")
		return staticNarrator{}
	case "ollama":
		llm, err = ollama.New(ollama.WithModel(model), ollama.WithServerURL(cfg.StorytellerOllamaURL))
	case "openai":
		llm, err = openai.New(openai.WithModel(model))
	case "claude":
		llm, err = anthropic.New(anthropic.WithModel(model))
	case "gemini":
		llm, err = googleai.New(context.Background(), googleai.WithDefaultModel(model))
	case "groq":
		llm, err = openai.New(
			openai.WithModel(model),
			openai.WithBaseURL("https://api.groq.com/openai/v1"),
			openai.WithToken(cfg.GroqAPIKey),
		)
	case "openai-compatible":
		if cfg.StorytellerURL == "" {
			err = errors.New("storyteller_url is required for openai-compatible provider")
			break
		}
		opts := []openai.Option{
			openai.WithModel(model),
			openai.WithBaseURL(cfg.StorytellerURL),
		}
		if cfg.StorytellerAPIKey != "" {
			opts = append(opts, openai.WithToken(cfg.StorytellerAPIKey))
		}
		llm, err = openai.New(opts...)
	default:
		err = fmt.Errorf("unknown provider %q", provider)
	}
	if err != nil {
		log.Printf("Storyteller: failed to init %s (%s): %v, using static lines", provider, model, err)
		return staticNarrator{}
	}

	log.Printf("Storyteller: %s model=%s", provider, model)
	return &llmNarrator{llm: llm, systemPrompt: storytellerSystemPrompt, callOpts: buildCallOpts(cfg)}
}

// narrate produces a line for the outcome in the background and broadcasts
// it to the room. The game never waits for it. Room lock held.
func (r *RoomRegistry) narrate(room *Room, kind, victim string) {
	if r.narrator == nil {
		return
	}
	narrator := r.narrator
	r.goBackground(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, narrationTimeout)
		defer cancel()

		text, err := narrator.Narrate(ctx, kind, victim)
		if err != nil || text == "" {
			if err != nil {
				logError("narrate: "+kind, err)
			}
			text = staticNarration(kind, victim)
		}

		room.mu.Lock()
		defer room.mu.Unlock()
		if room.closed {
			return
		}
		r.broadcast(room, Event{Type: EventNarration, Data: NarrationData{Kind: kind, Text: text}})
	})
}
