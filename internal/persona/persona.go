package persona

import (
	"encoding/json"
	"fmt"
	"os"
)

// Persona is an immutable conversation partner descriptor. Loaded once at
// startup and shared read-only across sessions.
type Persona struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Emoji  string `json:"emoji"`
	Prompt string `json:"prompt"`
	Voice  string `json:"voice"`
}

// Registry holds all configured personas keyed by id.
type Registry struct {
	DefaultID string
	personas  map[string]Persona
}

type personasFile struct {
	DefaultPersona string             `json:"default_persona"`
	Personas       map[string]Persona `json:"personas"`
}

// LoadFile reads the personas config JSON. The file maps persona ids to
// records; ids are filled in from the map keys.
func LoadFile(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read personas file: %w", err)
	}
	return Load(raw)
}

func Load(raw []byte) (*Registry, error) {
	var file personasFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse personas: %w", err)
	}
	if len(file.Personas) == 0 {
		return nil, fmt.Errorf("no personas configured")
	}

	personas := make(map[string]Persona, len(file.Personas))
	for id, p := range file.Personas {
		p.ID = id
		personas[id] = p
	}

	defaultID := file.DefaultPersona
	if _, ok := personas[defaultID]; !ok {
		// fall back to any configured persona
		for id := range personas {
			defaultID = id
			break
		}
	}

	return &Registry{DefaultID: defaultID, personas: personas}, nil
}

// DefaultRegistry returns the built-in persona set, used when no personas
// file is configured.
func DefaultRegistry() *Registry {
	personas := map[string]Persona{
		"yuki": {
			ID:    "yuki",
			Name:  "ゆき先生",
			Emoji: "👩‍🏫",
			Prompt: "あなたは優しい日本語の先生「ゆき」です。学習者のレベルに合わせて、" +
				"ゆっくり分かりやすい日本語で会話してください。常に日本語で答えてください。",
			Voice: "alloy",
		},
		"haruto": {
			ID:    "haruto",
			Name:  "はると",
			Emoji: "🧑",
			Prompt: "あなたは気さくな日本人の友達「はると」です。自然なカジュアルな日本語で" +
				"楽しく雑談してください。常に日本語で答えてください。",
			Voice: "echo",
		},
	}
	return &Registry{DefaultID: "yuki", personas: personas}
}

// Get returns the persona with the given id, or the default when id is empty.
func (r *Registry) Get(id string) (Persona, bool) {
	if id == "" {
		id = r.DefaultID
	}
	p, ok := r.personas[id]
	return p, ok
}

// List returns all personas. Order is unspecified.
func (r *Registry) List() []Persona {
	out := make([]Persona, 0, len(r.personas))
	for _, p := range r.personas {
		out = append(out, p)
	}
	return out
}
