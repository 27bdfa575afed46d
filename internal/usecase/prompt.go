package usecase

import (
	"fmt"
	"sort"
	"strings"
)

const DefaultPromptProfile = "helpful"

var promptProfiles = map[string]string{
	"helpful":   "You are a helpful AI assistant. Be friendly, helpful, and concise in your responses.",
	"creative":  "You are a creative AI assistant who loves to help with writing, brainstorming, and artistic projects.",
	"technical": "You are a technical AI assistant specializing in programming, technology, and problem-solving.",
	"casual":    "You are a casual, friendly AI companion. Keep conversations light and fun!",
}

// SystemPrompt resolves the instruction turn text. A non-empty override wins
// over the named profile; an empty profile selects the default one.
func SystemPrompt(profile, override string) (string, error) {
	if text := strings.TrimSpace(override); text != "" {
		return text, nil
	}
	profile = strings.ToLower(strings.TrimSpace(profile))
	if profile == "" {
		profile = DefaultPromptProfile
	}
	text, ok := promptProfiles[profile]
	if !ok {
		return "", fmt.Errorf("usecase: unknown prompt profile %q (want one of %s)", profile, strings.Join(PromptProfiles(), ", "))
	}
	return text, nil
}

// PromptProfiles lists the known profile names in sorted order.
func PromptProfiles() []string {
	names := make([]string, 0, len(promptProfiles))
	for name := range promptProfiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
