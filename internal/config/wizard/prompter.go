// Package wizard implements the interactive terminal prompter used during
// configuration resolution.
package wizard

import (
	"context"

	"github.com/charmbracelet/huh"

	"github.com/cheminfuse/aniops/internal/config"
)

// Prompter asks the operator for configuration values using huh forms.
// It implements config.Prompter.
type Prompter struct{}

// New creates a terminal prompter.
func New() *Prompter {
	return &Prompter{}
}

// Input prompts for a single value. The suggestion pre-fills the field so
// accepting a probe-derived default is a single keypress. Secret-class keys
// hide their input.
func (p *Prompter) Input(ctx context.Context, key config.Key, suggestion string) (string, error) {
	value := suggestion

	input := huh.NewInput().
		Title(key.Title).
		Description(key.Description).
		Value(&value)
	if key.Secret {
		input = input.EchoMode(huh.EchoModePassword)
	}

	err := huh.NewForm(huh.NewGroup(input)).RunWithContext(ctx)
	if err != nil {
		return "", err
	}
	return value, nil
}

// Confirm asks a yes/no question, used for optional deployment unit opt-ins.
func (p *Prompter) Confirm(ctx context.Context, title, description string, def bool) (bool, error) {
	value := def

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description(description).
				Value(&value),
		),
	).RunWithContext(ctx)
	if err != nil {
		return def, err
	}
	return value, nil
}
