// Package prompt holds prompt plans: the instruction/message pair a
// service call is built from, plus any extra role-tagged segments. Plans
// are authored in YAML and registered under the prompt_section domain.
package prompt

import (
	"errors"
	"fmt"

	"github.com/zjrosen/relay/internal/dispatch"
)

// Segment is one extra role-tagged piece of prompt content.
type Segment struct {
	Role    string `yaml:"role"`
	Content string `yaml:"content"`
}

// Plan is a named prompt: developer/system instruction, user message,
// optional extra segments.
type Plan struct {
	Name      string `yaml:"name"`
	Namespace string `yaml:"namespace"`
	Group     string `yaml:"group"`

	Instruction string    `yaml:"instruction"`
	Message     string    `yaml:"message"`
	Segments    []Segment `yaml:"segments"`
}

var ErrEmptyPlan = errors.New("prompt: plan has neither instruction nor message")

// Validate checks that the plan can produce a non-empty request.
func (p *Plan) Validate() error {
	if p.Name == "" {
		return errors.New("prompt: plan has no name")
	}
	if p.Instruction == "" && p.Message == "" {
		return fmt.Errorf("%w: %s", ErrEmptyPlan, p.Name)
	}
	for _, seg := range p.Segments {
		switch seg.Role {
		case dispatch.RoleSystem, dispatch.RoleUser, dispatch.RoleAssistant:
		default:
			return fmt.Errorf("prompt: plan %s: unknown segment role %q", p.Name, seg.Role)
		}
	}
	return nil
}

// Messages returns the plan's user message plus extra segments in order,
// ready to place on a request.
func (p *Plan) Messages() []dispatch.Message {
	var msgs []dispatch.Message
	if p.Message != "" {
		msgs = append(msgs, dispatch.Message{Role: dispatch.RoleUser, Content: p.Message})
	}
	for _, seg := range p.Segments {
		msgs = append(msgs, dispatch.Message{Role: seg.Role, Content: seg.Content})
	}
	return msgs
}
