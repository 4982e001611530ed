package ledger

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
)

// StaticDirectory is a fixed roster, typically from APP_ADVISORS.
type StaticDirectory struct {
	advisors []contractx.Advisor
}

var _ contractx.Directory = (*StaticDirectory)(nil)

func NewStaticDirectory(advisors []contractx.Advisor) *StaticDirectory {
	return &StaticDirectory{advisors: append([]contractx.Advisor(nil), advisors...)}
}

// ParseRoster reads "id=contact,id=contact". An id may carry a display name as "id:Name".
func ParseRoster(raw string) ([]contractx.Advisor, error) {
	var out []contractx.Advisor
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, contact, ok := strings.Cut(part, "=")
		key, contact = strings.TrimSpace(key), strings.TrimSpace(contact)
		if !ok || key == "" || contact == "" {
			return nil, fmt.Errorf("%w: roster entry %q must look like id=contact", contractx.ErrValidation, part)
		}
		id, name, _ := strings.Cut(key, ":")
		id = strings.TrimSpace(id)
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: advisor %q listed twice", contractx.ErrValidation, id)
		}
		seen[id] = struct{}{}
		out = append(out, contractx.Advisor{ID: id, Name: strings.TrimSpace(name), Contact: contact, Active: true})
	}
	return out, nil
}

func (d *StaticDirectory) ListActiveAdvisors(context.Context) ([]contractx.Advisor, error) {
	out := make([]contractx.Advisor, 0, len(d.advisors))
	for _, a := range d.advisors {
		if a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}
