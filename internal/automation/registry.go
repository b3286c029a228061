// Package automation holds the table of status transitions that spawn tasks.
package automation

import (
	"fmt"
	"strings"

	"permitflow/internal/config"
	"permitflow/internal/domain"
)

// AnyStatus matches every previous status.
const AnyStatus domain.PermitStatus = "*"

// SendToBilling is the task created whenever a permit is approved.
const SendToBilling = "Send to Billing"

// Template describes the task a rule ensures.
type Template struct {
	Name        string
	Description string
	Priority    domain.TaskPriority
	DueInDays   int
}

// Key identifies tasks created from this template on one permit.
func (t Template) Key() string {
	return "auto:" + strings.ToLower(strings.Join(strings.Fields(t.Name), "-"))
}

type Rule struct {
	From     domain.PermitStatus
	To       domain.PermitStatus
	Template Template
}

type transition struct {
	from, to domain.PermitStatus
}

// Registry maps transitions to templates. The zero value is empty and usable.
type Registry struct {
	rules map[transition][]Rule
	order []transition
}

// NewRegistry returns a registry holding the base rule set.
func NewRegistry() *Registry {
	r := &Registry{}
	r.MustAdd(Rule{
		From: AnyStatus,
		To:   domain.StatusApproved,
		Template: Template{
			Name:        SendToBilling,
			Description: "Permit approved; forward to billing.",
			Priority:    domain.PriorityHigh,
		},
	})
	return r
}

// FromConfig returns the base rules plus those declared under
// automation.rules.
func FromConfig(cfg *config.Config) (*Registry, error) {
	r := NewRegistry()
	if cfg == nil {
		return r, nil
	}
	for i, rc := range cfg.Automation.Rules {
		from := domain.PermitStatus(rc.From)
		if rc.From == "" {
			from = AnyStatus
		}
		prio := domain.TaskPriority(rc.Task.Priority)
		if prio == "" {
			prio = domain.PriorityMedium
		}
		rule := Rule{
			From: from,
			To:   domain.PermitStatus(rc.To),
			Template: Template{
				Name:        rc.Task.Name,
				Description: rc.Task.Description,
				Priority:    prio,
				DueInDays:   rc.Task.DueInDays,
			},
		}
		if err := r.Add(rule); err != nil {
			return nil, fmt.Errorf("automation rule %d: %w", i, err)
		}
	}
	return r, nil
}

func (r *Registry) Add(rule Rule) error {
	if rule.From != AnyStatus && !rule.From.IsValid() {
		return fmt.Errorf("unknown from status %q", rule.From)
	}
	if !rule.To.IsValid() {
		return fmt.Errorf("unknown to status %q", rule.To)
	}
	if rule.Template.Name == "" {
		return fmt.Errorf("template name is required")
	}
	if !rule.Template.Priority.IsValid() {
		return fmt.Errorf("unknown priority %q", rule.Template.Priority)
	}
	if r.rules == nil {
		r.rules = map[transition][]Rule{}
	}
	k := transition{rule.From, rule.To}
	if _, ok := r.rules[k]; !ok {
		r.order = append(r.order, k)
	}
	r.rules[k] = append(r.rules[k], rule)
	return nil
}

func (r *Registry) MustAdd(rule Rule) {
	if err := r.Add(rule); err != nil {
		panic(err)
	}
}

// Match returns the rules fired by from -> to: exact rules first, then
// wildcard rules. A non-change never matches.
func (r *Registry) Match(from, to domain.PermitStatus) []Rule {
	if r == nil || from == to {
		return nil
	}
	var out []Rule
	out = append(out, r.rules[transition{from, to}]...)
	out = append(out, r.rules[transition{AnyStatus, to}]...)
	return out
}

// Rules lists every registered rule in insertion order.
func (r *Registry) Rules() []Rule {
	if r == nil {
		return nil
	}
	var out []Rule
	for _, k := range r.order {
		out = append(out, r.rules[k]...)
	}
	return out
}
