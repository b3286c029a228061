package automation

import (
	"testing"

	"permitflow/internal/config"
	"permitflow/internal/domain"
)

func TestBaseRuleFiresOnApprovalFromAnyStatus(t *testing.T) {
	r := NewRegistry()
	for _, from := range domain.PermitStatuses {
		if from == domain.StatusApproved {
			continue
		}
		rules := r.Match(from, domain.StatusApproved)
		if len(rules) != 1 {
			t.Fatalf("from %s: expected 1 rule, got %d", from, len(rules))
		}
		if rules[0].Template.Name != SendToBilling || rules[0].Template.Priority != domain.PriorityHigh {
			t.Fatalf("unexpected template %+v", rules[0].Template)
		}
	}
	if got := r.Match(domain.StatusApproved, domain.StatusApproved); len(got) != 0 {
		t.Fatalf("no-op transition matched %d rules", len(got))
	}
	if got := r.Match(domain.StatusNew, domain.StatusSubmitted); len(got) != 0 {
		t.Fatalf("unexpected match for New->Submitted: %+v", got)
	}
}

func TestMatchOrdersExactBeforeWildcard(t *testing.T) {
	r := NewRegistry()
	r.MustAdd(Rule{From: domain.StatusInReview, To: domain.StatusApproved, Template: Template{Name: "Notify Client", Priority: domain.PriorityLow}})
	rules := r.Match(domain.StatusInReview, domain.StatusApproved)
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	if rules[0].Template.Name != "Notify Client" || rules[1].Template.Name != SendToBilling {
		t.Fatalf("unexpected order: %s, %s", rules[0].Template.Name, rules[1].Template.Name)
	}
}

func TestFromConfig(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`automation:
  rules:
    - to: Issued
      task:
        name: Schedule Inspections
        due_in_days: 7
`))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	r, err := FromConfig(cfg)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	rules := r.Match(domain.StatusApproved, domain.StatusIssued)
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	tpl := rules[0].Template
	if tpl.Priority != domain.PriorityMedium || tpl.DueInDays != 7 {
		t.Fatalf("unexpected template %+v", tpl)
	}
	if len(r.Rules()) != 2 {
		t.Fatalf("expected base + configured rule, got %d", len(r.Rules()))
	}
}

func TestAddRejectsUnknownValues(t *testing.T) {
	r := &Registry{}
	if err := r.Add(Rule{From: "Pending", To: domain.StatusApproved, Template: Template{Name: "x", Priority: domain.PriorityLow}}); err == nil {
		t.Fatalf("expected error for unknown from status")
	}
	if err := r.Add(Rule{From: AnyStatus, To: domain.StatusApproved, Template: Template{Name: "x", Priority: "critical"}}); err == nil {
		t.Fatalf("expected error for unknown priority")
	}
}

func TestTemplateKey(t *testing.T) {
	if got := (Template{Name: "Send to  Billing"}).Key(); got != "auto:send-to-billing" {
		t.Fatalf("unexpected key %q", got)
	}
}
