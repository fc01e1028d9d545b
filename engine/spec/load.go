package spec

import (
	"fmt"
	"time"

	"github.com/goccy/go-yaml"
)

// Decode parses a normalised specification document, materialises implicit
// conditions for direct task-to-task flows and builds the flow indexes.
// The result is not yet verified; callers run Verify before use.
func Decode(raw []byte) (*Specification, error) {
	s := &Specification{}
	if err := yaml.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("decoding specification: %w", err)
	}
	s.normalize()
	for _, net := range s.Nets {
		net.materializeImplicitConditions()
		net.buildIndex()
	}
	return s, nil
}

// Encode renders the canonical serialisation of the specification.
// Implicit conditions are omitted.
func Encode(s *Specification) ([]byte, error) {
	canonical := *s
	canonical.Nets = make(map[string]*Net, len(s.Nets))
	for id, net := range s.Nets {
		trimmed := *net
		trimmed.Conditions = make(map[string]*Condition, len(net.Conditions))
		for cid, cond := range net.Conditions {
			if !cond.Implicit {
				trimmed.Conditions[cid] = cond
			}
		}
		canonical.Nets[id] = &trimmed
	}
	raw, err := yaml.Marshal(&canonical)
	if err != nil {
		return nil, fmt.Errorf("encoding specification: %w", err)
	}
	return raw, nil
}

func (s *Specification) normalize() {
	for netID, net := range s.Nets {
		if net.ID == "" {
			net.ID = netID
		}
		for id, cond := range net.Conditions {
			if cond.ID == "" {
				cond.ID = id
			}
		}
		for id, task := range net.Tasks {
			if task.ID == "" {
				task.ID = id
			}
			if task.Join == "" {
				task.Join = JoinXor
			}
			if task.Split == "" {
				task.Split = SplitAnd
			}
			// A sole outgoing flow of an OR/XOR split is the default.
			if (task.Split == SplitOr || task.Split == SplitXor) && len(task.Flows) == 1 {
				task.Flows[0].IsDefault = true
			}
			if task.MultiInstance != nil && task.MultiInstance.Creation == "" {
				task.MultiInstance.Creation = CreationStatic
			}
		}
	}
}

// materializeImplicitConditions rewrites every direct task-to-task flow
// through a generated condition so the runtime marking is a pure
// condition-to-task bipartite structure.
func (n *Net) materializeImplicitConditions() {
	if n.Conditions == nil {
		n.Conditions = make(map[string]*Condition)
	}
	for _, task := range n.Tasks {
		for i := range task.Flows {
			flow := &task.Flows[i]
			if !n.IsTask(flow.Target) {
				continue
			}
			condID := fmt.Sprintf("c{%s_%s}", task.ID, flow.Target)
			if _, exists := n.Conditions[condID]; !exists {
				n.Conditions[condID] = &Condition{
					ID:       condID,
					Implicit: true,
					Flows:    []Flow{{Target: flow.Target}},
				}
			}
			flow.Target = condID
		}
	}
}

func (n *Net) buildIndex() {
	n.preset = make(map[string][]string)
	n.postset = make(map[string][]string)
	for _, cond := range n.Conditions {
		for _, flow := range cond.Flows {
			n.postset[cond.ID] = append(n.postset[cond.ID], flow.Target)
			n.preset[flow.Target] = append(n.preset[flow.Target], cond.ID)
		}
	}
	for _, task := range n.Tasks {
		for _, flow := range task.Flows {
			n.postset[task.ID] = append(n.postset[task.ID], flow.Target)
			n.preset[flow.Target] = append(n.preset[flow.Target], task.ID)
		}
	}
}

type timerDoc struct {
	Trigger  TimerTrigger `yaml:"trigger"`
	Duration string       `yaml:"duration"`
}

// UnmarshalYAML decodes timer durations from Go duration strings ("90s").
func (t *Timer) UnmarshalYAML(raw []byte) error {
	var doc timerDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	d, err := time.ParseDuration(doc.Duration)
	if err != nil {
		return fmt.Errorf("parsing timer duration %q: %w", doc.Duration, err)
	}
	t.Trigger = doc.Trigger
	t.Duration = d
	return nil
}

// MarshalYAML renders timer durations as Go duration strings.
func (t Timer) MarshalYAML() ([]byte, error) {
	return yaml.Marshal(timerDoc{Trigger: t.Trigger, Duration: t.Duration.String()})
}
