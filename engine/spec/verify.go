package spec

import (
	"fmt"

	"github.com/caseflow/caseflow/engine/core"
)

// Verify checks the structural invariants a specification must satisfy
// before any case is launched. It returns non-fatal warnings; a non-nil
// error is a *core.StructuralError and rejects the load.
func Verify(s *Specification) ([]string, error) {
	var issues []string
	var warnings []string
	if s.ID == "" {
		issues = append(issues, "specification id is required")
	}
	if len(s.Nets) == 0 {
		issues = append(issues, "specification has no nets")
	}
	if _, ok := s.Nets[s.RootNet]; !ok {
		issues = append(issues, fmt.Sprintf("root net %q not defined", s.RootNet))
	}
	for _, net := range s.Nets {
		netIssues, netWarnings := verifyNet(s, net)
		issues = append(issues, netIssues...)
		warnings = append(warnings, netWarnings...)
	}
	if len(issues) > 0 {
		return warnings, &core.StructuralError{SpecID: s.ID, Issues: issues}
	}
	return warnings, nil
}

func verifyNet(s *Specification, net *Net) (issues, warnings []string) {
	issues = append(issues, verifyBoundaryConditions(net)...)
	issues = append(issues, verifyFlows(net)...)
	issues = append(issues, verifyReachability(net)...)
	for _, task := range net.Tasks {
		taskIssues, taskWarnings := verifyTask(s, net, task)
		issues = append(issues, taskIssues...)
		warnings = append(warnings, taskWarnings...)
	}
	return issues, warnings
}

func verifyBoundaryConditions(net *Net) []string {
	var issues []string
	if _, ok := net.Conditions[net.InputCondition]; !ok {
		issues = append(issues, fmt.Sprintf("net %s: input condition %q not defined", net.ID, net.InputCondition))
	}
	if _, ok := net.Conditions[net.OutputCondition]; !ok {
		issues = append(issues, fmt.Sprintf("net %s: output condition %q not defined", net.ID, net.OutputCondition))
	}
	if net.InputCondition == net.OutputCondition {
		issues = append(issues, fmt.Sprintf("net %s: input and output conditions must differ", net.ID))
	}
	if len(net.Preset(net.InputCondition)) > 0 {
		issues = append(issues, fmt.Sprintf("net %s: input condition must have no incoming flows", net.ID))
	}
	if len(net.Postset(net.OutputCondition)) > 0 {
		issues = append(issues, fmt.Sprintf("net %s: output condition must have no outgoing flows", net.ID))
	}
	return issues
}

func verifyFlows(net *Net) []string {
	var issues []string
	for _, cond := range net.Conditions {
		for _, flow := range cond.Flows {
			if !net.HasElement(flow.Target) {
				issues = append(issues, fmt.Sprintf("net %s: condition %s flows to unknown element %q", net.ID, cond.ID, flow.Target))
				continue
			}
			if !net.IsTask(flow.Target) {
				issues = append(issues, fmt.Sprintf("net %s: condition %s flows to condition %s", net.ID, cond.ID, flow.Target))
			}
		}
	}
	for _, task := range net.Tasks {
		for _, flow := range task.Flows {
			if !net.HasElement(flow.Target) {
				issues = append(issues, fmt.Sprintf("net %s: task %s flows to unknown element %q", net.ID, task.ID, flow.Target))
			}
		}
	}
	return issues
}

// verifyReachability requires every element to lie on a directed path from
// the input to the output condition.
func verifyReachability(net *Net) []string {
	var issues []string
	forward := closure(net.InputCondition, net.Postset)
	backward := closure(net.OutputCondition, net.Preset)
	for _, cond := range net.Conditions {
		issues = append(issues, checkOnPath(net, cond.ID, forward, backward)...)
	}
	for _, task := range net.Tasks {
		issues = append(issues, checkOnPath(net, task.ID, forward, backward)...)
	}
	return issues
}

func checkOnPath(net *Net, id string, forward, backward map[string]bool) []string {
	var issues []string
	if !forward[id] {
		issues = append(issues, fmt.Sprintf("net %s: element %s is not reachable from the input condition", net.ID, id))
	}
	if !backward[id] {
		issues = append(issues, fmt.Sprintf("net %s: element %s cannot reach the output condition", net.ID, id))
	}
	return issues
}

func closure(start string, next func(string) []string) map[string]bool {
	seen := map[string]bool{start: true}
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, succ := range next(id) {
			if !seen[succ] {
				seen[succ] = true
				stack = append(stack, succ)
			}
		}
	}
	return seen
}

func verifyTask(s *Specification, net *Net, task *Task) (issues, warnings []string) {
	issues = append(issues, verifySplit(net, task)...)
	issues = append(issues, verifyRemoveSet(net, task)...)
	issues = append(issues, verifyMultiInstance(net, task)...)
	if task.IsComposite() {
		if _, ok := s.Nets[task.Decomposition]; !ok {
			issues = append(issues, fmt.Sprintf("net %s: task %s decomposes into unknown net %q", net.ID, task.ID, task.Decomposition))
		}
		if task.Profile != nil {
			warnings = append(warnings, fmt.Sprintf("net %s: composite task %s carries an execution profile; it is ignored", net.ID, task.ID))
		}
	}
	if task.Profile != nil && task.Profile.ServiceRef != "" && task.Profile.Codelet != "" {
		warnings = append(warnings, fmt.Sprintf("net %s: task %s sets both service_ref and codelet; service_ref wins", net.ID, task.ID))
	}
	return issues, warnings
}

func verifySplit(net *Net, task *Task) []string {
	if task.Split != SplitOr && task.Split != SplitXor {
		return nil
	}
	var issues []string
	defaults := 0
	for _, flow := range task.Flows {
		if flow.IsDefault {
			defaults++
			continue
		}
		if flow.Predicate == "" {
			issues = append(issues, fmt.Sprintf("net %s: task %s non-default flow to %s has no predicate", net.ID, task.ID, flow.Target))
		}
	}
	if defaults != 1 {
		issues = append(issues, fmt.Sprintf("net %s: %s-split task %s must have exactly one default flow, has %d", net.ID, task.Split, task.ID, defaults))
	}
	return issues
}

func verifyRemoveSet(net *Net, task *Task) []string {
	var issues []string
	for _, id := range task.RemoveSet {
		if !net.HasElement(id) {
			issues = append(issues, fmt.Sprintf("net %s: task %s cancellation region references unknown element %q", net.ID, task.ID, id))
		}
	}
	return issues
}

func verifyMultiInstance(net *Net, task *Task) []string {
	mi := task.MultiInstance
	if mi == nil {
		return nil
	}
	var issues []string
	if mi.Min < 1 {
		issues = append(issues, fmt.Sprintf("net %s: task %s multi-instance min must be >= 1", net.ID, task.ID))
	}
	if mi.Min > mi.Threshold || mi.Threshold > mi.Max {
		issues = append(issues, fmt.Sprintf("net %s: task %s multi-instance bounds must satisfy min <= threshold <= max", net.ID, task.ID))
	}
	if mi.Creation != CreationStatic && mi.Creation != CreationDynamic {
		issues = append(issues, fmt.Sprintf("net %s: task %s multi-instance creation mode %q unknown", net.ID, task.ID, mi.Creation))
	}
	return issues
}
