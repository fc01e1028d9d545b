package spec

import "time"

// JoinCode selects how a task's preset conditions are combined.
type JoinCode string

// SplitCode selects how a task's postset tokens are produced.
type SplitCode string

const (
	JoinAnd JoinCode = "and"
	JoinOr  JoinCode = "or"
	JoinXor JoinCode = "xor"

	SplitAnd SplitCode = "and"
	SplitOr  SplitCode = "or"
	SplitXor SplitCode = "xor"
)

// CreationMode controls multi-instance spawning beyond the initial set.
type CreationMode string

const (
	CreationStatic  CreationMode = "static"
	CreationDynamic CreationMode = "dynamic"
)

// Interaction distinguishes human work items from automated ones.
type Interaction string

const (
	InteractionManual    Interaction = "manual"
	InteractionAutomated Interaction = "automated"
)

// TimerTrigger selects when a task timer starts counting.
type TimerTrigger string

const (
	TimerOnEnabled TimerTrigger = "on_enabled"
	TimerOnStarted TimerTrigger = "on_started"
)

// Specification is a loaded, verified process definition. One net is the
// root; the others are decompositions of composite tasks.
type Specification struct {
	ID      string          `yaml:"id"      json:"id"`
	Name    string          `yaml:"name"    json:"name"`
	Version string          `yaml:"version" json:"version"`
	RootNet string          `yaml:"root_net" json:"root_net"`
	Nets    map[string]*Net `yaml:"nets"    json:"nets"`
}

// Net is a set of conditions and tasks with exactly one input and one
// output condition.
type Net struct {
	ID              string                `yaml:"id"               json:"id"`
	InputCondition  string                `yaml:"input_condition"  json:"input_condition"`
	OutputCondition string                `yaml:"output_condition" json:"output_condition"`
	Conditions      map[string]*Condition `yaml:"conditions"       json:"conditions"`
	Tasks           map[string]*Task      `yaml:"tasks"            json:"tasks"`

	preset  map[string][]string
	postset map[string][]string
}

// Condition is a place. Implicit conditions are materialised at load time
// for direct task-to-task flows and omitted from canonical serialisation.
type Condition struct {
	ID       string   `yaml:"id"                 json:"id"`
	Implicit bool     `yaml:"-"                  json:"-"`
	Flows    []Flow   `yaml:"flows,omitempty"    json:"flows,omitempty"`
}

// Flow is a directed arc to a target element. Predicates and defaults are
// meaningful only on flows leaving OR/XOR split tasks.
type Flow struct {
	Target    string `yaml:"target"              json:"target"`
	Predicate string `yaml:"predicate,omitempty" json:"predicate,omitempty"`
	Priority  int    `yaml:"priority,omitempty"  json:"priority,omitempty"`
	IsDefault bool   `yaml:"default,omitempty"   json:"default,omitempty"`
}

// MultiInstance carries instance-count bounds for a multi-instance task.
type MultiInstance struct {
	Min       int          `yaml:"min"       json:"min"`
	Max       int          `yaml:"max"       json:"max"`
	Threshold int          `yaml:"threshold" json:"threshold"`
	Creation  CreationMode `yaml:"creation"  json:"creation"`
}

// ExecutionProfile is the routing decision attached to an atomic task.
// The resourcing block is opaque to the engine and forwarded to the
// default worklist handler untouched.
type ExecutionProfile struct {
	Interaction Interaction    `yaml:"interaction"          json:"interaction"`
	ServiceRef  string         `yaml:"service_ref,omitempty" json:"service_ref,omitempty"`
	Codelet     string         `yaml:"codelet,omitempty"     json:"codelet,omitempty"`
	Resourcing  map[string]any `yaml:"resourcing,omitempty"  json:"resourcing,omitempty"`
}

// Timer attaches a deadline to a task's work items. Expiry drives the
// failure completion path.
type Timer struct {
	Trigger  TimerTrigger  `yaml:"trigger"  json:"trigger"`
	Duration time.Duration `yaml:"duration" json:"duration"`
}

// Mapping writes a value read from the work-item output document into the
// case data document when the task completes.
type Mapping struct {
	To   string `yaml:"to"   json:"to"`
	From string `yaml:"from" json:"from"`
}

// Task is a transition. Composite tasks name a decomposition net; atomic
// tasks carry an execution profile.
type Task struct {
	ID            string            `yaml:"id"                       json:"id"`
	Join          JoinCode          `yaml:"join"                     json:"join"`
	Split         SplitCode         `yaml:"split"                    json:"split"`
	Flows         []Flow            `yaml:"flows"                    json:"flows"`
	RemoveSet     []string          `yaml:"remove_set,omitempty"     json:"remove_set,omitempty"`
	MultiInstance *MultiInstance    `yaml:"multi_instance,omitempty" json:"multi_instance,omitempty"`
	Decomposition string            `yaml:"decomposition,omitempty"  json:"decomposition,omitempty"`
	Profile       *ExecutionProfile `yaml:"profile,omitempty"        json:"profile,omitempty"`
	OutputSchema  map[string]string `yaml:"output_schema,omitempty"  json:"output_schema,omitempty"`
	OutputMaps    []Mapping         `yaml:"output_maps,omitempty"    json:"output_maps,omitempty"`
	Timer         *Timer            `yaml:"timer,omitempty"          json:"timer,omitempty"`
}

// IsComposite reports whether the task decomposes into a child net.
func (t *Task) IsComposite() bool {
	return t.Decomposition != ""
}

// IsMultiInstance reports whether the task spawns multiple child instances.
func (t *Task) IsMultiInstance() bool {
	return t.MultiInstance != nil
}

// InstanceBounds returns (min, max, threshold) with single-instance
// defaults of (1, 1, 1).
func (t *Task) InstanceBounds() (int, int, int) {
	if t.MultiInstance == nil {
		return 1, 1, 1
	}
	return t.MultiInstance.Min, t.MultiInstance.Max, t.MultiInstance.Threshold
}

// HasElement reports whether the id names a condition or task of the net.
func (n *Net) HasElement(id string) bool {
	if _, ok := n.Conditions[id]; ok {
		return true
	}
	_, ok := n.Tasks[id]
	return ok
}

// IsTask reports whether the id names a task of the net.
func (n *Net) IsTask(id string) bool {
	_, ok := n.Tasks[id]
	return ok
}

// Preset returns the ids of elements with a flow into the given element.
func (n *Net) Preset(id string) []string {
	return n.preset[id]
}

// Postset returns the ids of elements the given element flows into.
func (n *Net) Postset(id string) []string {
	return n.postset[id]
}

// RootNetOrNil returns the specification's root net.
func (s *Specification) RootNetOrNil() *Net {
	return s.Nets[s.RootNet]
}
