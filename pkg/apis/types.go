// Package apis contains the data model shared by every rk8s component: the
// desired/observed Pod and Node shapes persisted through pkg/kv, cluster
// events, subnet leases, and the on-disk pod record the node agent owns.
// The scheduling queue's entry type lives in pkg/scheduler.
package apis

import "time"

// TaintEffect is the effect a taint has on pods that do not tolerate it.
type TaintEffect string

const (
	TaintEffectNoSchedule       TaintEffect = "NoSchedule"
	TaintEffectPreferNoSchedule TaintEffect = "PreferNoSchedule"
	TaintEffectNoExecute        TaintEffect = "NoExecute"
)

// TolerationOperator mirrors the two operators a toleration may use to match
// a taint's value.
type TolerationOperator string

const (
	TolerationOpExists TolerationOperator = "Exists"
	TolerationOpEqual  TolerationOperator = "Equal"
)

type Taint struct {
	Key    string      `yaml:"key"`
	Value  string      `yaml:"value,omitempty"`
	Effect TaintEffect `yaml:"effect"`
}

type Toleration struct {
	Key      string             `yaml:"key,omitempty"`
	Operator TolerationOperator `yaml:"operator,omitempty"`
	Value    string             `yaml:"value,omitempty"`
	Effect   TaintEffect        `yaml:"effect,omitempty"`
}

// Tolerates reports whether this toleration matches the given taint: an
// empty key with operator Exists tolerates everything, an empty effect
// tolerates every effect.
func (t Toleration) Tolerates(taint Taint) bool {
	if t.Effect != "" && t.Effect != taint.Effect {
		return false
	}
	if t.Operator == TolerationOpExists {
		return t.Key == "" || t.Key == taint.Key
	}
	// Default / Equal operator.
	return t.Key == taint.Key && t.Value == taint.Value
}

// Resources is the cpu/memory shape used both for a container's limits and a
// node's allocatable/requested counters.
type Resources struct {
	CPUMillicores uint64 `yaml:"cpu_millicores"`
	MemoryBytes   uint64 `yaml:"memory_bytes"`
}

// Fits reports whether "want" fits within the receiver along every
// dimension — the NodeResourcesFit filter's core comparison.
func (r Resources) Fits(want Resources) bool {
	return want.CPUMillicores <= r.CPUMillicores && want.MemoryBytes <= r.MemoryBytes
}

func (r Resources) Add(o Resources) Resources {
	return Resources{CPUMillicores: r.CPUMillicores + o.CPUMillicores, MemoryBytes: r.MemoryBytes + o.MemoryBytes}
}

func (r Resources) Sub(o Resources) Resources {
	return Resources{CPUMillicores: r.CPUMillicores - o.CPUMillicores, MemoryBytes: r.MemoryBytes - o.MemoryBytes}
}

type Port struct {
	Name          string `yaml:"name,omitempty"`
	ContainerPort int32  `yaml:"container_port"`
	HostPort      int32  `yaml:"host_port,omitempty"`
	Protocol      string `yaml:"protocol,omitempty"`
}

type Container struct {
	Name         string        `yaml:"name"`
	Image        string        `yaml:"image"`
	Command      []string      `yaml:"command,omitempty"`
	Args         []string      `yaml:"args,omitempty"`
	Env          []string      `yaml:"env,omitempty"`
	Ports        []Port        `yaml:"ports,omitempty"`
	Resources    Resources     `yaml:"resources,omitempty"`
	VolumeMounts []VolumeMount `yaml:"volume_mounts,omitempty"`
}

// VolumeMount is one bind mount a container wants at ContainerPath. HostPath
// is either an explicit host filesystem path, or empty to mean a bare named
// volume: in that case the agent resolves it to an emptyDir-style scratch
// directory under the pod's own overlay tree, keyed by Name, rather than
// reaching outside the pod's storage at all.
type VolumeMount struct {
	Name          string `yaml:"name"`
	HostPath      string `yaml:"host_path,omitempty"`
	ContainerPath string `yaml:"container_path"`
	ReadOnly      bool   `yaml:"read_only,omitempty"`
}

// NodeSelectorTerm is a conjunction of label match expressions, used by the
// optional NodeAffinity filter.
type NodeSelectorTerm struct {
	MatchExpressions []NodeSelectorRequirement `yaml:"match_expressions,omitempty"`
}

type NodeSelectorOperator string

const (
	NodeSelectorOpIn           NodeSelectorOperator = "In"
	NodeSelectorOpNotIn        NodeSelectorOperator = "NotIn"
	NodeSelectorOpExists       NodeSelectorOperator = "Exists"
	NodeSelectorOpDoesNotExist NodeSelectorOperator = "DoesNotExist"
)

type NodeSelectorRequirement struct {
	Key      string               `yaml:"key"`
	Operator NodeSelectorOperator `yaml:"operator"`
	Values   []string             `yaml:"values,omitempty"`
}

// Pod is the desired state persisted under /registry/pods/<name>.
//
// Invariant: a pod with non-empty NodeName is bound; the scheduler never
// rebinds a bound pod unless explicitly unassumed.
type Pod struct {
	Name              string             `yaml:"name"`
	Namespace         string             `yaml:"namespace,omitempty"`
	Containers        []Container        `yaml:"containers"`
	InitContainers    []Container        `yaml:"init_containers,omitempty"`
	NodeName          string             `yaml:"node_name,omitempty"`
	Tolerations       []Toleration       `yaml:"tolerations,omitempty"`
	NodeSelectorTerms []NodeSelectorTerm `yaml:"node_selector_terms,omitempty"`
	Priority          int32              `yaml:"priority,omitempty"`
	SchedulingGates   []string           `yaml:"scheduling_gates,omitempty"`
}

// Bound reports whether the scheduler has already assigned this pod a node.
func (p *Pod) Bound() bool {
	return p.NodeName != ""
}

// Requested sums container resource requests; init containers do not run
// concurrently with app containers so they are not added.
func (p *Pod) Requested() Resources {
	var r Resources
	for _, c := range p.Containers {
		r = r.Add(c.Resources)
	}
	return r
}

type NodeStatus struct {
	Requested     Resources `yaml:"requested"`
	Unschedulable bool      `yaml:"unschedulable,omitempty"`
	Ready         bool      `yaml:"ready"`
	LastHeartbeat time.Time `yaml:"last_heartbeat,omitempty"`
}

// Node is the desired+status state persisted under /registry/nodes/<name>.
//
// Invariant: Requested <= Allocatable for every resource dimension after
// every successful bind; a violation means a stale cache and must trigger
// unassume.
type Node struct {
	Name          string            `yaml:"name"`
	Labels        map[string]string `yaml:"labels,omitempty"`
	PodCIDR       string            `yaml:"pod_cidr,omitempty"`
	Allocatable   Resources         `yaml:"allocatable"`
	Taints        []Taint           `yaml:"taints,omitempty"`
	Unschedulable bool              `yaml:"unschedulable,omitempty"`
	Status        NodeStatus        `yaml:"status,omitempty"`
}

// EventResource names which registry namespace a ClusterEvent concerns.
type EventResource string

const (
	EventResourcePod  EventResource = "Pod"
	EventResourceNode EventResource = "Node"
)

// EventAction is a bitset over the action kinds a watch event may carry, so
// a single cluster event can represent e.g. "node taint changed and
// allocatable changed" in one value.
type EventAction uint32

const (
	EventAdd EventAction = 1 << iota
	EventUpdateNodeTaint
	EventUpdatePodToleration
	EventDelete
	EventUpdateNodeAllocatable
)

func (a EventAction) Has(flag EventAction) bool { return a&flag != 0 }

type ClusterEvent struct {
	Resource  EventResource
	Action    EventAction
	Name      string
	OldObject any
	NewObject any
}

// SubnetLease is the per-node lease the subnet manager hands out from the
// cluster pod CIDR.
type SubnetLease struct {
	Subnet        string    `yaml:"subnet"`
	IPv6Subnet    string    `yaml:"ipv6_subnet,omitempty"`
	PublicIP      string    `yaml:"public_ip"`
	BackendType   string    `yaml:"backend_type"`
	BackendData   string    `yaml:"backend_data,omitempty"`
	NodeID        string    `yaml:"node_id"`
	ExpirationUTC time.Time `yaml:"expiration_utc"`
	EnabledV4     bool      `yaml:"enabled_v4"`
	EnabledV6     bool      `yaml:"enabled_v6"`
}

func (l SubnetLease) Expired(now time.Time) bool { return now.After(l.ExpirationUTC) }

// PodRecord is the node-local record at <root>/pods/<name>: the sandbox ID
// plus the ordered list of container names rk8s-agent has launched for this
// pod. It is exclusively owned by the node agent.
type PodRecord struct {
	SandboxID  string   `yaml:"sandbox_id"`
	Containers []string `yaml:"containers"`
}

// OverlayLayout names the five paths an overlay mount config owns.
type OverlayLayout struct {
	LowerDir   []string `yaml:"lower_dir"`
	UpperDir   string   `yaml:"upper_dir"`
	Mountpoint string   `yaml:"mountpoint"`
	WorkDir    string   `yaml:"work_dir"`
	Overlay    string   `yaml:"overlay"`
}
