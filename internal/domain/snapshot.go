package domain

// Mode selects how much enrichment a snapshot build attaches to the graph.
type Mode string

const (
	ModeEdit Mode = "edit"
	ModeView Mode = "view"
)

// DeployState summarizes whether the lab's nodes are currently running.
type DeployState string

const (
	DeployStateDeployed   DeployState = "deployed"
	DeployStateUndeployed DeployState = "undeployed"
	DeployStateUnknown    DeployState = "unknown"
)

// Snapshot is the immutable, fully-resolved view handed to renderers. It
// is always internally consistent with a single revision and is replaced
// wholesale, never patched.
type Snapshot struct {
	Revision    int         `json:"revision"`
	Name        string      `json:"name"`
	Mode        Mode        `json:"mode"`
	DeployState DeployState `json:"deployState"`
	Graph       Graph       `json:"graph"`
	Annotations Annotations `json:"annotations"`
	LabSettings LabSettings `json:"labSettings"`
	CanUndo     bool        `json:"canUndo"`
	CanRedo     bool        `json:"canRedo"`
}
