// Package mdm defines the narrow shape this control plane imports from and
// exports to an external MDM bridge (Jamf/Mosyle/Kandji adapters). No MDM
// vendor client is implemented here; those REST integrations are explicitly
// out of scope.
package mdm

// Policy is the record an external MDM adapter hands the control plane when
// an MDM-originated policy needs to be represented internally.
type Policy struct {
	Name    string
	Payload map[string]string
}

// Command is a directive the control plane can export for an MDM bridge to
// carry out on a specific device.
type Command struct {
	AgentID string
	Verb    string
	Payload map[string]string
}
