package domain

// Action terminal classification of one module in a patch run.
type Action string

const (
	ActionAdded       Action = "ADDED"
	ActionDryRunAdded Action = "DRY_RUN_ADDED"
	ActionSkipped     Action = "SKIPPED"
	ActionError       Action = "ERROR"
)

// Reason why a module was skipped or errored. Empty for ADDED / DRY_RUN_ADDED.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonNotEligibleType  Reason = "not_eligible_type"
	ReasonAlreadyCompliant Reason = "already_compliant"
	ReasonMalformedConfig  Reason = "malformed_config"
	ReasonNoController     Reason = "no_controller"
	ReasonChecksFailed     Reason = "checks_failed"
	ReasonFinalCheckFailed Reason = "final_check_failed"
	ReasonPersistenceFault Reason = "persistence_fault"
	ReasonUnexpectedError  Reason = "unexpected_error"
	ReasonCancelled        Reason = "cancelled"
)

// Outcome immutable per-module result of a patch run.
type Outcome struct {
	Tenant               string `json:"tenant"`
	ModuleID             int64  `json:"slavedeviceid"`
	SlaveAddress         int    `json:"slaveaddress"`
	Action               Action `json:"action"`
	Reason               Reason `json:"reason"`
	Detail               string `json:"detail,omitempty"`
	OldConfig            string `json:"old_config"`
	NewConfig            string `json:"new_config"`
	ControllerAddress    string `json:"controller_address"`
	ControllerDeviceType string `json:"controller_devid"`
	DryRun               bool   `json:"dry_run"`
}

// Enqueued reports whether the module produced (or would produce) a sendlist entry.
func (o Outcome) Enqueued() bool {
	return o.Action == ActionAdded || o.Action == ActionDryRunAdded
}
