package control

// SecurityStatus is the combined view of the global controls.
type SecurityStatus struct {
	KillSwitch       KillSwitchState `json:"kill_switch"`
	Lockdown         LockdownConfig  `json:"lockdown"`
	CanExecuteTools  bool            `json:"can_execute_tools"`
	CanSendExternal  bool            `json:"can_send_external"`
	CanAccessNetwork bool            `json:"can_access_network"`
}

// Status derives the combined security status from both controls.
func Status(killSwitch *KillSwitch, lockdown *Lockdown) SecurityStatus {
	ks := killSwitch.State()
	ld := lockdown.Config()
	return SecurityStatus{
		KillSwitch:       ks,
		Lockdown:         ld,
		CanExecuteTools:  !ks.Enabled,
		CanSendExternal:  !ks.Enabled && (!ld.Enabled || !ld.ExternalCommsConfirm),
		CanAccessNetwork: !ks.Enabled,
	}
}
