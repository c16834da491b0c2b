package supervisor

const (
	introWelcomeFmt = "Welcome! Deceive is running and you are currently appearing %s. " +
		"Despite what the game client may indicate, you are appearing offline to your friends unless you manually disable Deceive."
	introInviteWorkaround = "If you want to invite others while being offline, you may need to disable Deceive for them to accept. " +
		"You can enable Deceive again as soon as they are in your lobby."
	introTrayHint = "To enable or disable Deceive, or to configure other settings, find Deceive in your tray icons."
	introHaveFun  = "Have fun!"

	enabledMsg  = "Deceive is now enabled."
	disabledMsg = "Deceive is now disabled."

	alreadyEnabledMsg  = "Deceive is already enabled."
	alreadyDisabledMsg = "Deceive is already disabled."

	helpMsg = "Commands: online, offline, mobile, enable, disable, status, help"
)
