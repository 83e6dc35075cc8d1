package cli

// Stable stderr prefixes. Scripts match on these, so they never change meaning.
const (
	codeUsage  = "COPYCONF_E_USAGE"
	codeSetup  = "COPYCONF_E_SETUP"
	codeFailed = "COPYCONF_E_FAILED"
	codeIO     = "COPYCONF_E_IO"
)
