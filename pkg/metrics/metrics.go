package metrics

/*
Labels and so on for metrics used in the watchdog.
*/

const (
	LabelMethod     = "method"
	LabelRoute      = "route"
	LabelSuccess    = "success"
	LabelOperation  = "operation"
	LabelStep       = "step"
	LabelSubscriber = "subscriber"
)
