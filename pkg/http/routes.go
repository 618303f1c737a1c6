package http

// Names of the routes in the API. Being names, rather than paths,
// lets the client and the server share the router.
const (
	Ping        = "Ping"
	Version     = "Version"
	StatusText  = "StatusText"
	Check       = "Check"
	Transcript  = "Transcript"
	Status      = "Status"
	Deployments = "Deployments"
	Events      = "Events"
	Metrics     = "Metrics"
)

// CheckStartedHeader says whether a request to check for updates
// started one; it's "false" if one was already underway.
const CheckStartedHeader = "X-Watchdog-Check-Started"
