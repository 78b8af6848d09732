// Package wire holds the JSON shapes exchanged over the worker's HTTP
// surface and the worker<->component pipe protocol.
package wire

// ExecutionMethod tags which isolation backend a component runs under.
type ExecutionMethod string

const (
	ExecutionMethodRawInterpreter ExecutionMethod = "python-unsafe"
	ExecutionMethodImageArchive   ExecutionMethod = "docker-archive"
	ExecutionMethodPooledScript   ExecutionMethod = "containerized-script"
)

// ComponentID identifies a component: the routing key (User, Repo) plus an
// opaque content hash carried through from activation into status.
type ComponentID struct {
	User string `json:"user"`
	Repo string `json:"repo"`
	Hash string `json:"hash"`
}

// ActivateRequest is the body of POST /meta/activate.
type ActivateRequest struct {
	ID              ComponentID     `json:"id"`
	ExecutableFile  string          `json:"executable_file"`
	ExecutionMethod ExecutionMethod `json:"execution_method"`
}

// ActivationStatus enumerates the outcomes of activate().
type ActivationStatus string

const (
	ActivationSuccessful ActivationStatus = "activation-successful"
	AlreadyRunning       ActivationStatus = "already-running"
	FailedToStart        ActivationStatus = "failed-to-start"
	InvalidRequest       ActivationStatus = "invalid-request"
)

// ActivateResponse is the body returned by POST /meta/activate.
type ActivateResponse struct {
	Result  ActivationStatus `json:"result"`
	Message string           `json:"message,omitempty"`
}

// DeactivateRequest is the body of POST /meta/deactivate.
type DeactivateRequest struct {
	ID ComponentID `json:"id"`
}

// DeactivationStatus enumerates the outcomes of deactivate().
type DeactivationStatus string

const (
	ComponentNotFound        DeactivationStatus = "component-not-found"
	DeactivationSuccessful   DeactivationStatus = "deactivation-successful"
	DeactivationInvalidInput DeactivationStatus = "invalid-request"
)

// DeactivateResponse is the body returned by POST /meta/deactivate.
type DeactivateResponse struct {
	Result  DeactivationStatus `json:"result"`
	Message string             `json:"message,omitempty"`
}

// ComponentRequest is encoded, percent-escaped, and written as one line to
// a component's input FIFO.
type ComponentRequest struct {
	CalledFunction   string              `json:"called_function"`
	HTTPMethod       string              `json:"http_method"`
	Path             string              `json:"path"`
	RequestArguments map[string][]string `json:"request_arguments"`
	RequestBody      string              `json:"request_body"`
}

// ComponentResponse is read back (percent-decoded) as one line from a
// component's output FIFO.
type ComponentResponse struct {
	ResponseBody     string `json:"response_body"`
	HTTPResponseCode int    `json:"http_response_code"`
	ErrorMessage     string `json:"error_message,omitempty"`
}

// ComponentStats is the per-component snapshot returned by GET /meta/status.
type ComponentStats struct {
	StatWindowSeconds   float64   `json:"stat_window_seconds"`
	Hits                int       `json:"hits"`
	AvgResponseBytes    float64   `json:"avg_response_bytes"`
	AvgMsLatency        float64   `json:"avg_ms_latency"`
	MsLatencyPercentiles []float64 `json:"ms_latency_percentiles"`
}

// ActiveComponent is one entry of StatusResponse.ActiveComponents.
type ActiveComponent struct {
	ID              ComponentID     `json:"id"`
	ExecutionMethod ExecutionMethod `json:"execution_method"`
	StatusColor     string          `json:"status_color"`
	Stats           ComponentStats  `json:"stats"`
}

// StatusResponse is the body returned by GET /meta/status.
type StatusResponse struct {
	CPUUsage         float64           `json:"cpu_usage"`
	MemoryUsage      float64           `json:"memory_usage"`
	NetworkUsage     float64           `json:"network_usage"`
	ActiveComponents []ActiveComponent `json:"active_components"`
}

// LogEntry is one component's captured log snapshot.
type LogEntry struct {
	ID         ComponentID `json:"id"`
	Generation uint64      `json:"generation"`
	Logs       *string     `json:"logs,omitempty"`
}

// LogResponse is the body returned by GET /meta/logs.
type LogResponse struct {
	Components []LogEntry `json:"components"`
}
