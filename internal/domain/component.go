package domain

// Origin distinguishes components shipped with the host from user deployments.
type Origin string

const (
	OriginBuiltin Origin = "Built-In"
	OriginUser    Origin = "User"
)

// UnknownVersion is reported when a component has no version configured.
const UnknownVersion = "-"

// Component is the projection of a registry entry sent to clients. It is
// computed on demand and never cached beyond a single response.
type Component struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	Status     State  `json:"status"`
	StatusIcon string `json:"statusIcon"`
	Origin     Origin `json:"origin"`
	CanStart   bool   `json:"canStart"`
	CanStop    bool   `json:"canStop"`
}

// NewComponent derives the client-facing fields from the raw registry values.
func NewComponent(name, version string, state State, builtin bool) Component {
	if version == "" {
		version = UnknownVersion
	}
	origin := OriginUser
	if builtin {
		origin = OriginBuiltin
	}
	return Component{
		Name:       name,
		Version:    version,
		Status:     state,
		StatusIcon: state.StatusIcon(),
		Origin:     origin,
		CanStart:   state.Startable(),
		CanStop:    state.Stoppable(),
	}
}

// DeviceDetails describes the host the components run on.
type DeviceDetails struct {
	OS         string `json:"os"`
	Version    string `json:"version"`
	CPU        string `json:"cpu"`
	RootPath   string `json:"rootPath"`
	LogStore   string `json:"logStore"`
	Registered bool   `json:"registered"`
	ThingName  string `json:"thingName"`
}

// ConfigMessage is the result of reading or replacing a component config.
type ConfigMessage struct {
	Successful bool   `json:"successful"`
	YAML       string `json:"yaml"`
	ErrorMsg   string `json:"errorMsg"`
}

// LogLine is a single log record emitted by a component.
type LogLine struct {
	Name      string `json:"name"`
	Line      string `json:"line"`
	Timestamp int64  `json:"timestamp"`
}
