package constants

// Application identity
const (
	AppName = "relay-client"
	// AppDescription is the tunnel description prefix shown by the OS, e.g. "URnetwork [ur.network main]".
	AppDescription = "URnetwork"
)

// File names
const (
	ConfigFileName       = "config.jsonc"
	PrefsDBFileName      = "prefs.db"
	TunnelConfigFileName = "tunnel.json"
	EngineExecName       = "relay-engine"
)

// Directory names
const (
	BinDirName   = "bin"
	LogsDirName  = "logs"
	StateDirName = "state"
)

// Log file names
const (
	MainLogFileName   = "relay-client.log"
	EngineLogFileName = "relay-engine.log"
	APILogFileName    = "api.log"
)

// Process names for checking
const (
	EngineProcessNameWindows = "relay-engine.exe"
	EngineProcessNameUnix    = "relay-engine"
)

// Network space defaults
const (
	DefaultHostName          = "ur.network"
	DefaultEnvName           = "main"
	DefaultAPIURL            = "https://api.bringyour.com"
	DefaultLinkHostName      = "ur.io"
	DefaultMigrationHostName = "bringyour.com"
	DefaultWallet            = "circle"
	DefaultDeviceDescription = "New device"
)

// Network constants
const (
	DefaultSTUNServer    = "stun.l.google.com:19302"
	DefaultControlListen = "127.0.0.1:9478"
	DefaultSOCKSAddr     = "127.0.0.1:9479"
)

// Application version
// Can be overridden at build time using -ldflags="-X relay-client/internal/constants.AppVersion=..."
var (
	AppVersion = "v0.1.0"
)
