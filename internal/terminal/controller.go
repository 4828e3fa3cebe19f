package terminal

// Controller is the simulator-facing surface the terminal command set
// drives. It is implemented by *engine.Engine (pkg/cherrysim/engine), kept
// narrow here so this package can be tested against a fake.
type Controller interface {
	// Stat reports simulator status as a human-readable string (simstat).
	Stat() string

	// SetTerminalTarget narrows which node(s) subsequent interactive
	// terminal output targets ("id" or "all").
	SetTerminalTarget(target string) error

	// SetNumNodes resizes the node slab (nodes N).
	SetNumNodes(n int) error
	// SetAssetNodes sets how many of the nodes are asset-type devices.
	SetAssetNodes(n int) error

	// SetSeed reseeds the simulator. reroll requests a freshly chosen
	// random seed when no explicit value is given (the firmware's
	// "seedr" variant).
	SetSeed(value uint32, reroll bool) error

	// SetMapWidth / SetMapHeight resize the radio model's map dimensions.
	SetMapWidth(meters float64) error
	SetMapHeight(meters float64) error

	// SetLossProbability sets a uniform packet-loss override.
	SetLossProbability(p float64) error
	// SetDelay sets a fixed extra transmission delay in milliseconds.
	SetDelay(ms uint32) error
	// SetJSONVerbose toggles the line-delimited JSON event stream.
	SetJSONVerbose(enabled bool) error

	// LoadSite / LoadDevices import map dimensions / node placements from
	// the given JSON file path (spec §6's site/devices import contract).
	LoadSite(path string) error
	LoadDevices(path string) error

	// SetPosition / AddPosition set or offset one node's position
	// (identified by serial index).
	SetPosition(serial uint32, x, y, z float64) error
	AddPosition(serial uint32, x, y, z float64) error

	// Animation forwards a "sim animation ..." subcommand verbatim; the
	// move-animation engine's own semantics are an external collaborator
	// per spec §6, so this just needs to accept the syntax.
	Animation(args []string) error

	// Flush forces all pending packet queues to drain immediately.
	Flush() error
	// FlushFail forces the next flush attempt to fail, for fault-injection
	// tests.
	FlushFail() error
	// BlockConnections prevents any new connection from being established.
	BlockConnections() error

	// Reestablish forces the mesh connection on the given handle to begin
	// reestablishment (rees HANDLE).
	Reestablish(handle uint16) error

	// SimulateLoss forces the next scheduled packet on every connection to
	// be dropped (simloss).
	SimulateLoss() error

	// SendStat / RouteStat report per-node (or all-node, if id is empty)
	// send/route statistics as a human-readable string.
	SendStat(id string) string
	RouteStat(id string) string
}
