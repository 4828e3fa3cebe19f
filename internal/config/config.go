// Package config provides configuration types and loading for the mesh
// simulator.
package config

// Config represents the complete simulator configuration.
type Config struct {
	Sim       SimConfig       `mapstructure:"sim"`
	Radio     RadioConfig     `mapstructure:"radio"`
	Mesh      MeshConfig      `mapstructure:"mesh"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Terminal  TerminalConfig  `mapstructure:"terminal"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// SimConfig controls the step engine: tick rate, node count, seed, and
// jittering.
type SimConfig struct {
	NumNodes           int     `mapstructure:"num_nodes"`
	AssetNodes         int     `mapstructure:"asset_nodes"`
	Seed               uint32  `mapstructure:"seed"`
	SimTickDurationMs  uint32  `mapstructure:"sim_tick_duration_ms"`
	SimulateJittering  bool    `mapstructure:"simulate_jittering"`
	MapWidthMeters     float64 `mapstructure:"map_width_meters"`
	MapHeightMeters    float64 `mapstructure:"map_height_meters"`
	Verbose            bool    `mapstructure:"verbose"`
	ClusteringValidate bool    `mapstructure:"clustering_validate"`
}

// RadioConfig controls the RadioModel's calibration and noise behavior.
type RadioConfig struct {
	CalibratedTxDbm     float64 `mapstructure:"calibrated_tx_dbm"`
	DefaultDbmTx        float64 `mapstructure:"default_dbm_tx"`
	PathLossExponent    float64 `mapstructure:"path_loss_exponent"`
	NoiseEnabled        bool    `mapstructure:"noise_enabled"`
	LossProbability     float64 `mapstructure:"loss_probability"`
	StableRssiThreshold float64 `mapstructure:"stable_rssi_threshold"`
}

// MeshConfig controls connection quotas and reestablishment.
type MeshConfig struct {
	MaxMeshIn                     int    `mapstructure:"max_mesh_in"`
	MaxMeshOut                    int    `mapstructure:"max_mesh_out"`
	TotalConnections              int    `mapstructure:"total_connections"`
	MeshExtendedConnectionTimeoutSec uint32 `mapstructure:"mesh_extended_connection_timeout_sec"`
	NetworkID                     uint16 `mapstructure:"network_id"`
}

// StorageConfig controls flash-snapshot persistence and site/device JSON
// import, both of which are external collaborators (§6) whose contracts
// this config feeds.
type StorageConfig struct {
	StoreFlashToFile   bool   `mapstructure:"store_flash_to_file"`
	FlashSnapshotPath  string `mapstructure:"flash_snapshot_path"`
	SitePath           string `mapstructure:"site_path"`
	DevicesPath        string `mapstructure:"devices_path"`
}

// TelemetryConfig controls the optional MQTT republisher of the JSON
// connection/data event stream.
type TelemetryConfig struct {
	MQTTEnabled  bool   `mapstructure:"mqtt_enabled"`
	MQTTBroker   string `mapstructure:"mqtt_broker"`
	MQTTClientID string `mapstructure:"mqtt_client_id"`
	MQTTUsername string `mapstructure:"mqtt_username"`
	MQTTPassword string `mapstructure:"mqtt_password"`
	MQTTTopic    string `mapstructure:"mqtt_topic"`
}

// TerminalConfig controls the optional serial-attached debug console that
// forwards the simulator's terminal command surface to a physical port.
type TerminalConfig struct {
	SerialPort string `mapstructure:"serial_port"`
	SerialBaud int    `mapstructure:"serial_baud"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Sim: SimConfig{
			NumNodes:          10,
			Seed:              1,
			SimTickDurationMs: 50,
			MapWidthMeters:    40,
			MapHeightMeters:   40,
		},
		Radio: RadioConfig{
			CalibratedTxDbm:     -45,
			DefaultDbmTx:        -4,
			PathLossExponent:    2.5,
			StableRssiThreshold: -85,
		},
		Mesh: MeshConfig{
			MaxMeshIn:         3,
			MaxMeshOut:        2,
			TotalConnections:  8,
			NetworkID:         1,
		},
		Telemetry: TelemetryConfig{
			MQTTBroker: "tcp://localhost:1883",
			MQTTTopic:  "cherrysim/events",
		},
		Terminal: TerminalConfig{
			SerialBaud: 115200,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
