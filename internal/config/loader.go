package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Load reads configuration from the given file path (if non-empty),
// environment variables (CHERRYSIM_ prefix), and falls back to
// DefaultConfig for anything unset.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix("cherrysim")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	bindDefaults(v, cfg)

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}

	return cfg, nil
}

// bindDefaults seeds viper with DefaultConfig's values so that Unmarshal
// produces the defaults for any key the config file or environment leaves
// unset.
func bindDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("sim.num_nodes", cfg.Sim.NumNodes)
	v.SetDefault("sim.asset_nodes", cfg.Sim.AssetNodes)
	v.SetDefault("sim.seed", cfg.Sim.Seed)
	v.SetDefault("sim.sim_tick_duration_ms", cfg.Sim.SimTickDurationMs)
	v.SetDefault("sim.simulate_jittering", cfg.Sim.SimulateJittering)
	v.SetDefault("sim.map_width_meters", cfg.Sim.MapWidthMeters)
	v.SetDefault("sim.map_height_meters", cfg.Sim.MapHeightMeters)
	v.SetDefault("sim.verbose", cfg.Sim.Verbose)
	v.SetDefault("sim.clustering_validate", cfg.Sim.ClusteringValidate)

	v.SetDefault("radio.calibrated_tx_dbm", cfg.Radio.CalibratedTxDbm)
	v.SetDefault("radio.default_dbm_tx", cfg.Radio.DefaultDbmTx)
	v.SetDefault("radio.path_loss_exponent", cfg.Radio.PathLossExponent)
	v.SetDefault("radio.noise_enabled", cfg.Radio.NoiseEnabled)
	v.SetDefault("radio.loss_probability", cfg.Radio.LossProbability)
	v.SetDefault("radio.stable_rssi_threshold", cfg.Radio.StableRssiThreshold)

	v.SetDefault("mesh.max_mesh_in", cfg.Mesh.MaxMeshIn)
	v.SetDefault("mesh.max_mesh_out", cfg.Mesh.MaxMeshOut)
	v.SetDefault("mesh.total_connections", cfg.Mesh.TotalConnections)
	v.SetDefault("mesh.mesh_extended_connection_timeout_sec", cfg.Mesh.MeshExtendedConnectionTimeoutSec)
	v.SetDefault("mesh.network_id", cfg.Mesh.NetworkID)

	v.SetDefault("storage.store_flash_to_file", cfg.Storage.StoreFlashToFile)
	v.SetDefault("storage.flash_snapshot_path", cfg.Storage.FlashSnapshotPath)
	v.SetDefault("storage.site_path", cfg.Storage.SitePath)
	v.SetDefault("storage.devices_path", cfg.Storage.DevicesPath)

	v.SetDefault("telemetry.mqtt_enabled", cfg.Telemetry.MQTTEnabled)
	v.SetDefault("telemetry.mqtt_broker", cfg.Telemetry.MQTTBroker)
	v.SetDefault("telemetry.mqtt_client_id", cfg.Telemetry.MQTTClientID)
	v.SetDefault("telemetry.mqtt_username", cfg.Telemetry.MQTTUsername)
	v.SetDefault("telemetry.mqtt_password", cfg.Telemetry.MQTTPassword)
	v.SetDefault("telemetry.mqtt_topic", cfg.Telemetry.MQTTTopic)

	v.SetDefault("terminal.serial_port", cfg.Terminal.SerialPort)
	v.SetDefault("terminal.serial_baud", cfg.Terminal.SerialBaud)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
}

// Validate checks the configuration for internally-inconsistent values
// that would make the simulator behave nonsensically rather than simply
// failing to build.
func (c *Config) Validate() error {
	switch {
	case c.Sim.NumNodes <= 0:
		return fmt.Errorf("sim.num_nodes must be positive, got %d", c.Sim.NumNodes)
	case c.Sim.AssetNodes < 0:
		return fmt.Errorf("sim.asset_nodes must not be negative, got %d", c.Sim.AssetNodes)
	case c.Sim.SimTickDurationMs == 0:
		return fmt.Errorf("sim.sim_tick_duration_ms must be positive")
	case c.Sim.MapWidthMeters <= 0 || c.Sim.MapHeightMeters <= 0:
		return fmt.Errorf("sim.map_width_meters and sim.map_height_meters must be positive")
	case c.Mesh.MaxMeshIn < 0 || c.Mesh.MaxMeshOut < 0:
		return fmt.Errorf("mesh.max_mesh_in and mesh.max_mesh_out must not be negative")
	case c.Mesh.TotalConnections < c.Mesh.MaxMeshIn+c.Mesh.MaxMeshOut:
		return fmt.Errorf("mesh.total_connections (%d) must be at least max_mesh_in+max_mesh_out (%d)",
			c.Mesh.TotalConnections, c.Mesh.MaxMeshIn+c.Mesh.MaxMeshOut)
	case c.Radio.PathLossExponent <= 0:
		return fmt.Errorf("radio.path_loss_exponent must be positive")
	case c.Telemetry.MQTTEnabled && c.Telemetry.MQTTBroker == "":
		return fmt.Errorf("telemetry.mqtt_broker must be set when telemetry.mqtt_enabled is true")
	case c.Terminal.SerialPort != "" && c.Terminal.SerialBaud <= 0:
		return fmt.Errorf("terminal.serial_baud must be positive when terminal.serial_port is set")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}

	return nil
}
