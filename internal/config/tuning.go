package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical docking defaults file.
const DefaultConfigPath = "config/docking.defaults.json"

// DockingConfig represents the root configuration for the docking controller.
// Every field is optional; the Get* methods return the built-in default for
// any field the JSON omits, so partial files are safe.
type DockingConfig struct {
	// Pose filter params
	TargetMarkerID     *int     `json:"target_marker_id,omitempty"` // -1 accepts any id
	PositionGate       *float64 `json:"position_gate,omitempty"`    // |dx|, |dz| consistency gate
	AngleGateDeg       *float64 `json:"angle_gate_deg,omitempty"`
	ResyncAfterRejects *int     `json:"resync_after_rejects,omitempty"`
	MissGraceCycles    *int     `json:"miss_grace_cycles,omitempty"`
	RejectRange        *float64 `json:"reject_range,omitempty"`
	SentinelRange      *float64 `json:"sentinel_range,omitempty"`

	// Geometry params
	AimDistance          *float64 `json:"aim_distance,omitempty"`
	FeasibleToleranceDeg *float64 `json:"feasible_tolerance_deg,omitempty"`

	// Maneuver params
	HalfAxle        *float64 `json:"half_axle,omitempty"`
	ApproachSpeed   *float64 `json:"approach_speed,omitempty"`
	SlowSpeed       *float64 `json:"slow_speed,omitempty"`
	MidRange        *float64 `json:"mid_range,omitempty"`
	MinRange        *float64 `json:"min_range,omitempty"`
	MinAngleDeg     *float64 `json:"min_angle_deg,omitempty"`
	MaxMissedCycles *int     `json:"max_missed_cycles,omitempty"`
	ArmDwell        *string  `json:"arm_dwell,omitempty"`        // duration string like "3s"
	SettleDwell     *string  `json:"settle_dwell,omitempty"`     // duration string like "1s"
	ReverseDuration *string  `json:"reverse_duration,omitempty"` // disconnect back-off

	// I/O params
	MarkerUDPAddr  *string `json:"marker_udp_addr,omitempty"`
	FrameTimeout   *string `json:"frame_timeout,omitempty"`
	SerialPort     *string `json:"serial_port,omitempty"`
	SerialBaudRate *int    `json:"serial_baud_rate,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyDockingConfig returns a DockingConfig with all fields set to nil.
func EmptyDockingConfig() *DockingConfig {
	return &DockingConfig{}
}

// DefaultDockingConfig returns a DockingConfig with every field populated
// with its built-in default. It matches config/docking.defaults.json.
func DefaultDockingConfig() *DockingConfig {
	return &DockingConfig{
		TargetMarkerID:       ptrInt(-1),
		PositionGate:         ptrFloat64(5),
		AngleGateDeg:         ptrFloat64(20),
		ResyncAfterRejects:   ptrInt(2),
		MissGraceCycles:      ptrInt(10),
		RejectRange:          ptrFloat64(500000),
		SentinelRange:        ptrFloat64(1000),
		AimDistance:          ptrFloat64(100),
		FeasibleToleranceDeg: ptrFloat64(45),
		HalfAxle:             ptrFloat64(50),
		ApproachSpeed:        ptrFloat64(90),
		SlowSpeed:            ptrFloat64(25),
		MidRange:             ptrFloat64(45),
		MinRange:             ptrFloat64(20),
		MinAngleDeg:          ptrFloat64(4),
		MaxMissedCycles:      ptrInt(1000),
		ArmDwell:             ptrString("3s"),
		SettleDwell:          ptrString("1s"),
		ReverseDuration:      ptrString("5s"),
		MarkerUDPAddr:        ptrString(":5600"),
		FrameTimeout:         ptrString("2s"),
		SerialPort:           ptrString("/dev/ttyUSB0"),
		SerialBaudRate:       ptrInt(115200),
	}
}

// LoadDockingConfig loads a DockingConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadDockingConfig(path string) (*DockingConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyDockingConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *DockingConfig) Validate() error {
	if c.PositionGate != nil && *c.PositionGate <= 0 {
		return fmt.Errorf("position_gate must be positive, got %f", *c.PositionGate)
	}
	if c.AngleGateDeg != nil && *c.AngleGateDeg <= 0 {
		return fmt.Errorf("angle_gate_deg must be positive, got %f", *c.AngleGateDeg)
	}
	if c.ResyncAfterRejects != nil && *c.ResyncAfterRejects < 0 {
		return fmt.Errorf("resync_after_rejects must be non-negative, got %d", *c.ResyncAfterRejects)
	}
	if c.MissGraceCycles != nil && *c.MissGraceCycles < 0 {
		return fmt.Errorf("miss_grace_cycles must be non-negative, got %d", *c.MissGraceCycles)
	}

	for name, v := range map[string]*float64{
		"approach_speed": c.ApproachSpeed,
		"slow_speed":     c.SlowSpeed,
	} {
		if v != nil && (*v < 0 || *v > 100) {
			return fmt.Errorf("%s must be between 0 and 100, got %f", name, *v)
		}
	}

	if c.HalfAxle != nil && *c.HalfAxle <= 0 {
		return fmt.Errorf("half_axle must be positive, got %f", *c.HalfAxle)
	}
	if c.GetMinRange() >= c.GetMidRange() {
		return fmt.Errorf("min_range (%f) must be below mid_range (%f)", c.GetMinRange(), c.GetMidRange())
	}
	if c.MaxMissedCycles != nil && *c.MaxMissedCycles < 1 {
		return fmt.Errorf("max_missed_cycles must be at least 1, got %d", *c.MaxMissedCycles)
	}

	for name, v := range map[string]*string{
		"arm_dwell":        c.ArmDwell,
		"settle_dwell":     c.SettleDwell,
		"reverse_duration": c.ReverseDuration,
		"frame_timeout":    c.FrameTimeout,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
	}

	return nil
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetTargetMarkerID returns the marker id to track, or -1 for any.
func (c *DockingConfig) GetTargetMarkerID() int {
	if c.TargetMarkerID == nil {
		return -1
	}
	return *c.TargetMarkerID
}

// GetPositionGate returns the position_gate value or the default.
func (c *DockingConfig) GetPositionGate() float64 {
	if c.PositionGate == nil {
		return 5
	}
	return *c.PositionGate
}

// GetAngleGateDeg returns the angle_gate_deg value or the default.
func (c *DockingConfig) GetAngleGateDeg() float64 {
	if c.AngleGateDeg == nil {
		return 20
	}
	return *c.AngleGateDeg
}

// GetResyncAfterRejects returns the resync_after_rejects value or the default.
func (c *DockingConfig) GetResyncAfterRejects() int {
	if c.ResyncAfterRejects == nil {
		return 2
	}
	return *c.ResyncAfterRejects
}

// GetMissGraceCycles returns the miss_grace_cycles value or the default.
func (c *DockingConfig) GetMissGraceCycles() int {
	if c.MissGraceCycles == nil {
		return 10
	}
	return *c.MissGraceCycles
}

// GetRejectRange returns the reject_range value or the default.
func (c *DockingConfig) GetRejectRange() float64 {
	if c.RejectRange == nil {
		return 500000
	}
	return *c.RejectRange
}

// GetSentinelRange returns the sentinel_range value or the default.
func (c *DockingConfig) GetSentinelRange() float64 {
	if c.SentinelRange == nil {
		return 1000
	}
	return *c.SentinelRange
}

// GetAimDistance returns the aim_distance value or the default.
func (c *DockingConfig) GetAimDistance() float64 {
	if c.AimDistance == nil {
		return 100
	}
	return *c.AimDistance
}

// GetFeasibleToleranceDeg returns the feasible_tolerance_deg value or the default.
func (c *DockingConfig) GetFeasibleToleranceDeg() float64 {
	if c.FeasibleToleranceDeg == nil {
		return 45
	}
	return *c.FeasibleToleranceDeg
}

// GetHalfAxle returns the half_axle value or the default.
func (c *DockingConfig) GetHalfAxle() float64 {
	if c.HalfAxle == nil {
		return 50
	}
	return *c.HalfAxle
}

// GetApproachSpeed returns the approach_speed value or the default.
func (c *DockingConfig) GetApproachSpeed() float64 {
	if c.ApproachSpeed == nil {
		return 90
	}
	return *c.ApproachSpeed
}

// GetSlowSpeed returns the slow_speed value or the default.
func (c *DockingConfig) GetSlowSpeed() float64 {
	if c.SlowSpeed == nil {
		return 25
	}
	return *c.SlowSpeed
}

// GetMidRange returns the mid_range value or the default.
func (c *DockingConfig) GetMidRange() float64 {
	if c.MidRange == nil {
		return 45
	}
	return *c.MidRange
}

// GetMinRange returns the min_range value or the default.
func (c *DockingConfig) GetMinRange() float64 {
	if c.MinRange == nil {
		return 20
	}
	return *c.MinRange
}

// GetMinAngleDeg returns the min_angle_deg value or the default.
func (c *DockingConfig) GetMinAngleDeg() float64 {
	if c.MinAngleDeg == nil {
		return 4
	}
	return *c.MinAngleDeg
}

// GetMaxMissedCycles returns the max_missed_cycles value or the default.
func (c *DockingConfig) GetMaxMissedCycles() int {
	if c.MaxMissedCycles == nil {
		return 1000
	}
	return *c.MaxMissedCycles
}

// GetArmDwell parses and returns ArmDwell as a time.Duration.
func (c *DockingConfig) GetArmDwell() time.Duration {
	return parseDurationOr(c.ArmDwell, 3*time.Second)
}

// GetSettleDwell parses and returns SettleDwell as a time.Duration.
func (c *DockingConfig) GetSettleDwell() time.Duration {
	return parseDurationOr(c.SettleDwell, time.Second)
}

// GetReverseDuration parses and returns ReverseDuration as a time.Duration.
func (c *DockingConfig) GetReverseDuration() time.Duration {
	return parseDurationOr(c.ReverseDuration, 5*time.Second)
}

// GetFrameTimeout parses and returns FrameTimeout as a time.Duration.
func (c *DockingConfig) GetFrameTimeout() time.Duration {
	return parseDurationOr(c.FrameTimeout, 2*time.Second)
}

// GetMarkerUDPAddr returns the marker_udp_addr value or the default.
func (c *DockingConfig) GetMarkerUDPAddr() string {
	if c.MarkerUDPAddr == nil || *c.MarkerUDPAddr == "" {
		return ":5600"
	}
	return *c.MarkerUDPAddr
}

// GetSerialPort returns the serial_port value or the default.
func (c *DockingConfig) GetSerialPort() string {
	if c.SerialPort == nil || *c.SerialPort == "" {
		return "/dev/ttyUSB0"
	}
	return *c.SerialPort
}

// GetSerialBaudRate returns the serial_baud_rate value or the default.
func (c *DockingConfig) GetSerialBaudRate() int {
	if c.SerialBaudRate == nil || *c.SerialBaudRate <= 0 {
		return 115200
	}
	return *c.SerialBaudRate
}
