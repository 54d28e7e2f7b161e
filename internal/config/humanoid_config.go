// File: internal/config/humanoid_config.go
// HumanoidConfig holds the pacing parameters of the desktop input model:
// how long a click is held, how the pointer travels between targets and how
// fast text is typed.
package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/humanrelay/internal/humanoid"
)

// HumanoidConfig shapes click, movement and typing pacing.
type HumanoidConfig struct {
	ClickHoldMinMs int           `mapstructure:"click_hold_min_ms" yaml:"click_hold_min_ms"`
	ClickHoldMaxMs int           `mapstructure:"click_hold_max_ms" yaml:"click_hold_max_ms"`
	MoveStepPixels float64       `mapstructure:"move_step_pixels" yaml:"move_step_pixels"`
	MoveMaxSteps   int           `mapstructure:"move_max_steps" yaml:"move_max_steps"`
	MoveStepDelay  time.Duration `mapstructure:"move_step_delay" yaml:"move_step_delay"`
}

func setHumanoidDefaults(v *viper.Viper) {
	def := humanoid.DefaultConfig()
	v.SetDefault("desktop.humanoid.click_hold_min_ms", def.ClickHoldMin.Milliseconds())
	v.SetDefault("desktop.humanoid.click_hold_max_ms", def.ClickHoldMax.Milliseconds())
	v.SetDefault("desktop.humanoid.move_step_pixels", def.MoveStepPixels)
	v.SetDefault("desktop.humanoid.move_max_steps", def.MoveMaxSteps)
	v.SetDefault("desktop.humanoid.move_step_delay", def.MoveStepDelay.String())
}

// HumanoidSettings converts the pacing section. The key delay comes from
// delays.key.
func (c *Config) HumanoidSettings() humanoid.Config {
	h := c.Desktop.Humanoid
	return humanoid.Config{
		ClickHoldMin:   time.Duration(h.ClickHoldMinMs) * time.Millisecond,
		ClickHoldMax:   time.Duration(h.ClickHoldMaxMs) * time.Millisecond,
		KeyDelay:       c.Delays.Key,
		MoveStepPixels: h.MoveStepPixels,
		MoveMaxSteps:   h.MoveMaxSteps,
		MoveStepDelay:  h.MoveStepDelay,
	}
}
