// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"image/color"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/humanrelay/internal/browser"
	"github.com/xkilldash9x/humanrelay/internal/detection"
	"github.com/xkilldash9x/humanrelay/internal/hotkey"
	"github.com/xkilldash9x/humanrelay/internal/workflow"
)

// Config holds the entire application configuration.
type Config struct {
	Logger        LoggerConfig            `mapstructure:"logger" yaml:"logger"`
	Confidence    float64                 `mapstructure:"confidence" yaml:"confidence"`
	Detection     DetectionConfig         `mapstructure:"detection" yaml:"detection"`
	Timeouts      TimeoutsConfig          `mapstructure:"timeouts" yaml:"timeouts"`
	Delays        DelaysConfig            `mapstructure:"delays" yaml:"delays"`
	WindowTitles  WindowTitlesConfig      `mapstructure:"window_titles" yaml:"window_titles"`
	OCR           OCRConfig               `mapstructure:"ocr" yaml:"ocr"`
	Targets       map[string]TargetConfig `mapstructure:"targets" yaml:"targets"`
	Retries       RetriesConfig           `mapstructure:"retries" yaml:"retries"`
	Browser       BrowserConfig           `mapstructure:"browser_automation" yaml:"browser_automation"`
	Notifications NotificationsConfig     `mapstructure:"notifications" yaml:"notifications"`
	Hotkey        HotkeyConfig            `mapstructure:"hotkey" yaml:"hotkey"`
	Metrics       MetricsConfig           `mapstructure:"metrics" yaml:"metrics"`
	Desktop       DesktopConfig           `mapstructure:"desktop" yaml:"desktop"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	// LogDir receives one JSON log file per run. Empty disables file logging.
	LogDir     string      `mapstructure:"log_dir" yaml:"log_dir"`
	MaxSize    int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int         `mapstructure:"max_age" yaml:"max_age"`
	Compress   bool        `mapstructure:"compress" yaml:"compress"`
	Colors     ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

type DetectionConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

type TimeoutsConfig struct {
	Detection time.Duration `mapstructure:"detection" yaml:"detection"`
	Response  time.Duration `mapstructure:"response" yaml:"response"`
	Action    time.Duration `mapstructure:"action" yaml:"action"`
}

type DelaysConfig struct {
	Operation time.Duration `mapstructure:"operation" yaml:"operation"`
	Iteration time.Duration `mapstructure:"iteration" yaml:"iteration"`
	Key       time.Duration `mapstructure:"key" yaml:"key"`
}

type WindowTitlesConfig struct {
	Editor string `mapstructure:"editor" yaml:"editor"`
	Chat   string `mapstructure:"chat" yaml:"chat"`
}

type OCRConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Language string `mapstructure:"language" yaml:"language"`
	Command  string `mapstructure:"command" yaml:"command"`
}

// TargetConfig describes one target as written in the config file.
type TargetConfig struct {
	Template  string        `mapstructure:"template" yaml:"template"`
	Text      string        `mapstructure:"text" yaml:"text"`
	Language  string        `mapstructure:"language" yaml:"language"`
	Region    []int         `mapstructure:"region" yaml:"region"`
	Threshold float64       `mapstructure:"threshold" yaml:"threshold"`
	Pixels    []PixelConfig `mapstructure:"pixels" yaml:"pixels"`
}

// PixelConfig is either a point probe (x, y) or a region probe.
type PixelConfig struct {
	X         *int  `mapstructure:"x" yaml:"x"`
	Y         *int  `mapstructure:"y" yaml:"y"`
	Region    []int `mapstructure:"region" yaml:"region"`
	Color     []int `mapstructure:"color" yaml:"color"`
	Tolerance int   `mapstructure:"tolerance" yaml:"tolerance"`
}

type RetriesConfig struct {
	MaxRetriesPerIteration int     `mapstructure:"max_retries_per_iteration" yaml:"max_retries_per_iteration"`
	BackoffBaseSeconds     float64 `mapstructure:"backoff_base_seconds" yaml:"backoff_base_seconds"`
	MaxBackoffSeconds      float64 `mapstructure:"max_backoff_seconds" yaml:"max_backoff_seconds"`
}

// BrowserConfig configures the optional browser path for the chat side.
type BrowserConfig struct {
	Enabled   bool            `mapstructure:"enabled" yaml:"enabled"`
	Backend   string          `mapstructure:"backend" yaml:"backend"`
	URL       string          `mapstructure:"url" yaml:"url"`
	Headless  bool            `mapstructure:"headless" yaml:"headless"`
	ExecPath  string          `mapstructure:"exec_path" yaml:"exec_path"`
	Selectors SelectorsConfig `mapstructure:"selectors" yaml:"selectors"`
}

type SelectorsConfig struct {
	Textarea      string `mapstructure:"textarea" yaml:"textarea"`
	RunButtonText string `mapstructure:"run_button_text" yaml:"run_button_text"`
	Response      string `mapstructure:"response" yaml:"response"`
}

type NotificationsConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	MinInterval time.Duration `mapstructure:"min_interval" yaml:"min_interval"`
}

type HotkeyConfig struct {
	Stdin bool   `mapstructure:"stdin" yaml:"stdin"`
	Key   string `mapstructure:"key" yaml:"key"`
	// Global is a system-wide chord such as "ctrl+alt+p". Empty disables it.
	Global   string        `mapstructure:"global" yaml:"global"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
	PIDFile  string        `mapstructure:"pid_file" yaml:"pid_file"`
}

type MetricsConfig struct {
	// ListenAddr serves /metrics when non-empty, e.g. "127.0.0.1:9464".
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

type DesktopConfig struct {
	PasteKeys     []string       `mapstructure:"paste_keys" yaml:"paste_keys"`
	SelectAllKeys []string       `mapstructure:"select_all_keys" yaml:"select_all_keys"`
	Humanoid      HumanoidConfig `mapstructure:"humanoid" yaml:"humanoid"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
// Targets have no defaults; they depend on the user's screen.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "humanrelay")
	v.SetDefault("logger.log_dir", "logs")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", false)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Detection --
	v.SetDefault("confidence", detection.DefaultThreshold)
	v.SetDefault("detection.poll_interval", "500ms")
	v.SetDefault("timeouts.detection", "120s")
	v.SetDefault("timeouts.response", "300s")
	v.SetDefault("timeouts.action", "10s")
	v.SetDefault("delays.operation", "1s")
	v.SetDefault("delays.iteration", "1s")
	v.SetDefault("delays.key", "20ms")
	v.SetDefault("window_titles.editor", "Visual Studio Code")
	v.SetDefault("window_titles.chat", "Google AI Studio")
	v.SetDefault("ocr.enabled", true)
	v.SetDefault("ocr.language", "eng")
	v.SetDefault("ocr.command", "tesseract")

	// -- Retries --
	v.SetDefault("retries.max_retries_per_iteration", 5)
	v.SetDefault("retries.backoff_base_seconds", 2)
	v.SetDefault("retries.max_backoff_seconds", 30)

	// -- Browser --
	v.SetDefault("browser_automation.enabled", false)
	v.SetDefault("browser_automation.backend", browser.BackendChromedp)
	v.SetDefault("browser_automation.url", "https://aistudio.google.com/prompts/new_chat")
	v.SetDefault("browser_automation.headless", false)
	v.SetDefault("browser_automation.exec_path", "")
	def := browser.DefaultSelectors()
	v.SetDefault("browser_automation.selectors.textarea", def.Textarea)
	v.SetDefault("browser_automation.selectors.run_button_text", def.RunButtonText)
	v.SetDefault("browser_automation.selectors.response", def.Response)

	// -- Process control --
	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.min_interval", "2s")
	v.SetDefault("hotkey.stdin", true)
	v.SetDefault("hotkey.key", "p")
	v.SetDefault("hotkey.global", hotkey.DefaultGlobalCombo)
	v.SetDefault("hotkey.debounce", "1s")
	v.SetDefault("hotkey.pid_file", "humanrelay.pid")
	v.SetDefault("metrics.listen_addr", "")

	// -- Desktop --
	v.SetDefault("desktop.paste_keys", []string{"ctrl", "v"})
	v.SetDefault("desktop.select_all_keys", []string{"ctrl", "a"})
	setHumanoidDefaults(v)
}

// Unmarshal decodes the configuration without validating it. Commands that
// only need a few keys (toggle, focus) use it directly.
func Unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config

	v.SetEnvPrefix("HUMANRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// NewConfigFromViper creates a new, validated configuration instance from a
// viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	cfg, err := Unmarshal(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// -- Validation --

// Fault reports an invalid configuration value.
type Fault struct {
	Field string
	Msg   string
}

func (f *Fault) Error() string { return f.Field + ": " + f.Msg }

// IsFault reports whether err carries a *Fault.
func IsFault(err error) bool {
	var f *Fault
	return errors.As(err, &f)
}

func fault(field, format string, args ...any) *Fault {
	return &Fault{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Validate checks the configuration for required fields and sane values.
// The first problem found is returned as a *Fault.
func (c *Config) Validate() error {
	if c.Confidence <= 0 || c.Confidence > 1 {
		return fault("confidence", "must be greater than 0.0 and at most 1.0")
	}
	if c.Timeouts.Detection <= 0 {
		return fault("timeouts.detection", "must be a positive duration")
	}
	if c.Timeouts.Response <= 0 {
		return fault("timeouts.response", "must be a positive duration")
	}
	if c.Timeouts.Action <= 0 {
		return fault("timeouts.action", "must be a positive duration")
	}
	if c.Detection.PollInterval <= 0 {
		return fault("detection.poll_interval", "must be a positive duration")
	}
	if c.WindowTitles.Editor == "" || c.WindowTitles.Chat == "" {
		return fault("window_titles", "editor and chat titles are required")
	}
	if err := c.Retries.Validate(); err != nil {
		return err
	}
	if c.Hotkey.Global != "" {
		if _, err := hotkey.ParseCombo(c.Hotkey.Global); err != nil {
			return fault("hotkey.global", "%v", err)
		}
	}
	if c.Browser.Enabled {
		switch c.Browser.Backend {
		case browser.BackendChromedp, browser.BackendPlaywright:
		default:
			return fault("browser_automation.backend", "unknown backend %q", c.Browser.Backend)
		}
		if c.Browser.URL == "" {
			return fault("browser_automation.url", "is required when browser automation is enabled")
		}
	}
	for _, name := range workflow.RequiredTargets {
		if _, ok := c.Targets[name]; !ok {
			return fault("targets."+name, "is required")
		}
	}
	for _, name := range sortedKeys(c.Targets) {
		tc := c.Targets[name]
		if err := tc.Validate("targets." + name); err != nil {
			return err
		}
		// Text is dropped when OCR is off; the target must still be detectable.
		if !c.OCR.Enabled && tc.Template == "" && len(tc.Pixels) == 0 {
			return fault("targets."+name, "needs a template or pixels when OCR is disabled")
		}
	}
	return nil
}

// Validate checks the retry section.
func (r RetriesConfig) Validate() error {
	if r.MaxRetriesPerIteration < 0 {
		return fault("retries.max_retries_per_iteration", "cannot be negative")
	}
	if r.BackoffBaseSeconds < 0 || r.MaxBackoffSeconds < 0 {
		return fault("retries", "backoff durations cannot be negative")
	}
	if r.BackoffBaseSeconds > r.MaxBackoffSeconds {
		return fault("retries.backoff_base_seconds", "must not exceed max_backoff_seconds")
	}
	return nil
}

// Validate checks one target. field is its config path.
func (t TargetConfig) Validate(field string) error {
	if t.Template == "" && t.Text == "" && len(t.Pixels) == 0 {
		return fault(field, "needs at least one of template, text or pixels")
	}
	if t.Threshold < 0 || t.Threshold > 1 {
		return fault(field+".threshold", "must be between 0.0 and 1.0")
	}
	if t.Region != nil {
		if _, err := toRegion(t.Region); err != nil {
			return fault(field+".region", "%v", err)
		}
	}
	for i, p := range t.Pixels {
		if err := p.Validate(fmt.Sprintf("%s.pixels[%d]", field, i)); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks one pixel probe.
func (p PixelConfig) Validate(field string) error {
	hasPoint := p.X != nil || p.Y != nil
	hasRegion := p.Region != nil
	switch {
	case hasPoint && hasRegion:
		return fault(field, "set either x/y or region, not both")
	case !hasPoint && !hasRegion:
		return fault(field, "needs x/y or region")
	case hasPoint && (p.X == nil || p.Y == nil):
		return fault(field, "point probes need both x and y")
	}
	if hasRegion {
		if _, err := toRegion(p.Region); err != nil {
			return fault(field+".region", "%v", err)
		}
	}
	if len(p.Color) != 3 {
		return fault(field+".color", "must have exactly 3 channels")
	}
	for _, ch := range p.Color {
		if ch < 0 || ch > 255 {
			return fault(field+".color", "channels must be in 0..255")
		}
	}
	if p.Tolerance < 0 {
		return fault(field+".tolerance", "cannot be negative")
	}
	return nil
}

// -- Conversions --

// DetectionTargets builds the detection targets. Template paths are
// expanded with the home directory.
func (c *Config) DetectionTargets() (map[string]detection.Target, error) {
	out := make(map[string]detection.Target, len(c.Targets))
	for _, name := range sortedKeys(c.Targets) {
		t, err := c.Target(name)
		if err != nil {
			return nil, err
		}
		out[name] = t
	}
	return out, nil
}

// Target builds a single detection target by name.
func (c *Config) Target(name string) (detection.Target, error) {
	tc, ok := c.Targets[name]
	if !ok {
		return detection.Target{}, fault("targets."+name, "is not configured")
	}
	field := "targets." + name
	t := detection.Target{
		Name:      name,
		Threshold: tc.Threshold,
		Language:  tc.Language,
	}
	if t.Threshold == 0 {
		t.Threshold = c.Confidence
	}
	if tc.Template != "" {
		path, err := homedir.Expand(tc.Template)
		if err != nil {
			return detection.Target{}, fault(field+".template", "%v", err)
		}
		t.TemplatePath = path
	}
	if c.OCR.Enabled {
		t.Text = tc.Text
	}
	if tc.Region != nil {
		r, err := toRegion(tc.Region)
		if err != nil {
			return detection.Target{}, fault(field+".region", "%v", err)
		}
		t.SearchRegion = &r
	}
	for i, pc := range tc.Pixels {
		if err := pc.Validate(fmt.Sprintf("%s.pixels[%d]", field, i)); err != nil {
			return detection.Target{}, err
		}
		probe := detection.PixelProbe{
			Color:     color.RGBA{R: uint8(pc.Color[0]), G: uint8(pc.Color[1]), B: uint8(pc.Color[2]), A: 0xff},
			Tolerance: pc.Tolerance,
		}
		if pc.Region != nil {
			r, _ := toRegion(pc.Region)
			probe.Region = &r
		} else {
			probe.Point = &detection.Point{X: *pc.X, Y: *pc.Y}
		}
		t.Pixels = append(t.Pixels, probe)
	}
	return t, nil
}

// WorkflowSettings builds the relay loop settings, including targets.
func (c *Config) WorkflowSettings() (workflow.Settings, error) {
	targets, err := c.DetectionTargets()
	if err != nil {
		return workflow.Settings{}, err
	}
	s := workflow.DefaultSettings()
	s.EditorWindow = c.WindowTitles.Editor
	s.ChatWindow = c.WindowTitles.Chat
	s.Targets = targets
	s.DetectionTimeout = c.Timeouts.Detection
	s.ResponseTimeout = c.Timeouts.Response
	s.ActionTimeout = c.Timeouts.Action
	s.PollInterval = c.Detection.PollInterval
	s.OperationDelay = c.Delays.Operation
	s.IterationDelay = c.Delays.Iteration
	if len(c.Desktop.PasteKeys) > 0 {
		s.PasteKeys = c.Desktop.PasteKeys
	}
	if len(c.Desktop.SelectAllKeys) > 0 {
		s.SelectAllKeys = c.Desktop.SelectAllKeys
	}
	s.Policy = c.Retries.Policy()
	return s, nil
}

// Policy converts the retry section.
func (r RetriesConfig) Policy() workflow.RetryPolicy {
	return workflow.RetryPolicy{
		MaxRetries:  r.MaxRetriesPerIteration,
		BackoffBase: seconds(r.BackoffBaseSeconds),
		MaxBackoff:  seconds(r.MaxBackoffSeconds),
	}
}

// AdapterConfig converts the browser section.
func (c *Config) AdapterConfig() browser.Config {
	return browser.Config{
		Backend:  c.Browser.Backend,
		URL:      c.Browser.URL,
		Headless: c.Browser.Headless,
		ExecPath: c.Browser.ExecPath,
		Selectors: browser.Selectors{
			Textarea:      c.Browser.Selectors.Textarea,
			RunButtonText: c.Browser.Selectors.RunButtonText,
			Response:      c.Browser.Selectors.Response,
		},
		ResponseTimeout: c.Timeouts.Response,
	}
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

// toRegion converts [left, top, width, height].
func toRegion(v []int) (detection.Region, error) {
	if len(v) != 4 {
		return detection.Region{}, fmt.Errorf("must be [left, top, width, height], got %d values", len(v))
	}
	r := detection.Region{Left: v[0], Top: v[1], Width: v[2], Height: v[3]}
	if r.Empty() {
		return detection.Region{}, errors.New("width and height must be positive")
	}
	return r, nil
}

func sortedKeys(m map[string]TargetConfig) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
