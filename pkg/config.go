package decoder

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

type NsamplesPolicy int

const (
	NsamplesStrict NsamplesPolicy = iota
	NsamplesPad
)

var nsamplesPolicyStrings = []string{
	"strict",
	"pad",
}

func (p NsamplesPolicy) String() string {
	if p < NsamplesStrict || p > NsamplesPad {
		return "UNKNOWN"
	}
	return nsamplesPolicyStrings[p]
}

func (p NsamplesPolicy) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON resolves the policy once at load time. Unknown values fall
// back to "strict" with a warning.
func (p *NsamplesPolicy) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	policy, ok := ParseNsamplesPolicy(s)
	if !ok {
		message := fmt.Sprintf("unknown nsamples_policy '%s', defaulting to '%s'", s, policy)
		logger.Warn(message, "config")
	}
	*p = policy
	return nil
}

func ParseNsamplesPolicy(s string) (NsamplesPolicy, bool) {
	lowered := strings.ToLower(strings.TrimSpace(s))
	for i, v := range nsamplesPolicyStrings {
		if v == lowered {
			return NsamplesPolicy(i), true
		}
	}
	return NsamplesStrict, false
}

type EventPolicy int

const (
	EventError EventPolicy = iota
	EventWarn
	EventSkip
)

var eventPolicyStrings = []string{
	"error",
	"warn",
	"skip",
}

func (p EventPolicy) String() string {
	if p < EventError || p > EventSkip {
		return "UNKNOWN"
	}
	return eventPolicyStrings[p]
}

func (p EventPolicy) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON resolves the policy once at load time. Unknown values fall
// back to "error" with a warning.
func (p *EventPolicy) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	policy, ok := ParseEventPolicy(s)
	if !ok {
		message := fmt.Sprintf("unknown event_policy '%s', defaulting to '%s'", s, policy)
		logger.Warn(message, "config")
	}
	*p = policy
	return nil
}

func ParseEventPolicy(s string) (EventPolicy, bool) {
	lowered := strings.ToLower(strings.TrimSpace(s))
	for i, v := range eventPolicyStrings {
		if v == lowered {
			return EventPolicy(i), true
		}
	}
	return EventError, false
}

// SensorMapping places each channel on a sensor. Strip ids are the column
// index on the sensor.
type SensorMapping struct {
	SensorIDs []int `json:"sensor_ids"`
	StripIDs  []int `json:"strip_ids"`
	ColumnIDs []int `json:"column_ids"`
}

type AnalysisConfig struct {
	// Per-channel regions in ns
	AnalysisRegionMin []float32 `json:"analysis_region_min"`
	AnalysisRegionMax []float32 `json:"analysis_region_max"`
	BaselineRegionMin []float32 `json:"baseline_region_min"`
	BaselineRegionMax []float32 `json:"baseline_region_max"`
	SignalRegionMin   []float32 `json:"signal_region_min"`
	SignalRegionMax   []float32 `json:"signal_region_max"`
	ChargeRegionMin   []float32 `json:"charge_region_min"`
	ChargeRegionMax   []float32 `json:"charge_region_max"`

	SignalPolarity []int     `json:"signal_polarity"`
	CutAmpMax      []float32 `json:"cut_amp_max"`

	SNRThreshold float32 `json:"snr_threshold"`
	Impedance    float32 `json:"impedance"`

	// Percent of the event's own peak amplitude
	CFDThresholds []int `json:"cfd_thresholds"`
	// Absolute thresholds in mV
	LEThresholds []float32 `json:"le_thresholds"`
	// Percent of the integrated charge, ascending
	ChargeThresholds []int `json:"charge_thresholds"`

	RiseTimeLow  float32 `json:"rise_time_low"`
	RiseTimeHigh float32 `json:"rise_time_high"`

	SensorMapping SensorMapping `json:"sensor_mapping"`
}

const (
	defaultAnalysisRegionMin float32 = -100
	defaultAnalysisRegionMax float32 = 300
	defaultBaselineRegionMin float32 = -50
	defaultBaselineRegionMax float32 = -10
	defaultSignalRegionMin   float32 = 0
	defaultSignalRegionMax   float32 = 200
	defaultChargeRegionMin   float32 = 0
	defaultChargeRegionMax   float32 = 200
	defaultCutAmpMax         float32 = 1
	defaultPolarity                  = 1
)

func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		SNRThreshold:     3,
		Impedance:        50,
		CFDThresholds:    []int{10, 20, 30, 50},
		LEThresholds:     []float32{10, 20, 50},
		ChargeThresholds: []int{10, 20, 50},
		RiseTimeLow:      0.1,
		RiseTimeHigh:     0.9,
	}
}

func fillFloats(values []float32, n int, def float32) []float32 {
	for len(values) < n {
		values = append(values, def)
	}
	return values
}

func fillInts(values []int, n int, def func(ch int) int) []int {
	for len(values) < n {
		values = append(values, def(len(values)))
	}
	return values
}

// Normalize grows every per-channel array to nChannels using the
// channel-independent defaults and checks the global values.
func (a *AnalysisConfig) Normalize(nChannels int) error {
	a.AnalysisRegionMin = fillFloats(a.AnalysisRegionMin, nChannels, defaultAnalysisRegionMin)
	a.AnalysisRegionMax = fillFloats(a.AnalysisRegionMax, nChannels, defaultAnalysisRegionMax)
	a.BaselineRegionMin = fillFloats(a.BaselineRegionMin, nChannels, defaultBaselineRegionMin)
	a.BaselineRegionMax = fillFloats(a.BaselineRegionMax, nChannels, defaultBaselineRegionMax)
	a.SignalRegionMin = fillFloats(a.SignalRegionMin, nChannels, defaultSignalRegionMin)
	a.SignalRegionMax = fillFloats(a.SignalRegionMax, nChannels, defaultSignalRegionMax)
	a.ChargeRegionMin = fillFloats(a.ChargeRegionMin, nChannels, defaultChargeRegionMin)
	a.ChargeRegionMax = fillFloats(a.ChargeRegionMax, nChannels, defaultChargeRegionMax)
	a.CutAmpMax = fillFloats(a.CutAmpMax, nChannels, defaultCutAmpMax)
	a.SignalPolarity = fillInts(a.SignalPolarity, nChannels, func(int) int { return defaultPolarity })

	for ch, p := range a.SignalPolarity {
		if p != 1 && p != -1 {
			message := fmt.Sprintf("invalid signal_polarity %d for ch%d, using +1", p, ch)
			logger.Warn(message, "config")
			a.SignalPolarity[ch] = 1
		}
	}

	if !sort.IntsAreSorted(a.ChargeThresholds) {
		logger.Warn("charge_thresholds not ascending, sorting them", "config")
		sort.Ints(a.ChargeThresholds)
	}

	m := &a.SensorMapping
	if len(m.SensorIDs) < nChannels {
		// Two 8-strip sensors unless told otherwise
		m.SensorIDs = fillInts(m.SensorIDs, nChannels, func(ch int) int {
			if ch < 8 {
				return 1
			}
			return 2
		})
	}
	m.StripIDs = fillInts(m.StripIDs, nChannels, func(ch int) int { return ch % 8 })
	m.ColumnIDs = fillInts(m.ColumnIDs, nChannels, func(int) int { return 0 })

	var errs []error
	if a.Impedance <= 0 {
		errs = append(errs, fmt.Errorf("impedance must be positive, got %g", a.Impedance))
	}
	if a.RiseTimeLow <= 0 || a.RiseTimeHigh > 1 || a.RiseTimeLow >= a.RiseTimeHigh {
		errs = append(errs, fmt.Errorf("rise time fractions must satisfy 0 < low < high <= 1, got %g/%g",
			a.RiseTimeLow, a.RiseTimeHigh))
	}
	return errors.Join(errs...)
}

// ChannelAnalysis is the view of AnalysisConfig for one channel.
type ChannelAnalysis struct {
	AnalysisMin, AnalysisMax float32
	BaselineMin, BaselineMax float32
	SignalMin, SignalMax     float32
	ChargeMin, ChargeMax     float32
	Polarity                 float32
	AmpCut                   float32

	SNRThreshold     float32
	Impedance        float32
	CFDThresholds    []int
	LEThresholds     []float32
	ChargeThresholds []int
	RiseTimeLow      float32
	RiseTimeHigh     float32
}

func (a *AnalysisConfig) Channel(ch int) ChannelAnalysis {
	return ChannelAnalysis{
		AnalysisMin:      a.AnalysisRegionMin[ch],
		AnalysisMax:      a.AnalysisRegionMax[ch],
		BaselineMin:      a.BaselineRegionMin[ch],
		BaselineMax:      a.BaselineRegionMax[ch],
		SignalMin:        a.SignalRegionMin[ch],
		SignalMax:        a.SignalRegionMax[ch],
		ChargeMin:        a.ChargeRegionMin[ch],
		ChargeMax:        a.ChargeRegionMax[ch],
		Polarity:         float32(a.SignalPolarity[ch]),
		AmpCut:           a.CutAmpMax[ch],
		SNRThreshold:     a.SNRThreshold,
		Impedance:        a.Impedance,
		CFDThresholds:    a.CFDThresholds,
		LEThresholds:     a.LEThresholds,
		ChargeThresholds: a.ChargeThresholds,
		RiseTimeLow:      a.RiseTimeLow,
		RiseTimeHigh:     a.RiseTimeHigh,
	}
}

type Configuration struct {
	RunNumber int `json:"run_number"`
	NChannels int `json:"n_channels"`
	Verbosity int `json:"verbosity"`

	InputDir              string `json:"input_dir"`
	InputPattern          string `json:"input_pattern"`
	InputIsASCII          bool   `json:"input_is_ascii"`
	SpecialChannelFile    string `json:"special_channel_file"`
	EnableSpecialOverride bool   `json:"enable_special_override"`
	SpecialChannelIndex   int    `json:"special_channel_index"`

	TSampleNs      float64 `json:"tsample_ns"`
	PedestalWindow int     `json:"pedestal_window"`
	PedTarget      float64 `json:"ped_target"`

	NsamplesPolicy NsamplesPolicy `json:"nsamples_policy"`
	EventPolicy    EventPolicy    `json:"event_policy"`
	WarnLimit      int            `json:"warn_limit"`

	ChunkSize  int `json:"chunk_size"`
	MaxWorkers int `json:"max_workers"`
	MaxEvents  int `json:"max_events"`
	Skip       int `json:"skip"`

	FileOut          string `json:"file_out"`
	WriteRaw         bool   `json:"write_raw"`
	CompressionLevel int    `json:"compression_level"`

	UseDB  bool   `json:"use_db"`
	Host   string `json:"host"`
	User   string `json:"user"`
	Passwd string `json:"pass"`
	DBName string `json:"dbname"`

	Analysis AnalysisConfig `json:"analysis"`
}

func DefaultConfiguration() Configuration {
	return Configuration{
		RunNumber:             1,
		NChannels:             16,
		InputDir:              ".",
		InputPattern:          "wave_%d.dat",
		SpecialChannelFile:    "TR_0_0.dat",
		EnableSpecialOverride: true,
		SpecialChannelIndex:   3,
		TSampleNs:             0.2,
		PedestalWindow:        100,
		PedTarget:             3500,
		NsamplesPolicy:        NsamplesStrict,
		EventPolicy:           EventError,
		WarnLimit:             20,
		ChunkSize:             100,
		MaxWorkers:            8,
		MaxEvents:             -1,
		FileOut:               "waveforms.h5",
		WriteRaw:              true,
		CompressionLevel:      4,
		Host:                  "localhost",
		User:                  "reader",
		DBName:                "DIGITIZER",
		Analysis:              DefaultAnalysisConfig(),
	}
}

func LoadConfiguration(filename string) (Configuration, error) {
	config := DefaultConfiguration()

	data, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = json.Unmarshal(data, &config)
	if err != nil {
		return config, err
	}
	if err := config.Normalize(); err != nil {
		return config, fmt.Errorf("invalid configuration %s: %w", filename, err)
	}
	return config, nil
}

// Normalize validates the run-level values and fills the analysis arrays.
func (c *Configuration) Normalize() error {
	var errs []error
	if c.NChannels <= 0 {
		errs = append(errs, fmt.Errorf("n_channels must be positive, got %d", c.NChannels))
	}
	if c.TSampleNs <= 0 {
		errs = append(errs, fmt.Errorf("tsample_ns must be positive, got %g", c.TSampleNs))
	}
	if c.PedestalWindow < 1 {
		c.PedestalWindow = 1
	}
	if c.ChunkSize < 1 {
		errs = append(errs, fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize))
	}
	if c.MaxWorkers < 1 {
		c.MaxWorkers = 1
	}
	if c.WarnLimit < 0 {
		c.WarnLimit = 0
	}
	if c.Skip < 0 {
		c.Skip = 0
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return c.Analysis.Normalize(c.NChannels)
}

// SpecialChannel returns the channel index allowed to read an override file
// and to report a foreign channel id, or -1.
func (c *Configuration) SpecialChannel() int {
	if !c.EnableSpecialOverride || c.SpecialChannelFile == "" {
		return -1
	}
	if c.SpecialChannelIndex < 0 || c.SpecialChannelIndex >= c.NChannels {
		return -1
	}
	return c.SpecialChannelIndex
}

func PrintConfiguration(config Configuration, logger Logger) {
	logger.Info(fmt.Sprintf("Run number: %d", config.RunNumber), "config")
	logger.Info(fmt.Sprintf("Channels: %d", config.NChannels), "config")
	logger.Info(fmt.Sprintf("Input dir: %s", config.InputDir), "config")
	logger.Info(fmt.Sprintf("Input pattern: %s", config.InputPattern), "config")
	logger.Info(fmt.Sprintf("ASCII input: %t", config.InputIsASCII), "config")
	logger.Info(fmt.Sprintf("Special channel: %d (%s, enabled %t)",
		config.SpecialChannelIndex, config.SpecialChannelFile, config.EnableSpecialOverride), "config")
	logger.Info(fmt.Sprintf("Sampling: %g ns", config.TSampleNs), "config")
	logger.Info(fmt.Sprintf("Pedestal window: %d, target: %g", config.PedestalWindow, config.PedTarget), "config")
	logger.Info(fmt.Sprintf("nsamples policy: %s", config.NsamplesPolicy), "config")
	logger.Info(fmt.Sprintf("Event policy: %s", config.EventPolicy), "config")
	logger.Info(fmt.Sprintf("Warn limit: %d", config.WarnLimit), "config")
	logger.Info(fmt.Sprintf("Chunk size: %d", config.ChunkSize), "config")
	logger.Info(fmt.Sprintf("Max workers: %d", config.MaxWorkers), "config")
	logger.Info(fmt.Sprintf("Skip: %d", config.Skip), "config")
	logger.Info(fmt.Sprintf("Max events: %d", config.MaxEvents), "config")
	logger.Info(fmt.Sprintf("File out: %s", config.FileOut), "config")
	logger.Info(fmt.Sprintf("Write raw: %t", config.WriteRaw), "config")
	logger.Info(fmt.Sprintf("Compression level: %d", config.CompressionLevel), "config")
	logger.Info(fmt.Sprintf("Use DB: %t", config.UseDB), "config")
	logger.Info(fmt.Sprintf("Host: %s", config.Host), "config")
	logger.Info(fmt.Sprintf("DB name: %s", config.DBName), "config")
	logger.Info(fmt.Sprintf("Verbosity: %d", config.Verbosity), "config")

	a := config.Analysis
	logger.Info(fmt.Sprintf("CFD thresholds: %v %%", a.CFDThresholds), "config")
	logger.Info(fmt.Sprintf("LE thresholds: %v mV", a.LEThresholds), "config")
	logger.Info(fmt.Sprintf("Charge thresholds: %v %%", a.ChargeThresholds), "config")
	logger.Info(fmt.Sprintf("Rise time: %g-%g", a.RiseTimeLow, a.RiseTimeHigh), "config")
	logger.Info(fmt.Sprintf("SNR threshold: %g, impedance: %g", a.SNRThreshold, a.Impedance), "config")
	for ch := 0; ch < config.NChannels; ch++ {
		c := a.Channel(ch)
		message := fmt.Sprintf("ch%d: polarity %+g, cut %g, baseline [%g, %g], signal [%g, %g], charge [%g, %g]",
			ch, c.Polarity, c.AmpCut, c.BaselineMin, c.BaselineMax, c.SignalMin, c.SignalMax, c.ChargeMin, c.ChargeMax)
		logger.Info(message, "config")
	}
}
