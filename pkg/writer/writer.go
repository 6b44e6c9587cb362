package writer

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	decoder "github.com/next-exp/waveconverter_go/pkg"
	"gonum.org/v1/hdf5"
)

// Writer stores processed events in an HDF5 file. Array datasets are sized
// from the first event; later events are padded or cut to that length.
type Writer struct {
	File          *hdf5.File
	Filename      string
	FirstEvt      bool
	RunGroup      *hdf5.Group
	RDGroup       *hdf5.Group
	FeaturesGroup *hdf5.Group
	SensorsGroup  *hdf5.Group

	EventTable      *hdf5.Dataset
	RunInfoTable    *hdf5.Dataset
	ThresholdsTable *hdf5.Dataset
	MappingTable    *hdf5.Dataset
	FeaturesTable   *hdf5.Dataset

	TimeAxis       *hdf5.Dataset
	Corrected      *hdf5.Dataset
	Raw            *hdf5.Dataset
	Pedestals      *hdf5.Dataset
	SampleCounts   *hdf5.Dataset
	ChannelIDs     *hdf5.Dataset
	EventCounters  *hdf5.Dataset
	TimeCFD        *hdf5.Dataset
	JitterCFD      *hdf5.Dataset
	TimeLE         *hdf5.Dataset
	JitterLE       *hdf5.Dataset
	TotLE          *hdf5.Dataset
	TimeCharge     *hdf5.Dataset
	EvtCounter     int
	FeatureRows    int
	RunID          uuid.UUID
	config         decoder.Configuration
	nChannels      int
	nSamples       int
	loggedResample bool

	// Events whose waveforms did not match the stored width
	CutEvents    int
	PaddedEvents int
}

func NewWriter(filename string, config decoder.Configuration) (*Writer, error) {
	writer := &Writer{
		Filename:  filename,
		config:    config,
		nChannels: config.NChannels,
		RunID:     uuid.New(),
	}
	logger.Info(fmt.Sprintf("Creating file %s (run id %s)", filename, writer.RunID), "writer")

	file, err := hdf5.CreateFile(filename, hdf5.F_ACC_TRUNC)
	if err != nil {
		return nil, &decoder.ErrOpenFile{Filename: filename, Err: err}
	}
	writer.File = file

	groups := []struct {
		name  string
		group **hdf5.Group
	}{
		{"Run", &writer.RunGroup},
		{"RD", &writer.RDGroup},
		{"Features", &writer.FeaturesGroup},
		{"Sensors", &writer.SensorsGroup},
	}
	for _, g := range groups {
		if *g.group, err = createGroup(writer.File, g.name); err != nil {
			return nil, errors.Join(err, writer.Close())
		}
	}

	level := config.CompressionLevel
	tables := []struct {
		group    *hdf5.Group
		name     string
		datatype interface{}
		dataset  **hdf5.Dataset
	}{
		{writer.RunGroup, "events", EventDataHDF5{}, &writer.EventTable},
		{writer.RunGroup, "runInfo", RunInfoHDF5{}, &writer.RunInfoTable},
		{writer.RunGroup, "thresholds", ParamHDF5{}, &writer.ThresholdsTable},
		{writer.SensorsGroup, "mapping", SensorMappingHDF5{}, &writer.MappingTable},
		{writer.FeaturesGroup, "features", FeaturesHDF5{}, &writer.FeaturesTable},
	}
	for _, t := range tables {
		if *t.dataset, err = createTable(t.group, t.name, t.datatype, level); err != nil {
			return nil, errors.Join(err, writer.Close())
		}
	}

	// Run metadata does not depend on any event, so even an empty run keeps it
	if err := writer.writeRunInfo(); err != nil {
		return nil, errors.Join(err, writer.Close())
	}
	return writer, nil
}

func (w *Writer) createArrays(nSamples int) error {
	level := w.config.CompressionLevel
	analysis := w.config.Analysis
	var err error

	arrays2d := []struct {
		group   *hdf5.Group
		name    string
		dtype   *hdf5.Datatype
		n       int
		dataset **hdf5.Dataset
	}{
		{w.RDGroup, "time", hdf5.T_NATIVE_FLOAT, nSamples, &w.TimeAxis},
		{w.RDGroup, "pedestals", hdf5.T_NATIVE_FLOAT, w.nChannels, &w.Pedestals},
		{w.RDGroup, "nsamples", hdf5.T_NATIVE_INT32, w.nChannels, &w.SampleCounts},
		{w.RDGroup, "channel_ids", hdf5.T_NATIVE_INT32, w.nChannels, &w.ChannelIDs},
		{w.RDGroup, "event_counters", hdf5.T_NATIVE_INT32, w.nChannels, &w.EventCounters},
	}
	for _, a := range arrays2d {
		if *a.dataset, err = create2dArray(a.group, a.name, a.dtype, a.n, level); err != nil {
			return err
		}
	}

	arrays3d := []struct {
		group   *hdf5.Group
		name    string
		n       int
		dataset **hdf5.Dataset
	}{
		{w.RDGroup, "corrected", nSamples, &w.Corrected},
		{w.FeaturesGroup, "time_cfd", len(analysis.CFDThresholds), &w.TimeCFD},
		{w.FeaturesGroup, "jitter_cfd", len(analysis.CFDThresholds), &w.JitterCFD},
		{w.FeaturesGroup, "time_le", len(analysis.LEThresholds), &w.TimeLE},
		{w.FeaturesGroup, "jitter_le", len(analysis.LEThresholds), &w.JitterLE},
		{w.FeaturesGroup, "tot_le", len(analysis.LEThresholds), &w.TotLE},
		{w.FeaturesGroup, "time_charge", len(analysis.ChargeThresholds), &w.TimeCharge},
	}
	if w.config.WriteRaw {
		arrays3d = append(arrays3d, struct {
			group   *hdf5.Group
			name    string
			n       int
			dataset **hdf5.Dataset
		}{w.RDGroup, "raw", nSamples, &w.Raw})
	}
	for _, a := range arrays3d {
		// Datasets need at least one element per dimension
		if a.n == 0 {
			continue
		}
		if *a.dataset, err = create3dArray(a.group, a.name, hdf5.T_NATIVE_FLOAT, w.nChannels, a.n, level); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeRunInfo() error {
	runInfo := RunInfoHDF5{
		run_number: int32(w.config.RunNumber),
		run_id:     convertToHdf5String(w.RunID.String()),
		n_channels: int32(w.nChannels),
		tsample_ns: float32(w.config.TSampleNs),
		ped_target: float32(w.config.PedTarget),
	}
	if err := writeEntryToTable(w.RunInfoTable, runInfo, 0); err != nil {
		return fmt.Errorf("writing run info: %w", err)
	}

	analysis := w.config.Analysis
	params := make([]ParamHDF5, 0)
	for _, v := range analysis.CFDThresholds {
		params = append(params, ParamHDF5{convertToHdf5String("cfd_percent"), float32(v)})
	}
	for _, v := range analysis.LEThresholds {
		params = append(params, ParamHDF5{convertToHdf5String("le_mv"), v})
	}
	for _, v := range analysis.ChargeThresholds {
		params = append(params, ParamHDF5{convertToHdf5String("charge_percent"), float32(v)})
	}
	params = append(params,
		ParamHDF5{convertToHdf5String("rise_time_low"), analysis.RiseTimeLow},
		ParamHDF5{convertToHdf5String("rise_time_high"), analysis.RiseTimeHigh},
		ParamHDF5{convertToHdf5String("snr_threshold"), analysis.SNRThreshold},
		ParamHDF5{convertToHdf5String("impedance"), analysis.Impedance},
	)
	if err := writeArrayToTable(w.ThresholdsTable, &params, 0); err != nil {
		return fmt.Errorf("writing thresholds: %w", err)
	}

	// The array MUST be allocated at creation, if not, HDF5 will panic
	// doing appends will not work
	mapping := make([]SensorMappingHDF5, w.nChannels)
	for ch := range mapping {
		mapping[ch] = SensorMappingHDF5{
			channel:   int32(ch),
			sensor_id: int32(analysis.SensorMapping.SensorIDs[ch]),
			strip_id:  int32(analysis.SensorMapping.StripIDs[ch]),
			column_id: int32(analysis.SensorMapping.ColumnIDs[ch]),
		}
	}
	if err := writeArrayToTable(w.MappingTable, &mapping, 0); err != nil {
		return fmt.Errorf("writing sensor mapping: %w", err)
	}
	return nil
}

// WriteEvent implements decoder.Sink.
func (w *Writer) WriteEvent(event *decoder.ProcessedEvent) error {
	if len(event.Corrected) != w.nChannels {
		return fmt.Errorf("trigger %d has %d channels, file has %d", event.Trigger, len(event.Corrected), w.nChannels)
	}

	if !w.FirstEvt {
		w.nSamples = max(1, event.MaxSamples)
		if err := w.createArrays(w.nSamples); err != nil {
			return err
		}
		w.FirstEvt = true
	}
	w.trackWidth(event)

	header := event.Headers[0]
	evtData := EventDataHDF5{
		evt_number:    event.Trigger,
		event_counter: int32(header.EventCounter),
		board_id:      int32(header.BoardID),
		n_samples:     int32(event.MaxSamples),
	}
	if err := writeEntryToTable(w.EventTable, evtData, w.EvtCounter); err != nil {
		return fmt.Errorf("writing event %d: %w", event.Trigger, err)
	}

	if err := w.writeWaveforms(event); err != nil {
		return fmt.Errorf("writing waveforms of event %d: %w", event.Trigger, err)
	}
	if err := w.writeFeatures(event); err != nil {
		return fmt.Errorf("writing features of event %d: %w", event.Trigger, err)
	}

	w.EvtCounter++
	return nil
}

// trackWidth counts events cut or padded to the stored waveform width. Only
// the first one is logged; Close reports the totals.
func (w *Writer) trackWidth(event *decoder.ProcessedEvent) {
	switch {
	case event.MaxSamples > w.nSamples:
		w.CutEvents++
	case event.MaxSamples < w.nSamples:
		w.PaddedEvents++
	default:
		return
	}
	if !w.loggedResample {
		message := fmt.Sprintf("trigger %d has %d samples, file stores %d per waveform",
			event.Trigger, event.MaxSamples, w.nSamples)
		logger.Warn(message, "writer")
		w.loggedResample = true
	}
}

func (w *Writer) writeWaveforms(event *decoder.ProcessedEvent) error {
	time := fitWaveform(event.TimeAxis, w.nSamples, 0)
	if err := write2dArray(w.TimeAxis, &time, w.EvtCounter, w.nSamples); err != nil {
		return err
	}

	corrected := make([]float32, w.nChannels*w.nSamples)
	pad := float32(w.config.PedTarget)
	for ch, samples := range event.Corrected {
		copy(corrected[ch*w.nSamples:], fitWaveform(samples, w.nSamples, pad))
	}
	if err := write3dArray(w.Corrected, &corrected, w.EvtCounter, w.nChannels, w.nSamples); err != nil {
		return err
	}

	if w.Raw != nil && event.Raw != nil {
		raw := make([]float32, w.nChannels*w.nSamples)
		for ch, samples := range event.Raw {
			copy(raw[ch*w.nSamples:], fitWaveform(samples, w.nSamples, event.Pedestals[ch]))
		}
		if err := write3dArray(w.Raw, &raw, w.EvtCounter, w.nChannels, w.nSamples); err != nil {
			return err
		}
	}

	pedestals := append([]float32{}, event.Pedestals...)
	if err := write2dArray(w.Pedestals, &pedestals, w.EvtCounter, w.nChannels); err != nil {
		return err
	}

	counts := append([]int32{}, event.RawSampleCount...)
	channelIDs := make([]int32, w.nChannels)
	counters := make([]int32, w.nChannels)
	for ch, h := range event.Headers {
		channelIDs[ch] = int32(h.ChannelID)
		counters[ch] = int32(h.EventCounter)
	}
	if err := write2dArray(w.SampleCounts, &counts, w.EvtCounter, w.nChannels); err != nil {
		return err
	}
	if err := write2dArray(w.ChannelIDs, &channelIDs, w.EvtCounter, w.nChannels); err != nil {
		return err
	}
	return write2dArray(w.EventCounters, &counters, w.EvtCounter, w.nChannels)
}

func (w *Writer) writeFeatures(event *decoder.ProcessedEvent) error {
	rows := make([]FeaturesHDF5, w.nChannels)
	for ch, f := range event.Features {
		var hasSignal int8
		if f.HasSignal {
			hasSignal = 1
		}
		rows[ch] = FeaturesHDF5{
			evt_number:        event.Trigger,
			channel:           int32(ch),
			has_signal:        hasSignal,
			baseline:          f.Baseline,
			rms_noise:         f.RmsNoise,
			noise1_point:      f.Noise1Point,
			amp_min_before:    f.AmpMinBefore,
			amp_max_before:    f.AmpMaxBefore,
			amp_max:           f.AmpMax,
			peak_time:         f.PeakTime,
			charge:            f.Charge,
			signal_over_noise: f.SignalOverNoise,
			rise_time:         f.RiseTime,
			slew_rate:         f.SlewRate,
		}
	}
	if err := writeArrayToTable(w.FeaturesTable, &rows, w.FeatureRows); err != nil {
		return err
	}
	w.FeatureRows += len(rows)

	vectors := []struct {
		dataset *hdf5.Dataset
		values  func(f decoder.WaveformFeatures) []float32
	}{
		{w.TimeCFD, func(f decoder.WaveformFeatures) []float32 { return f.TimeCFD }},
		{w.JitterCFD, func(f decoder.WaveformFeatures) []float32 { return f.JitterCFD }},
		{w.TimeLE, func(f decoder.WaveformFeatures) []float32 { return f.TimeLE }},
		{w.JitterLE, func(f decoder.WaveformFeatures) []float32 { return f.JitterLE }},
		{w.TotLE, func(f decoder.WaveformFeatures) []float32 { return f.TotLE }},
		{w.TimeCharge, func(f decoder.WaveformFeatures) []float32 { return f.TimeCharge }},
	}
	for _, v := range vectors {
		if v.dataset == nil {
			continue
		}
		n := len(v.values(event.Features[0]))
		data := make([]float32, w.nChannels*n)
		for ch, f := range event.Features {
			copy(data[ch*n:(ch+1)*n], v.values(f))
		}
		if err := write3dArray(v.dataset, &data, w.EvtCounter, w.nChannels, n); err != nil {
			return err
		}
	}
	return nil
}

// fitWaveform returns samples cut or padded with pad to length n.
func fitWaveform(samples []float32, n int, pad float32) []float32 {
	out := make([]float32, n)
	copied := copy(out, samples)
	for i := copied; i < n; i++ {
		out[i] = pad
	}
	return out
}

func closeDataset(name string, dset *hdf5.Dataset) error {
	if dset == nil {
		return nil
	}
	if err := dset.Close(); err != nil {
		return fmt.Errorf("error closing %s: %w", name, err)
	}
	return nil
}

func closeGroup(name string, group *hdf5.Group) error {
	if group == nil {
		return nil
	}
	if err := group.Close(); err != nil {
		return fmt.Errorf("error closing %s group: %w", name, err)
	}
	return nil
}

func (w *Writer) Close() error {
	logger.Info(fmt.Sprintf("Closing file %s, %d events", w.Filename, w.EvtCounter), "writer")
	if w.CutEvents > 0 || w.PaddedEvents > 0 {
		message := fmt.Sprintf("%d events cut and %d events padded to %d samples per waveform",
			w.CutEvents, w.PaddedEvents, w.nSamples)
		logger.Warn(message, "writer")
	}
	errs := []error{
		closeDataset("event table", w.EventTable),
		closeDataset("run info table", w.RunInfoTable),
		closeDataset("thresholds table", w.ThresholdsTable),
		closeDataset("sensor mapping table", w.MappingTable),
		closeDataset("features table", w.FeaturesTable),
		closeDataset("time axis", w.TimeAxis),
		closeDataset("corrected waveforms", w.Corrected),
		closeDataset("raw waveforms", w.Raw),
		closeDataset("pedestals", w.Pedestals),
		closeDataset("sample counts", w.SampleCounts),
		closeDataset("channel ids", w.ChannelIDs),
		closeDataset("event counters", w.EventCounters),
		closeDataset("CFD times", w.TimeCFD),
		closeDataset("CFD jitter", w.JitterCFD),
		closeDataset("LE times", w.TimeLE),
		closeDataset("LE jitter", w.JitterLE),
		closeDataset("time over threshold", w.TotLE),
		closeDataset("charge fraction times", w.TimeCharge),
		closeGroup("Run", w.RunGroup),
		closeGroup("RD", w.RDGroup),
		closeGroup("Features", w.FeaturesGroup),
		closeGroup("Sensors", w.SensorsGroup),
	}
	if w.File != nil {
		if err := w.File.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing file: %w", err))
		}
	}
	return errors.Join(errs...)
}
