package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	decoder "github.com/next-exp/waveconverter_go/pkg"
	"github.com/next-exp/waveconverter_go/pkg/logging"
)

var logger = logging.NewStd()

func main() {
	configFilename := flag.String("config", "", "Configuration file path")
	trigger := flag.Int("trigger", 0, "Trigger index to plot")
	outFilename := flag.String("out", "", "Output PNG (default waveforms_<trigger>.png)")
	flag.Parse()

	if *outFilename == "" {
		*outFilename = fmt.Sprintf("waveforms_%d.png", *trigger)
	}
	if err := run(*configFilename, *trigger, *outFilename); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

func run(configFilename string, trigger int, outFilename string) error {
	decoder.SetLogger(logger)

	configuration, err := decoder.LoadConfiguration(configFilename)
	if err != nil {
		return fmt.Errorf("Error reading configuration file: %w", err)
	}
	if trigger < 0 {
		return fmt.Errorf("invalid trigger %d", trigger)
	}
	configuration.Skip = trigger
	configuration.MaxEvents = trigger + 1

	streams, err := decoder.OpenChannelStreams(configuration)
	if err != nil {
		return err
	}
	defer decoder.CloseStreams(streams)

	sink := &triggerSink{}
	reader := decoder.NewChunkedReader(streams, configuration.ChunkSize, configuration.MaxWorkers)
	if _, err := decoder.NewConverter(configuration).Run(context.Background(), reader, sink); err != nil {
		return err
	}
	if sink.event == nil {
		return fmt.Errorf("trigger %d not found in input", trigger)
	}

	if err := plotEvent(sink.event, configuration, outFilename); err != nil {
		return err
	}
	logger.Info(fmt.Sprintf("Trigger %d written to %s", trigger, outFilename), "main")
	return nil
}

// triggerSink keeps the first event it receives.
type triggerSink struct {
	event *decoder.ProcessedEvent
}

func (s *triggerSink) WriteEvent(event *decoder.ProcessedEvent) error {
	if s.event == nil {
		s.event = event
	}
	return nil
}

func (s *triggerSink) Close() error {
	return nil
}
