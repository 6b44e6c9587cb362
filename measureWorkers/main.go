package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/go-cmp/cmp"
	decoder "github.com/next-exp/waveconverter_go/pkg"
	"github.com/next-exp/waveconverter_go/pkg/logging"
	"github.com/next-exp/waveconverter_go/pkg/writer"
)

var logger = logging.NewStd()

func main() {
	configFilename := flag.String("config", "", "Configuration file path")
	workersList := flag.String("workers", "1,2,4,8", "Comma separated worker counts")
	repeat := flag.Int("repeat", 3, "Runs per worker count")
	compression := flag.Bool("compression", false, "Also time HDF5 writing for compression levels 0-9")
	flag.Parse()
	if *repeat < 1 {
		*repeat = 1
	}

	configuration, err := decoder.LoadConfiguration(*configFilename)
	if err != nil {
		message := fmt.Errorf("Error reading configuration file: %w", err)
		logger.Error(message.Error())
		os.Exit(1)
	}
	// Benchmark output only; library warnings would dominate the timing
	if configuration.Verbosity > 0 {
		decoder.SetLogger(logger)
		decoder.PrintConfiguration(configuration, logger)
	}

	workerCounts, err := parseWorkers(*workersList)
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	var reference *collectingSink
	for _, workers := range workerCounts {
		configuration.MaxWorkers = workers
		var total time.Duration
		for i := 0; i < *repeat; i++ {
			sink := &collectingSink{}
			duration, err := convert(configuration, sink)
			if err != nil {
				logger.Error(fmt.Sprintf("workers %d: %v", workers, err))
				os.Exit(1)
			}
			total += duration

			if reference == nil {
				reference = sink
				continue
			}
			if diff := cmp.Diff(reference.features, sink.features); diff != "" {
				logger.Error(fmt.Sprintf("workers %d produced different features (-first +this):\n%s", workers, diff))
				os.Exit(1)
			}
		}
		fmt.Printf("(workers %d) %d triggers, mean time: %d ms\n",
			workers, len(reference.features), total.Milliseconds()/int64(*repeat))
	}

	if !*compression {
		return
	}
	for compressionLevel := 0; compressionLevel < 10; compressionLevel++ {
		configuration.CompressionLevel = compressionLevel
		w, err := writer.NewWriter(configuration.FileOut, configuration)
		if err != nil {
			logger.Error(err.Error())
			os.Exit(1)
		}
		duration, err := convert(configuration, w)
		if closeErr := w.Close(); closeErr != nil {
			logger.Error(closeErr.Error())
		}
		if err != nil {
			logger.Error(err.Error())
			os.Exit(1)
		}
		fileInfo, err := os.Stat(configuration.FileOut)
		if err != nil {
			logger.Error(fmt.Sprintf("Error getting file info: %v", err))
			continue
		}
		fmt.Printf("(hdf5, comp %d) Time: %d ms, size %d bytes\n", compressionLevel, duration.Milliseconds(), fileInfo.Size())
	}
}

func convert(configuration decoder.Configuration, sink decoder.Sink) (time.Duration, error) {
	streams, err := decoder.OpenChannelStreams(configuration)
	if err != nil {
		return 0, err
	}
	defer decoder.CloseStreams(streams)

	start := time.Now()
	reader := decoder.NewChunkedReader(streams, configuration.ChunkSize, configuration.MaxWorkers)
	_, err = decoder.NewConverter(configuration).Run(context.Background(), reader, sink)
	return time.Since(start), err
}
