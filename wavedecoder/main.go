package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	decoder "github.com/next-exp/waveconverter_go/pkg"
	"github.com/next-exp/waveconverter_go/pkg/logging"
	"github.com/next-exp/waveconverter_go/pkg/writer"
)

var logger = logging.NewStd()

func main() {
	configFilename := flag.String("config", "", "Configuration file path")
	flag.Parse()

	if err := run(*configFilename); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

func run(configFilename string) error {
	decoder.SetLogger(logger)
	writer.SetLogger(logger)

	configuration, err := decoder.LoadConfiguration(configFilename)
	if err != nil {
		return fmt.Errorf("Error reading configuration file: %w", err)
	}
	if configuration.Verbosity > 0 {
		logger.Info(fmt.Sprintf("Reading configuration file: %s", configFilename), "main")
	}

	if configuration.UseDB {
		dbConn, err := decoder.ConnectToDatabase(configuration.User, configuration.Passwd, configuration.Host, configuration.DBName)
		if err != nil {
			return fmt.Errorf("Error connection to database: %w", err)
		}
		err = decoder.LoadDatabase(dbConn, &configuration)
		dbConn.Close()
		if err != nil {
			return err
		}
	}
	if configuration.Verbosity > 0 {
		decoder.PrintConfiguration(configuration, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	streams, err := decoder.OpenChannelStreams(configuration)
	if err != nil {
		return err
	}
	defer decoder.CloseStreams(streams)

	reader := decoder.NewChunkedReader(streams, configuration.ChunkSize, configuration.MaxWorkers)
	reader.SetVerbosity(configuration.Verbosity)

	w, err := writer.NewWriter(configuration.FileOut, configuration)
	if err != nil {
		return err
	}

	summary, runErr := decoder.NewConverter(configuration).Run(ctx, reader, w)
	if err := w.Close(); err != nil {
		logger.Error(err.Error())
	}
	summary.Log(configuration.WarnLimit)
	return runErr
}
