package main

import (
	"fmt"
	"strconv"
	"strings"

	decoder "github.com/next-exp/waveconverter_go/pkg"
)

// collectingSink keeps the features of every trigger for comparison.
type collectingSink struct {
	features [][]decoder.WaveformFeatures
}

func (s *collectingSink) WriteEvent(event *decoder.ProcessedEvent) error {
	s.features = append(s.features, event.Features)
	return nil
}

func (s *collectingSink) Close() error {
	return nil
}

func parseWorkers(list string) ([]int, error) {
	fields := strings.Split(list, ",")
	workers := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid worker count %q", f)
		}
		workers = append(workers, n)
	}
	return workers, nil
}
