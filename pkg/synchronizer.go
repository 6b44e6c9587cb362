package decoder

import (
	"fmt"
)

type IssueKind int

const (
	IssueEventCounter IssueKind = iota
	IssueBoardID
	IssueChannelID
	numIssueKinds
)

var issueKindStrings = []string{"eventCounter", "boardId", "channelId"}

func (k IssueKind) String() string {
	return issueKindStrings[k]
}

// Issue is one header field that disagrees with the reference.
// Counter and board are compared with channel 0, the channel id with the
// channel index itself.
type Issue struct {
	Kind    IssueKind
	Channel int
	Got     uint32
	Want    uint32
}

func (i Issue) String() string {
	if i.Kind == IssueChannelID {
		return fmt.Sprintf("channelId mismatch ch%d (got %d, expected %d)", i.Channel, i.Got, i.Want)
	}
	return fmt.Sprintf("%s mismatch ch%d (%d vs %d)", i.Kind, i.Channel, i.Got, i.Want)
}

type SyncStats struct {
	Events             int
	InconsistentEvents int
	SkippedEvents      int
	PaddedEvents       int
	// Events affected per issue kind
	IssueEvents        [numIssueKinds]int
	SuppressedMessages int
}

// Synchronizer checks that the frames of one trigger belong together and
// builds the event's time axis.
type Synchronizer struct {
	nChannels      int
	tSampleNs      float64
	nsamplesPolicy NsamplesPolicy
	eventPolicy    EventPolicy
	specialChannel int
	warnLimit      int
	verbosity      int

	warnCount     int
	loggedPadding bool
	loggedSpecial bool
	loggedSkip    bool

	timeAxis []float32
	stats    SyncStats
}

func NewSynchronizer(config Configuration) *Synchronizer {
	return &Synchronizer{
		nChannels:      config.NChannels,
		tSampleNs:      config.TSampleNs,
		nsamplesPolicy: config.NsamplesPolicy,
		eventPolicy:    config.EventPolicy,
		specialChannel: config.SpecialChannel(),
		warnLimit:      config.WarnLimit,
		verbosity:      config.Verbosity,
	}
}

// Synchronize validates the frames read for one trigger, one per channel.
func (s *Synchronizer) Synchronize(trigger int, frames []ChannelEvent) (SynchronizedEvent, error) {
	if len(frames) != s.nChannels {
		return SynchronizedEvent{}, fmt.Errorf("trigger %d: got %d frames for %d channels",
			trigger, len(frames), s.nChannels)
	}
	s.stats.Events++

	event := SynchronizedEvent{
		TriggerIndex:   int32(trigger),
		Headers:        make([]FrameHeader, s.nChannels),
		Samples:        make([][]float32, s.nChannels),
		RawSampleCount: make([]int32, s.nChannels),
	}

	issues := s.checkHeaders(frames)
	if len(issues) > 0 {
		s.countIssues(issues)
		switch s.eventPolicy {
		case EventError:
			for _, issue := range issues {
				logger.Error(fmt.Sprintf("trigger %d: %s", trigger, issue))
			}
			return SynchronizedEvent{}, &ErrConsistency{Trigger: trigger, Policy: s.eventPolicy, Issues: issues}
		case EventWarn:
			s.logIssues(trigger, issues)
		case EventSkip:
			s.logIssues(trigger, issues)
			if !s.loggedSkip {
				logger.Warn("event_policy=skip: dropping inconsistent triggers", "sync")
				s.loggedSkip = true
			}
			s.stats.SkippedEvents++
			event.Skip = true
		}
		event.Issues = issues
	}

	minSamples, maxSamples := len(frames[0].Samples), len(frames[0].Samples)
	for ch, frame := range frames {
		n := len(frame.Samples)
		event.Headers[ch] = frame.Header
		event.Samples[ch] = frame.Samples
		event.RawSampleCount[ch] = int32(n)
		minSamples = min(minSamples, n)
		maxSamples = max(maxSamples, n)
	}

	if minSamples != maxSamples {
		if s.nsamplesPolicy == NsamplesStrict {
			counts := make([]int, len(frames))
			for ch, frame := range frames {
				counts[ch] = len(frame.Samples)
			}
			return SynchronizedEvent{}, &ErrSampleCountMismatch{
				Trigger: trigger, Min: minSamples, Max: maxSamples, Counts: counts,
			}
		}
		if !s.loggedPadding {
			message := fmt.Sprintf("nsamples_policy=pad: trigger %d has %d..%d samples, padding to %d",
				trigger, minSamples, maxSamples, maxSamples)
			logger.Warn(message, "sync")
			s.loggedPadding = true
		}
		s.stats.PaddedEvents++
		event.Padded = true
	}

	event.MinSamples = minSamples
	event.MaxSamples = maxSamples
	event.TimeAxis = s.axis(maxSamples)
	return event, nil
}

func (s *Synchronizer) checkHeaders(frames []ChannelEvent) []Issue {
	var issues []Issue
	reference := frames[0].Header
	for ch, frame := range frames {
		h := frame.Header
		if ch > 0 && h.EventCounter != reference.EventCounter {
			issues = append(issues, Issue{IssueEventCounter, ch, h.EventCounter, reference.EventCounter})
		}
		if ch > 0 && h.BoardID != reference.BoardID {
			issues = append(issues, Issue{IssueBoardID, ch, h.BoardID, reference.BoardID})
		}
		if h.ChannelID == uint32(ch) {
			continue
		}
		if ch == s.specialChannel {
			if !s.loggedSpecial {
				message := fmt.Sprintf("ch%d reads the special channel file, reported channel id %d accepted",
					ch, h.ChannelID)
				logger.Info(message, "sync")
				s.loggedSpecial = true
			}
			continue
		}
		issues = append(issues, Issue{IssueChannelID, ch, h.ChannelID, uint32(ch)})
	}
	return issues
}

func (s *Synchronizer) countIssues(issues []Issue) {
	s.stats.InconsistentEvents++
	var seen [numIssueKinds]bool
	for _, issue := range issues {
		if !seen[issue.Kind] {
			seen[issue.Kind] = true
			s.stats.IssueEvents[issue.Kind]++
		}
	}
}

func (s *Synchronizer) logIssues(trigger int, issues []Issue) {
	for _, issue := range issues {
		if s.warnCount >= s.warnLimit {
			s.stats.SuppressedMessages++
			continue
		}
		s.warnCount++
		logger.Warn(fmt.Sprintf("trigger %d: %s", trigger, issue), "sync")
		if s.warnCount == s.warnLimit {
			logger.Warn(fmt.Sprintf("warn_limit %d reached, further consistency warnings suppressed",
				s.warnLimit), "sync")
		}
	}
}

// axis returns t[i] = i * tsample. The slice is cached and grown when a
// longer event arrives; callers get a prefix of it.
func (s *Synchronizer) axis(n int) []float32 {
	if n > len(s.timeAxis) {
		axis := make([]float32, n)
		for i := range axis {
			axis[i] = float32(float64(i) * s.tSampleNs)
		}
		s.timeAxis = axis
	}
	return s.timeAxis[:n:n]
}

func (s *Synchronizer) Stats() SyncStats {
	return s.stats
}
