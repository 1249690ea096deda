package pipeline

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// Status is the outcome class of one feed.
type Status string

const (
	StatusLoaded Status = "loaded"
	StatusNoData Status = "no_data"
	StatusFailed Status = "failed"
)

// FeedOutcome summarises one feed's extract-load.
type FeedOutcome struct {
	Feed     string
	Fetched  int
	Affected int64
	Status   Status
	// Err is the load error for StatusFailed, or the fetch error (if any)
	// for StatusNoData.
	Err error
}

func (o FeedOutcome) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("feed", o.Feed)
	enc.AddString("status", string(o.Status))
	enc.AddInt("fetched", o.Fetched)
	enc.AddInt64("affected", o.Affected)
	if o.Err != nil {
		enc.AddString("error", o.Err.Error())
	}
	return nil
}

type outcomes []FeedOutcome

func (list outcomes) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	for _, o := range list {
		if err := enc.AppendObject(o); err != nil {
			return err
		}
	}
	return nil
}

// Report summarises a Run.
type Report struct {
	Feeds             []FeedOutcome
	TransformRan      bool
	TransformAttempts int
	TransformErr      error
	Duration          time.Duration
}

// LoadFailed reports whether any feed ended in StatusFailed.
func (r Report) LoadFailed() bool {
	return AnyFailed(r.Feeds)
}

// AnyFailed reports whether any outcome is StatusFailed.
func AnyFailed(feeds []FeedOutcome) bool {
	for _, o := range feeds {
		if o.Status == StatusFailed {
			return true
		}
	}
	return false
}
