// Package notify announces run outcomes on channels the operator watches
// while the pipeline works unattended: the desktop and a team webhook.
package notify

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// NotificationType grades a notification's urgency
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// SeriesSummary names one source series a run processed
type SeriesSummary struct {
	Modality   string
	SeriesUID  string
	SliceCount int
}

func (s SeriesSummary) String() string {
	return fmt.Sprintf("%s %s, %d slices", s.Modality, shortUID(s.SeriesUID), s.SliceCount)
}

// Notification carries a run outcome. Title and Body render it; the
// individual channels decide how much of the body fits their medium.
type Notification struct {
	Type     NotificationType
	RunID    string
	Task     string
	Headline string
	// Detail holds the failure message, or extra context on success
	Detail string
	// Stage is the pipeline stage a failure surfaced in
	Stage     string
	Series    []SeriesSummary
	Imported  int
	RTStructs int
	Elapsed   time.Duration
}

// Title is the one-line header: headline plus the task when set.
func (n Notification) Title() string {
	if n.Task != "" {
		return fmt.Sprintf("%s (%s)", n.Headline, n.Task)
	}
	return n.Headline
}

// Body renders the notification details, one fact per line.
func (n Notification) Body() string {
	var lines []string
	if n.Detail != "" {
		lines = append(lines, n.Detail)
	}
	if n.Stage != "" {
		lines = append(lines, "failed while "+n.Stage)
	}
	for _, s := range n.Series {
		lines = append(lines, s.String())
	}
	if n.Imported > 0 || n.RTStructs > 0 {
		lines = append(lines, fmt.Sprintf("%d files imported, %d structure sets", n.Imported, n.RTStructs))
	}
	if n.Elapsed > 0 {
		lines = append(lines, "took "+n.Elapsed.Round(time.Second).String())
	}
	return strings.Join(lines, "\n")
}

// shortUID keeps the tail of a DICOM UID so a notification stays
// readable; the tail is the part that distinguishes siblings.
func shortUID(uid string) string {
	if len(uid) <= 16 {
		return uid
	}
	return "…" + uid[len(uid)-12:]
}

// Notifier delivers a notification on one channel
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier fans a notification out to every channel; one channel
// failing does not silence the others.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

func (m *MultiNotifier) Send(n Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoopNotifier swallows everything; used when notifications are disabled
type NoopNotifier struct{}

func (NoopNotifier) Send(Notification) error { return nil }
