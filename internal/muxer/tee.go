package muxer

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"rapidcast/internal/session"
	"rapidcast/pkg/models"
)

// Target is a secondary output of a Tee with its own URL
type Target struct {
	Muxer session.Muxer
	URL   string
}

// Tee fans packets out to a primary muxer and any number of secondary
// targets. Only primary failures are reported to the session; a failing
// secondary is logged and detached.
type Tee struct {
	primary     session.Muxer
	secondaries []Target
	active      []bool
	log         logrus.FieldLogger
}

// NewTee creates a tee writing to primary and every target
func NewTee(primary session.Muxer, log logrus.FieldLogger, targets ...Target) *Tee {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Tee{
		primary:     primary,
		secondaries: targets,
		active:      make([]bool, len(targets)),
		log:         log,
	}
}

// OpenOutput opens the primary at url and each secondary at its own URL.
// If any of them fails everything opened so far is closed again.
func (t *Tee) OpenOutput(ctx context.Context, url string) error {
	if err := t.primary.OpenOutput(ctx, url); err != nil {
		return err
	}
	for i, target := range t.secondaries {
		if err := target.Muxer.OpenOutput(ctx, target.URL); err != nil {
			for j := i - 1; j >= 0; j-- {
				t.secondaries[j].Muxer.CloseOutput()
				t.active[j] = false
			}
			t.primary.CloseOutput()
			return fmt.Errorf("failed to open %s: %w", target.URL, err)
		}
		t.active[i] = true
	}
	return nil
}

func (t *Tee) WriteHeader(video, audio *models.CodecInfo) error {
	if err := t.primary.WriteHeader(video, audio); err != nil {
		return err
	}
	for i, target := range t.secondaries {
		if err := target.Muxer.WriteHeader(video, audio); err != nil {
			return fmt.Errorf("failed to write header to %s: %w", target.URL, err)
		}
		t.active[i] = true
	}
	return nil
}

func (t *Tee) WritePacket(pkt *models.EncodedPacket) error {
	for i, target := range t.secondaries {
		if !t.active[i] {
			continue
		}
		if err := target.Muxer.WritePacket(pkt); err != nil {
			t.log.WithError(err).WithField("output", target.URL).Warn("Secondary output failed, detaching")
			t.active[i] = false
		}
	}
	return t.primary.WritePacket(pkt)
}

func (t *Tee) WriteTrailer() error {
	var result *multierror.Error
	for i, target := range t.secondaries {
		if !t.active[i] {
			continue
		}
		if err := target.Muxer.WriteTrailer(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", target.URL, err))
		}
	}
	if err := t.primary.WriteTrailer(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// CloseOutput closes every output, including detached secondaries
func (t *Tee) CloseOutput() error {
	var result *multierror.Error
	for i, target := range t.secondaries {
		if err := target.Muxer.CloseOutput(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", target.URL, err))
		}
		t.active[i] = false
	}
	if err := t.primary.CloseOutput(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

var _ session.Muxer = (*Tee)(nil)
