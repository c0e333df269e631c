package mediagen

import (
	"context"
	"fmt"
	"os"
	"time"

	"anonrelay/internal/retry"

	"github.com/sirupsen/logrus"
)

// synthesizer walks an ordered provider list, retrying each provider before
// falling to the next one.
type synthesizer struct {
	voiceProviders []Provider
	imageProviders []Provider
	cardProvider   Provider
	backoff        *retry.Backoff
	logger         *logrus.Logger
}

// Options configures a new generator.
type Options struct {
	VoiceProviders []Provider
	ImageProviders []Provider
	CardProvider   Provider
	MaxAttempts    int
	Logger         *logrus.Logger
}

func NewGenerator(opts Options) Generator {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetLevel(logrus.WarnLevel)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}

	return &synthesizer{
		voiceProviders: opts.VoiceProviders,
		imageProviders: opts.ImageProviders,
		cardProvider:   opts.CardProvider,
		backoff: retry.NewBackoff(retry.BackoffConfig{
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
			MaxAttempts:  opts.MaxAttempts,
			Jitter:       true,
		}),
		logger: opts.Logger,
	}
}

func (s *synthesizer) Generate(ctx context.Context, req Request) (*Artifact, error) {
	providers, err := s.providersFor(req.Kind)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, p := range providers {
		var artifact *Artifact

		err := s.backoff.Retry(ctx, func() error {
			var genErr error
			artifact, genErr = p.Generate(ctx, req)
			return genErr
		})
		if err == nil {
			return artifact, nil
		}

		lastErr = err
		s.logger.WithError(err).WithFields(logrus.Fields{
			"provider": p.Name(),
			"kind":     req.Kind,
		}).Warn("Provider failed, trying next")

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("all providers failed for %s: %w", req.Kind, lastErr)
}

// Cleanup removes the artifact's file. A missing file is not an error.
func (s *synthesizer) Cleanup(artifact *Artifact) error {
	if artifact == nil || artifact.Path == "" {
		return nil
	}

	if err := os.Remove(artifact.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove artifact: %w", err)
	}
	return nil
}

func (s *synthesizer) providersFor(kind Kind) ([]Provider, error) {
	switch kind {
	case KindVoice:
		if len(s.voiceProviders) == 0 {
			return nil, fmt.Errorf("no voice providers configured")
		}
		return s.voiceProviders, nil
	case KindImage:
		if len(s.imageProviders) == 0 {
			return nil, fmt.Errorf("no image providers configured")
		}
		return s.imageProviders, nil
	case KindCard:
		if s.cardProvider == nil {
			return nil, fmt.Errorf("no card provider configured")
		}
		return []Provider{s.cardProvider}, nil
	default:
		return nil, fmt.Errorf("unknown artifact kind: %s", kind)
	}
}
