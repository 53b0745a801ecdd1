package net

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/propsignal/propctl/pkg/generate"
)

const fetchMaxElapsed = 30 * time.Second

// Sources is the HTTP implementation of the upstream collaborator
// interfaces: feature store, lines provider, and results ingestion. Each
// GET is retried with exponential backoff; a unit whose upstream data is
// missing degrades rather than failing the run.
type Sources struct {
	client     *http.Client
	featureURL string
	lineURL    string
	outcomeURL string
}

// NewSources builds the collaborator clients. The token is attached to
// every request via the oauth transport.
func NewSources(ctx context.Context, token, featureURL, lineURL, outcomeURL string) *Sources {
	return &Sources{
		client:     GetOAuthClient(ctx, token),
		featureURL: featureURL,
		lineURL:    lineURL,
		outcomeURL: outcomeURL,
	}
}

type featurePayload struct {
	Features map[string]float64 `json:"features"`
}

// GetFeatures implements generate.FeatureSource.
func (s *Sources) GetFeatures(ctx context.Context, entityID, occurrenceID string) (generate.Features, error) {
	if s.featureURL == "" {
		return nil, errors.New("feature source url not configured")
	}

	u := fmt.Sprintf("%s?entity=%s&occurrence=%s",
		s.featureURL, url.QueryEscape(entityID), url.QueryEscape(occurrenceID))

	p := &featurePayload{}
	if err := s.getJSON(ctx, u, p); err != nil {
		return nil, errors.Wrapf(err, "failed to fetch features: %s/%s", entityID, occurrenceID)
	}
	return p.Features, nil
}

type linePayload struct {
	Line *float64 `json:"line"`
}

// GetLine implements generate.LineSource. A missing line is nil, not an
// error: lines arrive asynchronously and may postdate generation.
func (s *Sources) GetLine(ctx context.Context, entityID, occurrenceID string) (*float64, error) {
	if s.lineURL == "" {
		return nil, errors.New("line source url not configured")
	}

	u := fmt.Sprintf("%s?entity=%s&occurrence=%s",
		s.lineURL, url.QueryEscape(entityID), url.QueryEscape(occurrenceID))

	p := &linePayload{}
	if err := s.getJSON(ctx, u, p); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to fetch line: %s/%s", entityID, occurrenceID)
	}
	return p.Line, nil
}

type outcomePayload struct {
	Outcomes map[string]float64 `json:"outcomes"`
}

// GetOutcomes implements grade.OutcomeSource.
func (s *Sources) GetOutcomes(ctx context.Context, occurrenceID string) (map[string]float64, error) {
	if s.outcomeURL == "" {
		return nil, errors.New("outcome source url not configured")
	}

	u := fmt.Sprintf("%s?occurrence=%s", s.outcomeURL, url.QueryEscape(occurrenceID))

	p := &outcomePayload{}
	if err := s.getJSON(ctx, u, p); err != nil {
		return nil, errors.Wrapf(err, "failed to fetch outcomes: %s", occurrenceID)
	}
	return p.Outcomes, nil
}

var errNotFound = errors.New("not found")

func (s *Sources) getJSON(ctx context.Context, u string, out any) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			log.Warnf("request failed, will retry: %v", err)
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(errNotFound)
		case resp.StatusCode >= 500:
			return errors.Errorf("server error: %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(errors.Errorf("unexpected status: %d", resp.StatusCode))
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(errors.Wrap(err, "failed to decode response"))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = fetchMaxElapsed

	return backoff.Retry(op, backoff.WithContext(b, ctx))
}
