package services

import (
	"context"
	"errors"

	"github.com/humblevault/humblevault/pkg/library/classifier"
	"github.com/humblevault/humblevault/pkg/library/config"
	"github.com/humblevault/humblevault/pkg/library/models"
	"github.com/humblevault/humblevault/pkg/library/storefront"
	"github.com/sirupsen/logrus"
)

// CatalogFactory builds a storefront client for the current settings.
type CatalogFactory func(s config.Settings) storefront.Catalog

// ClassifierFactory builds a classifier for the current settings.
type ClassifierFactory func(s config.Settings) classifier.Classifier

// DefaultCatalogFactory talks to the configured storefront with the stored
// session credential.
func DefaultCatalogFactory(s config.Settings) storefront.Catalog {
	return storefront.NewClient(storefront.Config{BaseURL: s.StorefrontURL, Credential: s.SessionCookie})
}

// DefaultClassifierFactory returns a no-op classifier until an endpoint and
// model are configured.
func DefaultClassifierFactory(s config.Settings) classifier.Classifier {
	if !s.AIEnabled() {
		return classifier.Noop{}
	}
	return classifier.NewClient(classifier.Config{
		BaseURL: s.AIURL,
		Model:   s.AIModel,
		APIKey:  s.AIAPIKey,
		Timeout: s.AITimeout,
	})
}

// Enrichment is the computed metadata of one record.
type Enrichment struct {
	models.Metadata
	AIDescribed bool
}

// Tags returns the tags implied by the enrichment.
func (e Enrichment) Tags() []string {
	tags := []string{e.Category}
	if e.AIDescribed {
		tags = append(tags, models.AIDescribedTag)
	}
	return tags
}

type enricher struct {
	catalog storefront.Catalog
	ai      classifier.Classifier
	log     *logrus.Entry
}

// Enrich computes image, description and category. The store lookup and the
// classifier are only consulted when full is set.
func (e *enricher) Enrich(ctx context.Context, r *Record, full bool) Enrichment {
	var out Enrichment
	out.ImageURL = ExtractImage(r.Payload)
	out.Description = ExtractDescription(r.Payload)

	if full && !r.IsKey() && (out.ImageURL == "" || out.Description == "") {
		lookup, err := e.catalog.LookupProduct(ctx, r.Asset.ProductSlug)
		if err != nil {
			e.log.WithError(err).WithField("slug", r.Asset.ProductSlug).Debug("product lookup failed")
		}
		if out.ImageURL == "" {
			out.ImageURL = ExtractImage(lookup)
		}
		if out.Description == "" {
			out.Description = ExtractDescription(lookup)
		}
	}

	if full && !r.IsKey() && out.Description == "" {
		text, err := e.ai.Describe(ctx, e.input(r, ""))
		switch {
		case err == nil && text != "":
			out.Description = text
			out.AIDescribed = true
		case err != nil && !errors.Is(err, classifier.ErrNotConfigured):
			e.log.WithError(err).WithField("asset", r.Key()).Warn("description generation failed")
		}
	}

	out.Category = e.categorize(ctx, r, out.Description, full)
	return out
}

func (e *enricher) categorize(ctx context.Context, r *Record, description string, useAI bool) string {
	if r.IsKey() {
		return models.CategoryKey
	}
	a := &r.Asset
	if c, ok := HeuristicCategory(HeuristicInput{
		Title:       a.ProductTitle,
		Bundle:      a.BundleTitle,
		Description: description,
		FileName:    a.FileName,
		Ext:         a.Ext,
		Platform:    a.Platform,
	}); ok {
		return c
	}
	if !useAI {
		return classifier.Fallback
	}
	label, err := e.ai.Classify(ctx, e.input(r, description))
	if err != nil {
		if !errors.Is(err, classifier.ErrNotConfigured) {
			e.log.WithError(err).WithField("asset", r.Key()).Warn("classification failed, using fallback category")
		}
		return classifier.Fallback
	}
	return label
}

func (e *enricher) input(r *Record, description string) classifier.Input {
	return classifier.Input{
		Bundle:      r.Asset.BundleTitle,
		Title:       r.Asset.ProductTitle,
		FileName:    r.Asset.FileName,
		Ext:         r.Asset.Ext,
		Platform:    r.Asset.Platform,
		Description: description,
	}
}
