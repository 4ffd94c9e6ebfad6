// Package metrics exposes the pipeline's OpenTelemetry instruments.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics bundles the counters recorded by the clusterer, assigner, and
// coordinator. A nil *Metrics is valid and records nothing, so unit tests
// and one-shot CLI runs don't need a meter provider.
type Metrics struct {
	clusteringRuns   metric.Int64Counter
	topicsCreated    metric.Int64Counter
	articlesAssigned metric.Int64Counter
	articlesPending  metric.Int64Counter
	centroidUpdates  metric.Int64Counter
	triggersFired    metric.Int64Counter
	collabFallbacks  metric.Int64Counter
}

// New creates the instrument set on the global meter provider.
func New() (*Metrics, error) {
	meter := otel.Meter("github.com/thebtf/topica")

	m := &Metrics{}
	var err error

	if m.clusteringRuns, err = meter.Int64Counter("topica.clustering.runs",
		metric.WithDescription("Completed batch clustering runs")); err != nil {
		return nil, err
	}
	if m.topicsCreated, err = meter.Int64Counter("topica.clustering.topics_created",
		metric.WithDescription("Topics created by batch clustering")); err != nil {
		return nil, err
	}
	if m.articlesAssigned, err = meter.Int64Counter("topica.assignment.assigned",
		metric.WithDescription("Articles assigned to an existing topic")); err != nil {
		return nil, err
	}
	if m.articlesPending, err = meter.Int64Counter("topica.assignment.pending",
		metric.WithDescription("Articles deferred to the pending pool")); err != nil {
		return nil, err
	}
	if m.centroidUpdates, err = meter.Int64Counter("topica.assignment.centroid_updates",
		metric.WithDescription("Topic centroids recomputed after assignment")); err != nil {
		return nil, err
	}
	if m.triggersFired, err = meter.Int64Counter("topica.coordinator.triggers",
		metric.WithDescription("Clustering triggers fired by the batch coordinator")); err != nil {
		return nil, err
	}
	if m.collabFallbacks, err = meter.Int64Counter("topica.collaborator.fallbacks",
		metric.WithDescription("Title generation failures degraded to fallback titles")); err != nil {
		return nil, err
	}
	return m, nil
}

// ClusteringRun records a finished clustering run and the topics it created.
func (m *Metrics) ClusteringRun(ctx context.Context, algorithm string, topics int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("algorithm", algorithm))
	m.clusteringRuns.Add(ctx, 1, attrs)
	m.topicsCreated.Add(ctx, int64(topics), attrs)
}

// AssignmentPass records the outcome counts of one assigner pass.
func (m *Metrics) AssignmentPass(ctx context.Context, assigned, pending, updated int) {
	if m == nil {
		return
	}
	m.articlesAssigned.Add(ctx, int64(assigned))
	m.articlesPending.Add(ctx, int64(pending))
	m.centroidUpdates.Add(ctx, int64(updated))
}

// TriggerFired records one coordinator-initiated clustering trigger.
func (m *Metrics) TriggerFired(ctx context.Context) {
	if m == nil {
		return
	}
	m.triggersFired.Add(ctx, 1)
}

// CollaboratorFallback records a degraded title-generation call.
func (m *Metrics) CollaboratorFallback(ctx context.Context) {
	if m == nil {
		return
	}
	m.collabFallbacks.Add(ctx, 1)
}
