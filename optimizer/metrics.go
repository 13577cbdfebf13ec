package optimizer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricIterations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "extractopt",
		Name:      "iterations_total",
		Help:      "Number of optimization iterations completed.",
	})
	metricGenerationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "extractopt",
		Name:      "generation_failures_total",
		Help:      "Documents dropped from scoring, by the role whose generation failed.",
	}, []string{"role"})
	metricMalformedResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "extractopt",
		Name:      "malformed_responses_total",
		Help:      "Structured responses that could not be parsed, by kind.",
	}, []string{"kind"})
	metricMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "extractopt",
		Name:      "mutations_total",
		Help:      "Candidate mutations attempted, by target and outcome.",
	}, []string{"target", "outcome"})
	metricIterationScore = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "extractopt",
		Name:      "iteration_average_score",
		Help:      "Average critique score of the latest iteration.",
	})
	metricBestScore = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "extractopt",
		Name:      "best_score",
		Help:      "Highest iteration average observed in the current run.",
	})
)

func recordGenerationFailure(role string) {
	metricGenerationFailures.WithLabelValues(role).Inc()
}

func recordMalformed(kind string) {
	metricMalformedResponses.WithLabelValues(kind).Inc()
}

func recordMutation(target, outcome string) {
	metricMutations.WithLabelValues(target, outcome).Inc()
}

func recordIteration(avg, best float64) {
	metricIterations.Inc()
	metricIterationScore.Set(avg)
	metricBestScore.Set(best)
}
