package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeOK       = "ok"
	OutcomeReplayed = "replayed"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

type registry struct {
	ledgerPostings          *prometheus.CounterVec
	purchases               *prometheus.CounterVec
	tokenIssued             *prometheus.CounterVec
	tokenValidations        *prometheus.CounterVec
	subscriptionTransitions *prometheus.CounterVec
	jobs                    *prometheus.CounterVec
}

var (
	once sync.Once
	reg  *registry
)

func defaultRegistry() *registry {
	once.Do(func() {
		reg = &registry{
			ledgerPostings: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "streampass",
				Subsystem: "wallet",
				Name:      "postings_total",
				Help:      "Ledger postings by first entry kind and outcome.",
			}, []string{"kind", "outcome"}),
			purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "streampass",
				Subsystem: "purchase",
				Name:      "requests_total",
				Help:      "Purchase orchestrations by item type and outcome.",
			}, []string{"item_type", "outcome"}),
			tokenIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "streampass",
				Subsystem: "stream_token",
				Name:      "issued_total",
				Help:      "Stream access tokens issued by mode and outcome.",
			}, []string{"mode", "outcome"}),
			tokenValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "streampass",
				Subsystem: "stream_token",
				Name:      "validations_total",
				Help:      "Stream token validations by result.",
			}, []string{"result"}),
			subscriptionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "streampass",
				Subsystem: "subscription",
				Name:      "transitions_total",
				Help:      "Subscription state transitions by target state.",
			}, []string{"to"}),
			jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "streampass",
				Subsystem: "jobqueue",
				Name:      "jobs_total",
				Help:      "Background jobs by type and final outcome.",
			}, []string{"type", "outcome"}),
		}
		prometheus.MustRegister(
			reg.ledgerPostings,
			reg.purchases,
			reg.tokenIssued,
			reg.tokenValidations,
			reg.subscriptionTransitions,
			reg.jobs,
		)
	})
	return reg
}

func LedgerPosting(kind, outcome string) {
	defaultRegistry().ledgerPostings.WithLabelValues(kind, outcome).Inc()
}

func Purchase(itemType, outcome string) {
	defaultRegistry().purchases.WithLabelValues(itemType, outcome).Inc()
}

func TokenIssued(mode, outcome string) {
	defaultRegistry().tokenIssued.WithLabelValues(mode, outcome).Inc()
}

func TokenValidation(result string) {
	defaultRegistry().tokenValidations.WithLabelValues(result).Inc()
}

func SubscriptionTransition(to string) {
	defaultRegistry().subscriptionTransitions.WithLabelValues(to).Inc()
}

func Job(jobType, outcome string) {
	defaultRegistry().jobs.WithLabelValues(jobType, outcome).Inc()
}
