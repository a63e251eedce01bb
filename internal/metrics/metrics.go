package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "videobox"

const (
	NameSharesIssued     = "shares_issued_total"
	NameShareIssueFailed = "share_issue_failures_total"
	NameShareResolutions = "share_resolutions_total"
	NameSharesRevoked    = "shares_revoked_total"
	LabelReason          = "reason"
	LabelOutcome         = "outcome"
	OutcomeGranted       = "granted"
)

var SharesIssued = promauto.NewCounter(
	prometheus.CounterOpts{
		Name:      NameSharesIssued,
		Help:      "Share grants issued",
		Namespace: Namespace,
	},
)

var ShareIssueFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name:      NameShareIssueFailed,
		Help:      "Share issuance failures by reason",
		Namespace: Namespace,
	},
	[]string{LabelReason},
)

var ShareResolutions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name:      NameShareResolutions,
		Help:      "Share token resolutions by outcome",
		Namespace: Namespace,
	},
	[]string{LabelOutcome},
)

var SharesRevoked = promauto.NewCounter(
	prometheus.CounterOpts{
		Name:      NameSharesRevoked,
		Help:      "Share grants revoked by their owner",
		Namespace: Namespace,
	},
)

var HTTPRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route pattern, method and status",
		Namespace: Namespace,
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"route", "method", "status"},
)
