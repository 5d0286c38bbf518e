// Package metrics records what the xmlsec engines do: signatures created and
// verified, references digested, data encrypted and decrypted.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder is the port the engines report to.
type Recorder interface {
	// RecordSign records a signature computation.
	RecordSign(algorithm string, success bool, d time.Duration)
	// RecordVerify records a verification. valid is false for a signature
	// that was checked and found wrong, failed for one that could not be checked.
	RecordVerify(algorithm string, valid, failed bool, d time.Duration)
	// RecordReference records one reference digest check.
	RecordReference(digestMethod string, valid bool)
	RecordEncrypt(algorithm string, success bool)
	RecordDecrypt(algorithm string, success bool)
}

// Noop discards everything.
type Noop struct{}

func (Noop) RecordSign(string, bool, time.Duration)         {}
func (Noop) RecordVerify(string, bool, bool, time.Duration) {}
func (Noop) RecordReference(string, bool)                   {}
func (Noop) RecordEncrypt(string, bool)                     {}
func (Noop) RecordDecrypt(string, bool)                     {}

// Prometheus records to Prometheus collectors.
type Prometheus struct {
	signTotal       *prometheus.CounterVec
	verifyTotal     *prometheus.CounterVec
	referenceTotal  *prometheus.CounterVec
	encryptTotal    *prometheus.CounterVec
	decryptTotal    *prometheus.CounterVec
	operationSecond *prometheus.HistogramVec
}

// NewPrometheus registers the collectors on reg under namespace.
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	p := &Prometheus{
		signTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signatures_created_total",
			Help:      "Signatures computed, by signature method and result",
		}, []string{"algorithm", "result"}),
		verifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signatures_verified_total",
			Help:      "Signature verifications, by signature method and outcome",
		}, []string{"algorithm", "result"}),
		referenceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "references_checked_total",
			Help:      "Reference digests compared, by digest method and outcome",
		}, []string{"digest", "result"}),
		encryptTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "encryptions_total",
			Help:      "Encryptions, by encryption method and result",
		}, []string{"algorithm", "result"}),
		decryptTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decryptions_total",
			Help:      "Decryptions, by encryption method and result",
		}, []string{"algorithm", "result"}),
		operationSecond: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "signature_operation_seconds",
			Help:      "Time spent signing and verifying",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	reg.MustRegister(p.signTotal, p.verifyTotal, p.referenceTotal, p.encryptTotal, p.decryptTotal, p.operationSecond)
	return p
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (p *Prometheus) RecordSign(algorithm string, success bool, d time.Duration) {
	p.signTotal.WithLabelValues(algorithm, result(success)).Inc()
	p.operationSecond.WithLabelValues("sign").Observe(d.Seconds())
}

func (p *Prometheus) RecordVerify(algorithm string, valid, failed bool, d time.Duration) {
	outcome := "invalid"
	switch {
	case failed:
		outcome = "error"
	case valid:
		outcome = "valid"
	}
	p.verifyTotal.WithLabelValues(algorithm, outcome).Inc()
	p.operationSecond.WithLabelValues("verify").Observe(d.Seconds())
}

func (p *Prometheus) RecordReference(digestMethod string, valid bool) {
	outcome := "invalid"
	if valid {
		outcome = "valid"
	}
	p.referenceTotal.WithLabelValues(digestMethod, outcome).Inc()
}

func (p *Prometheus) RecordEncrypt(algorithm string, success bool) {
	p.encryptTotal.WithLabelValues(algorithm, result(success)).Inc()
}

func (p *Prometheus) RecordDecrypt(algorithm string, success bool) {
	p.decryptTotal.WithLabelValues(algorithm, result(success)).Inc()
}
