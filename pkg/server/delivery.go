package server

import (
	"bytes"
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/quasi-board/quasi-board/pkg/signature"
)

// deliveryRetrySchedule is the fixed backoff ladder for outbound inbox
// deliveries: 1s, 5s, 25s, 2min, 10min, then give up.
var deliveryRetrySchedule = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	25 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
}

// deliveryJob is a single queued Activity delivery to one follower inbox.
type deliveryJob struct {
	inbox   string
	body    []byte
	attempt int
}

// Delivery fans outbound Activity deliveries out to per-follower FIFO
// queues, retrying on the fixed backoff ladder and dropping permanently on
// any 4xx response other than 429. One queue per destination inbox, rather
// than a single shared retry loop, so one slow follower can't block
// another.
type Delivery struct {
	mu      sync.Mutex
	queues  map[string]chan deliveryJob
	client  *http.Client
	signer  signature.Signer
	host    string
	logger  *log.Logger
	metrics *Metrics
}

// NewDelivery constructs a Delivery dispatcher. signer signs each outbound
// POST with HTTP Message Signatures; the signed host is the destination
// inbox's host, the same value the request's Host header carries. host is
// stored on the Delivery but is neither sent nor signed.
func NewDelivery(client *http.Client, signer signature.Signer, host string, metrics *Metrics) *Delivery {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Delivery{
		queues:  make(map[string]chan deliveryJob),
		client:  client,
		signer:  signer,
		host:    host,
		logger:  log.New(log.Writer(), "[Delivery] ", log.LstdFlags),
		metrics: metrics,
	}
}

// Enqueue schedules body for delivery to inbox, starting a worker goroutine
// for that inbox on first use.
func (d *Delivery) Enqueue(inbox string, body []byte) {
	d.mu.Lock()
	q, ok := d.queues[inbox]
	if !ok {
		q = make(chan deliveryJob, 64)
		d.queues[inbox] = q
		go d.worker(inbox, q)
	}
	d.mu.Unlock()

	q <- deliveryJob{inbox: inbox, body: body}
}

func (d *Delivery) worker(inbox string, q chan deliveryJob) {
	for job := range q {
		d.deliver(job)
	}
}

// deliver retries job in place on its inbox's worker, so later jobs for the
// same inbox wait behind it and per-inbox FIFO order is kept.
func (d *Delivery) deliver(job deliveryJob) {
	for {
		status, err := d.attempt(job)
		if err == nil && status < 300 {
			return
		}

		permanent := status >= 400 && status < 500 && status != http.StatusTooManyRequests
		if permanent {
			d.logger.Printf("inbox %s returned %d, dropping delivery permanently", job.inbox, status)
			if d.metrics != nil {
				d.metrics.DeliveryDropped.Inc()
			}
			return
		}

		if job.attempt >= len(deliveryRetrySchedule) {
			d.logger.Printf("inbox %s: delivery exhausted %d attempts, giving up", job.inbox, job.attempt)
			if d.metrics != nil {
				d.metrics.DeliveryDropped.Inc()
			}
			return
		}

		delay := deliveryRetrySchedule[job.attempt]
		job.attempt++
		if d.metrics != nil {
			d.metrics.DeliveryRetries.Inc()
		}
		time.Sleep(delay)
	}
}

func (d *Delivery) attempt(job deliveryJob) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.inbox, bytes.NewReader(job.body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/activity+json")

	headers, err := d.signer.Sign(http.MethodPost, req.URL.RequestURI(), req.URL.Host, job.body, time.Now())
	if err != nil {
		return 0, err
	}
	req.Header.Set("Signature", headers.Signature)
	req.Header.Set("Date", headers.Date)
	req.Header.Set("Digest", headers.Digest)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
