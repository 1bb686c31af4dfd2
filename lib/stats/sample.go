package stats

import (
	"time"

	"github.com/ValentinKolb/mcmw/lib/protocol"
)

// Class separates fetch and store traffic in all statistics
type Class uint8

const (
	ClassGet Class = iota
	ClassSet
)

var classes = [...]Class{ClassGet, ClassSet}

func (c Class) String() string {
	if c == ClassSet {
		return "set"
	}
	return "get"
}

// ClassOf returns the statistics class of a request kind
func ClassOf(kind protocol.RequestKind) Class {
	if kind == protocol.KindStore {
		return ClassSet
	}
	return ClassGet
}

// Sample is the record of one processed (or abandoned) request
type Sample struct {
	Worker    int
	Class     Class
	Client    string
	Keys      int
	Misses    int
	Abandoned bool

	ArrivedAt    time.Time
	EnqueuedAt   time.Time
	DequeuedAt   time.Time
	RespondedAt  time.Time
	EnqueueDepth int
	DequeueDepth int

	// per backend, zero where the backend was not involved
	BackendSent     []time.Time
	BackendReceived []time.Time
}

// SampleOf copies the instrumentation fields of req
func SampleOf(worker int, req *protocol.Request) Sample {
	s := Sample{
		Worker:       worker,
		Class:        ClassOf(req.Kind),
		Keys:         req.KeyCount,
		Misses:       max(req.MissCount, 0),
		ArrivedAt:    req.ArrivedAt,
		EnqueuedAt:   req.EnqueuedAt,
		DequeuedAt:   req.DequeuedAt,
		EnqueueDepth: req.EnqueueDepth,
		DequeueDepth: req.DequeueDepth,
	}
	if req.Submitter != nil {
		s.Client = req.Submitter.Name()
	}
	if req.Kind == protocol.KindStore {
		s.Misses = 0
	}
	s.BackendSent = append([]time.Time(nil), req.SentAt...)
	s.BackendReceived = append([]time.Time(nil), req.ReceivedAt...)
	return s
}

// ResponseTime is the time from the first request byte to the last reply byte
func (s Sample) ResponseTime() time.Duration {
	return since(s.ArrivedAt, s.RespondedAt)
}

// QueueTime is the time the request spent in the request queue
func (s Sample) QueueTime() time.Duration {
	return since(s.EnqueuedAt, s.DequeuedAt)
}

// ServiceTime is the longest time a backend took to answer
func (s Sample) ServiceTime() time.Duration {
	var longest time.Duration
	for i := range s.BackendSent {
		if i >= len(s.BackendReceived) {
			break
		}
		longest = max(longest, since(s.BackendSent[i], s.BackendReceived[i]))
	}
	return longest
}

func since(from, to time.Time) time.Duration {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return 0
	}
	return to.Sub(from)
}
