package stats

import (
	"time"

	"github.com/ValentinKolb/mcmw/lib/protocol"
)

// Nop is a Recorder that drops everything
type Nop struct{}

func (Nop) Record(Sample) {}
func (Nop) ClientArrival(string, time.Time) {}
func (Nop) ClientReplied(string, time.Time) {}
func (Nop) ClientClosed(string) {}
func (Nop) BackendReply(string, protocol.ResponseKind) {}
func (Nop) Flush(int) error { return nil }
