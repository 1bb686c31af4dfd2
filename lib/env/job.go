package env

import "github.com/ValentinKolb/mcmw/lib/protocol"

// Job is a parsed request on its way from the dispatcher to a worker
type Job struct {
	Request *protocol.Request
	Client  *Client
	// Ticket is the position of the reply in the client's reply order
	Ticket uint64
}

// Abandon releases the request buffer and gives up the reply slot of the job
// without writing anything to the client
func (j *Job) Abandon() {
	j.Request.Release()
	j.Client.Done(j.Ticket)
}
