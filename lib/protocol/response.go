package protocol

import (
	"time"
)

// ResponseKind classifies a backend reply
type ResponseKind uint8

const (
	KindStored ResponseKind = iota + 1
	KindError
	KindClientError
	KindServerError
	KindValueBlock
)

func (k ResponseKind) String() string {
	switch k {
	case KindStored:
		return "STORED"
	case KindError:
		return "ERROR"
	case KindClientError:
		return "CLIENT_ERROR"
	case KindServerError:
		return "SERVER_ERROR"
	case KindValueBlock:
		return "VALUE"
	default:
		return "UNKNOWN"
	}
}

// IsError reports whether the reply is one of the error replies
func (k ResponseKind) IsError() bool {
	return k == KindError || k == KindClientError || k == KindServerError
}

// Response is a complete backend reply. Its bytes live in the buffer of the
// parser that produced it and stay valid until Release is called.
type Response struct {
	Kind      ResponseKind
	ArrivedAt time.Time
	// Message is the text of a SERVER_ERROR or CLIENT_ERROR reply
	Message string
	// ValueCount is the number of VALUE entries of a value block
	ValueCount int

	parser  *ResponseParser
	raw     []byte
	limit   int
	trimmed bool
}

// Bytes returns the reply bytes that are to be forwarded. For a trimmed value
// block the END line is excluded.
func (r *Response) Bytes() []byte {
	if r.trimmed {
		return r.raw[:r.limit]
	}
	return r.raw
}

// Raw returns the complete reply as received from the backend
func (r *Response) Raw() []byte {
	return r.raw
}

// Trim excludes the END line of a value block from Bytes. It has no effect on
// other replies.
func (r *Response) Trim() {
	if r.Kind == KindValueBlock {
		r.trimmed = true
	}
}

// Trimmed reports whether Trim was applied
func (r *Response) Trimmed() bool {
	return r.trimmed
}

// Release hands the reply bytes back to the parser. Calling it twice is
// harmless.
func (r *Response) Release() {
	if r.parser != nil {
		r.parser.Release()
		r.parser = nil
	}
}
