package protocol

// --------------------------------------------------------------------------
// Response grammar
// --------------------------------------------------------------------------
//
//	STORED\r\n
//	ERROR\r\n
//	SERVER_ERROR <message>\r\n
//	CLIENT_ERROR <message>\r\n
//	(VALUE <key> <flags> <bytes> [<cas>]\r\n<data>\r\n)* END\r\n
//
// Keywords are matched against literals. The state carries the literal being
// matched and the index of the next expected byte. Keywords sharing a first
// letter (STORED/SERVER_ERROR, ERROR/END) go through a one byte lookahead
// phase before a literal is chosen.

type respPhase uint8

const (
	respInitial respPhase = iota
	respS                 // STORED or SERVER_ERROR
	respE                 // ERROR or END
	respLiteral           // matching lit
	respMessage           // error message text
	respMessageLF
	respValueKey
	respValueBeforeFlags
	respValueFlags
	respValueBeforeBytes
	respValueBytes
	respValueAfterBytes
	respValueCas
	respValueLF
	respValueData // length driven, consumed in bulk by the parser
	respValueDataCR
	respValueDataLF
	respValueMore // another VALUE or the END line
	respInvalid
	respDone
)

var respPhaseNames = [...]string{
	respInitial:          "Initial",
	respS:                "S",
	respE:                "E",
	respLiteral:          "Literal",
	respMessage:          "Message",
	respMessageLF:        "MessageLF",
	respValueKey:         "ValueKey",
	respValueBeforeFlags: "ValueBeforeFlags",
	respValueFlags:       "ValueFlags",
	respValueBeforeBytes: "ValueBeforeBytes",
	respValueBytes:       "ValueBytes",
	respValueAfterBytes:  "ValueAfterBytes",
	respValueCas:         "ValueCas",
	respValueLF:          "ValueLF",
	respValueData:        "ValueData",
	respValueDataCR:      "ValueDataCR",
	respValueDataLF:      "ValueDataLF",
	respValueMore:        "ValueMore",
	respInvalid:          "Invalid",
	respDone:             "Done",
}

// literal identifies a keyword of the reply grammar
type literal uint8

const (
	litNone literal = iota
	litStored
	litError
	litEnd
	litServerError
	litClientError
	litValue
)

var literals = [...]string{
	litStored:      "STORED\r\n",
	litError:       "ERROR\r\n",
	litEnd:         "END\r\n",
	litServerError: "SERVER_ERROR ",
	litClientError: "CLIENT_ERROR ",
	litValue:       "VALUE ",
}

// respState is the state of the reply grammar
type respState struct {
	phase respPhase
	lit   literal
	idx   uint8
}

func (s respState) String() string {
	name := "Unknown"
	if int(s.phase) < len(respPhaseNames) {
		name = respPhaseNames[s.phase]
	}
	if s.phase == respLiteral {
		return name + "(" + literals[s.lit][:s.idx] + ")"
	}
	return name
}

// respAction tells the parser what to do with the byte that caused a transition
type respAction uint8

const (
	respNone         respAction = iota
	respMarkLimit               // an END line may start at this byte
	respServerErrKw             // SERVER_ERROR keyword complete
	respClientErrKw             // CLIENT_ERROR keyword complete
	respMessageEnd              // the message text ended before this byte
	respDigit                   // accumulate this byte into the data length
	respDataBegin               // the VALUE line is complete, the data block follows
	respValueDone               // a VALUE entry is complete
	respStored                  // STORED complete
	respError                   // ERROR complete
	respEnd                     // END complete
	respMessageDone             // SERVER_ERROR or CLIENT_ERROR complete
	respReject                  // grammar violation, the stream is lost
)

func state(p respPhase) respState {
	return respState{phase: p}
}

// matching returns the state after the first n bytes of lit have been read
func matching(lit literal, n uint8) respState {
	return respState{phase: respLiteral, lit: lit, idx: n}
}

// rejectResponse is the transition for an unexpected byte. Reply lines cannot
// be skipped safely, inside a value block any line may be data.
func rejectResponse(byte) (respState, respAction) {
	return state(respInvalid), respReject
}

// valueToken handles the bytes of a VALUE line argument
func valueToken(b byte, self, after respPhase) (respState, respAction) {
	switch b {
	case ' ':
		return state(after), respNone
	case '\r', '\n':
		return rejectResponse(b)
	}
	return state(self), respNone
}

// valueGap handles the spaces before a VALUE line argument
func valueGap(b byte, self, next respPhase) (respState, respAction) {
	switch b {
	case ' ':
		return state(self), respNone
	case '\r', '\n':
		return rejectResponse(b)
	}
	return state(next), respNone
}

// completeLiteral is the action for the last byte of lit
func completeLiteral(lit literal) (respState, respAction) {
	switch lit {
	case litStored:
		return state(respDone), respStored
	case litError:
		return state(respDone), respError
	case litEnd:
		return state(respDone), respEnd
	case litServerError:
		return state(respMessage), respServerErrKw
	case litClientError:
		return state(respMessage), respClientErrKw
	default:
		return state(respValueKey), respNone
	}
}

// stepResponse is the transition function of the reply grammar
func stepResponse(s respState, b byte) (respState, respAction) {
	switch s.phase {
	case respInitial:
		switch b {
		case 'S':
			return state(respS), respNone
		case 'E':
			return state(respE), respMarkLimit
		case 'C':
			return matching(litClientError, 1), respNone
		case 'V':
			return matching(litValue, 1), respNone
		}
	case respS:
		switch b {
		case 'T':
			return matching(litStored, 2), respNone
		case 'E':
			return matching(litServerError, 2), respNone
		}
	case respE:
		switch b {
		case 'R':
			return matching(litError, 2), respNone
		case 'N':
			return matching(litEnd, 2), respNone
		}
	case respLiteral:
		text := literals[s.lit]
		if b == text[s.idx] {
			if int(s.idx)+1 == len(text) {
				return completeLiteral(s.lit)
			}
			return matching(s.lit, s.idx+1), respNone
		}

	// error message text
	case respMessage:
		switch b {
		case '\r':
			return state(respMessageLF), respMessageEnd
		case '\n':
			return rejectResponse(b)
		}
		return state(respMessage), respNone
	case respMessageLF:
		if b == '\n' {
			return state(respDone), respMessageDone
		}

	// VALUE line
	case respValueKey:
		return valueToken(b, respValueKey, respValueBeforeFlags)
	case respValueBeforeFlags:
		return valueGap(b, respValueBeforeFlags, respValueFlags)
	case respValueFlags:
		return valueToken(b, respValueFlags, respValueBeforeBytes)
	case respValueBeforeBytes:
		switch {
		case b == ' ':
			return state(respValueBeforeBytes), respNone
		case isDigit(b):
			return state(respValueBytes), respDigit
		}
	case respValueBytes:
		switch {
		case isDigit(b):
			return state(respValueBytes), respDigit
		case b == ' ':
			return state(respValueAfterBytes), respNone
		case b == '\r':
			return state(respValueLF), respNone
		}
	case respValueAfterBytes:
		switch b {
		case ' ':
			return state(respValueAfterBytes), respNone
		case '\r':
			return state(respValueLF), respNone
		case '\n':
			return rejectResponse(b)
		}
		return state(respValueCas), respNone
	case respValueCas:
		switch b {
		case ' ':
			return state(respValueAfterBytes), respNone
		case '\r':
			return state(respValueLF), respNone
		case '\n':
			return rejectResponse(b)
		}
		return state(respValueCas), respNone
	case respValueLF:
		if b == '\n' {
			return state(respValueData), respDataBegin
		}

	// value data block
	case respValueData:
		return state(respValueData), respNone
	case respValueDataCR:
		if b == '\r' {
			return state(respValueDataLF), respNone
		}
	case respValueDataLF:
		if b == '\n' {
			return state(respValueMore), respValueDone
		}
	case respValueMore:
		switch b {
		case 'E':
			return matching(litEnd, 1), respMarkLimit
		case 'V':
			return matching(litValue, 1), respNone
		}
	}

	return rejectResponse(b)
}
