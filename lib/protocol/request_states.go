package protocol

// --------------------------------------------------------------------------
// Request grammar
// --------------------------------------------------------------------------
//
//	set <key> <flags> <exptime> <bytes> [noreply]\r\n<data>\r\n
//	get <key>*\r\n
//	gets <key>*\r\n
//
// Arguments are separated by one or more spaces.

type reqState uint8

const (
	reqInitial reqState = iota
	reqS                // "s"
	reqSe               // "se"
	reqSet              // "set"
	reqSetBeforeKey
	reqSetKey
	reqSetBeforeFlags
	reqSetFlags
	reqSetBeforeExptime
	reqSetExptime
	reqSetBeforeBytes
	reqSetBytes
	reqSetAfterBytes
	reqSetOption
	reqSetLF
	reqSetData // length driven, consumed in bulk by the parser
	reqSetDataCR
	reqSetDataLF
	reqG   // "g"
	reqGe  // "ge"
	reqGet // "get"
	reqGets
	reqFetchSpace
	reqFetchKey
	reqFetchLF
	reqInvalid
	reqDone
)

var reqStateNames = [...]string{
	reqInitial:          "Initial",
	reqS:                "S",
	reqSe:               "Se",
	reqSet:              "Set",
	reqSetBeforeKey:     "SetBeforeKey",
	reqSetKey:           "SetKey",
	reqSetBeforeFlags:   "SetBeforeFlags",
	reqSetFlags:         "SetFlags",
	reqSetBeforeExptime: "SetBeforeExptime",
	reqSetExptime:       "SetExptime",
	reqSetBeforeBytes:   "SetBeforeBytes",
	reqSetBytes:         "SetBytes",
	reqSetAfterBytes:    "SetAfterBytes",
	reqSetOption:        "SetOption",
	reqSetLF:            "SetLF",
	reqSetData:          "SetData",
	reqSetDataCR:        "SetDataCR",
	reqSetDataLF:        "SetDataLF",
	reqG:                "G",
	reqGe:               "Ge",
	reqGet:              "Get",
	reqGets:             "Gets",
	reqFetchSpace:       "FetchSpace",
	reqFetchKey:         "FetchKey",
	reqFetchLF:          "FetchLF",
	reqInvalid:          "Invalid",
	reqDone:             "Done",
}

func (s reqState) String() string {
	if int(s) < len(reqStateNames) {
		return reqStateNames[s]
	}
	return "Unknown"
}

// commandLine reports whether s is inside the command line of a message
func (s reqState) commandLine() bool {
	switch s {
	case reqInitial, reqSetData, reqSetDataCR, reqSetDataLF, reqInvalid, reqDone:
		return false
	}
	return true
}

// reqAction tells the parser what to do with the byte that caused a transition
type reqAction uint8

const (
	reqNone       reqAction = iota
	reqStore                // command is a store
	reqFetch                // command is a get
	reqFetchCas             // command is a gets
	reqTokenStart           // a key or option token starts at this byte
	reqKeyEnd               // a key token ended before this byte
	reqOptionEnd            // an option token ended before this byte
	reqDigit                // accumulate this byte into the data length
	reqDataBegin            // the command line is complete, the data block follows
	reqComplete             // this byte completes the message
	reqReject               // grammar violation, skip to the end of the line
	reqDiscard              // this byte ends a skipped line
)

// reject is the transition for an unexpected byte. A line feed ends the bad
// line right away, anything else skips ahead to the next one.
func reject(b byte) (reqState, reqAction) {
	if b == '\n' {
		return reqInitial, reqDiscard
	}
	return reqInvalid, reqReject
}

// token handles the bytes of a space delimited argument that is not tracked
func token(b byte, self, after reqState) (reqState, reqAction) {
	switch b {
	case ' ':
		return after, reqNone
	case '\r', '\n':
		return reject(b)
	default:
		return self, reqNone
	}
}

// spaces handles the gap before an argument that must be present
func spaces(b byte, self, next reqState, start reqAction) (reqState, reqAction) {
	switch b {
	case ' ':
		return self, reqNone
	case '\r', '\n':
		return reject(b)
	default:
		return next, start
	}
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// stepRequest is the transition function of the request grammar
func stepRequest(s reqState, b byte) (reqState, reqAction) {
	switch s {
	case reqInitial:
		switch b {
		case 's':
			return reqS, reqNone
		case 'g':
			return reqG, reqNone
		}

	// store command line
	case reqS:
		if b == 'e' {
			return reqSe, reqNone
		}
	case reqSe:
		if b == 't' {
			return reqSet, reqStore
		}
	case reqSet:
		if b == ' ' {
			return reqSetBeforeKey, reqNone
		}
	case reqSetBeforeKey:
		return spaces(b, reqSetBeforeKey, reqSetKey, reqTokenStart)
	case reqSetKey:
		switch b {
		case ' ':
			return reqSetBeforeFlags, reqKeyEnd
		case '\r', '\n':
			return reject(b)
		}
		return reqSetKey, reqNone
	case reqSetBeforeFlags:
		return spaces(b, reqSetBeforeFlags, reqSetFlags, reqNone)
	case reqSetFlags:
		return token(b, reqSetFlags, reqSetBeforeExptime)
	case reqSetBeforeExptime:
		return spaces(b, reqSetBeforeExptime, reqSetExptime, reqNone)
	case reqSetExptime:
		return token(b, reqSetExptime, reqSetBeforeBytes)
	case reqSetBeforeBytes:
		switch {
		case b == ' ':
			return reqSetBeforeBytes, reqNone
		case isDigit(b):
			return reqSetBytes, reqDigit
		}
	case reqSetBytes:
		switch {
		case isDigit(b):
			return reqSetBytes, reqDigit
		case b == ' ':
			return reqSetAfterBytes, reqNone
		case b == '\r':
			return reqSetLF, reqNone
		}
	case reqSetAfterBytes:
		switch b {
		case ' ':
			return reqSetAfterBytes, reqNone
		case '\r':
			return reqSetLF, reqNone
		case '\n':
			return reject(b)
		}
		return reqSetOption, reqTokenStart
	case reqSetOption:
		switch b {
		case ' ':
			return reqSetAfterBytes, reqOptionEnd
		case '\r':
			return reqSetLF, reqOptionEnd
		case '\n':
			return reject(b)
		}
		return reqSetOption, reqNone
	case reqSetLF:
		if b == '\n' {
			return reqSetData, reqDataBegin
		}

	// store data block
	case reqSetData:
		return reqSetData, reqNone
	case reqSetDataCR:
		if b == '\r' {
			return reqSetDataLF, reqNone
		}
	case reqSetDataLF:
		if b == '\n' {
			return reqDone, reqComplete
		}

	// fetch command line
	case reqG:
		if b == 'e' {
			return reqGe, reqNone
		}
	case reqGe:
		if b == 't' {
			return reqGet, reqFetch
		}
	case reqGet:
		switch b {
		case 's':
			return reqGets, reqFetchCas
		case ' ':
			return reqFetchSpace, reqNone
		case '\r':
			return reqFetchLF, reqNone
		}
	case reqGets, reqFetchSpace:
		switch b {
		case ' ':
			return reqFetchSpace, reqNone
		case '\r':
			return reqFetchLF, reqNone
		case '\n':
			return reject(b)
		}
		if s == reqFetchSpace {
			return reqFetchKey, reqTokenStart
		}
	case reqFetchKey:
		switch b {
		case ' ':
			return reqFetchSpace, reqKeyEnd
		case '\r':
			return reqFetchLF, reqKeyEnd
		case '\n':
			return reject(b)
		}
		return reqFetchKey, reqNone
	case reqFetchLF:
		if b == '\n' {
			return reqDone, reqComplete
		}

	case reqInvalid:
		if b == '\n' {
			return reqInitial, reqDiscard
		}
		return reqInvalid, reqNone
	}

	return reject(b)
}
