// Package protocol implements the incremental parsers for the memcached text
// protocol as it is spoken between cache clients, the proxy and the backend
// cache servers.
//
// Both parsers read straight from a socket into a growable pooled buffer and
// never copy a payload out of it. A completed message is returned as a
// *Request or *Response value that references a window of the parser's
// buffer. From that moment on the parser is blocked: further reads are
// refused until the owner of the message calls Release, which hands the
// buffer back to the parser so that the next message can be parsed.
//
// Key Components:
//
//   - ByteCursor: growable byte buffer with a message start, a parse position
//     and a fill mark. It compacts and grows transparently, unread bytes are
//     never lost.
//
//   - RequestParser: recognizes client commands
//     (set <key> <flags> <exptime> <bytes> [noreply], get <key>*, gets <key>*).
//     Fetch keys are recorded as (offset, length) descriptors into the
//     message window, so a multi-key fetch can be split into shards without
//     copying the keys.
//
//   - ResponseParser: recognizes backend replies (STORED, ERROR,
//     SERVER_ERROR <msg>, CLIENT_ERROR <msg>, VALUE blocks terminated by END).
//     For value blocks the offset of the END line is recorded, so a merger
//     can drop the terminator of every block except the last one.
//
// The grammar of both parsers is written down as pure transition functions
// (stepRequest and stepResponse) that map a state and an input byte to the
// next state and an action. The parsers execute the actions against their
// buffer. Data blocks are length driven and are skipped in bulk instead of
// byte by byte.
//
// A client command that violates the grammar, or whose command line exceeds
// ParserConfig.MaxLineLength, is logged and dropped up to the next line feed.
// Dropped bytes are not buffered and the parser stays usable. A backend reply
// that violates the grammar cannot be skipped, since inside a value block any
// line may be data. The ResponseParser stops and reports ErrMalformedReply
// until it is Reset.
package protocol
