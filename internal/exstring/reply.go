package exstring

// Reply is the result of a successful command. Transports render it in
// their own wire format.
type Reply interface {
	reply()
}

type (
	// Status is a single-line status such as "OK".
	Status string
	Int    int64
	// Bulk is a binary-safe string.
	Bulk  []byte
	Null  struct{}
	Array []Reply
)

func (Status) reply() {}
func (Int) reply()    {}
func (Bulk) reply()   {}
func (Null) reply()   {}
func (Array) reply()  {}

var replyOK = Status("OK")
