package coap

const (
	SniffWrite = "write"
	SniffRead  = "read"
)

// SniffPacketsCallback observes every message crossing a transport, after
// decode on the way in and before encode on the way out.
type SniffPacketsCallback func(transportType string, op string, from string, to string, msg *Message)

var sniffActivityCallback SniffPacketsCallback

func SetSniffPacketsCallback(callback SniffPacketsCallback) {
	sniffActivityCallback = callback
}

func sniffActivity(transportType string, op string, from string, to string, msg *Message) {
	if sniffActivityCallback != nil {
		go sniffActivityCallback(transportType, op, from, to, msg)
	}
}
