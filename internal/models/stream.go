package models

// Media stream event names.
const (
	StreamEventConnected = "connected"
	StreamEventStart     = "start"
	StreamEventMedia     = "media"
	StreamEventStop      = "stop"
	StreamEventMark      = "mark"
	StreamEventDTMF      = "dtmf"
)

// StreamMessage is one inbound media stream message. Only the block that
// matches Event is set.
type StreamMessage struct {
	Event          string       `json:"event"`
	SequenceNumber string       `json:"sequenceNumber,omitempty"`
	StreamSid      string       `json:"streamSid,omitempty"`
	Start          *StreamStart `json:"start,omitempty"`
	Media          *StreamMedia `json:"media,omitempty"`
	Stop           *StreamStop  `json:"stop,omitempty"`
	Mark           *StreamMark  `json:"mark,omitempty"`
	DTMF           *StreamDTMF  `json:"dtmf,omitempty"`
}

type StreamStart struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	AccountSid       string            `json:"accountSid,omitempty"`
	Tracks           []string          `json:"tracks,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
	MediaFormat      *MediaFormat      `json:"mediaFormat,omitempty"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type StreamMedia struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type StreamStop struct {
	AccountSid string `json:"accountSid,omitempty"`
	CallSid    string `json:"callSid,omitempty"`
}

type StreamMark struct {
	Name string `json:"name"`
}

type StreamDTMF struct {
	Track string `json:"track,omitempty"`
	Digit string `json:"digit"`
}

// EchoMessage is the outbound media message sent back for every inbound frame.
type EchoMessage struct {
	Event     string      `json:"event"`
	StreamSid string      `json:"streamSid,omitempty"`
	Media     EchoPayload `json:"media"`
}

type EchoPayload struct {
	Payload string `json:"payload"`
}

// NewEcho returns the echo for an inbound payload.
func NewEcho(streamSid, payload string) EchoMessage {
	return EchoMessage{
		Event:     StreamEventMedia,
		StreamSid: streamSid,
		Media:     EchoPayload{Payload: payload},
	}
}
