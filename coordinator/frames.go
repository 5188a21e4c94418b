package coordinator

import (
	"bytes"
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// FrameDelimiter terminates every streaming frame.
const FrameDelimiter byte = 0

// Response is the body of a non-streaming reply.
type Response struct {
	Response string `json:"response" jsonschema:"description=Generated text; empty when aborted"`
	Complete bool   `json:"complete" jsonschema:"description=True when generation ran to completion"`
	Aborted  bool   `json:"aborted,omitempty" jsonschema:"description=Present and true when the client disconnected before completion"`
}

// Aborted is the reply for a client that went away mid-generation.
func Aborted() *Response {
	return &Response{Response: "", Complete: false, Aborted: true}
}

// FinalFrame is the terminal frame of a stream. Partial frames are bare JSON
// strings.
type FinalFrame struct {
	Response string `json:"response" jsonschema:"description=Complete generated text"`
	Complete bool   `json:"complete" jsonschema:"const=true"`
}

// EncodePartialFrame encodes a partial chunk as a JSON string followed by
// FrameDelimiter.
func EncodePartialFrame(text string) ([]byte, error) {
	return encodeFrame(text)
}

// EncodeFinalFrame encodes the terminal frame carrying the complete text.
func EncodeFinalFrame(text string) ([]byte, error) {
	return encodeFrame(FinalFrame{Response: text, Complete: true})
}

func encodeFrame(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	b := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	return append(b, FrameDelimiter), nil
}

// ScanFrames is a bufio.SplitFunc that yields the JSON payload of each frame
// without its delimiter.
func ScanFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, FrameDelimiter); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Schemas returns JSON Schemas describing the wire formats, keyed by name.
func Schemas() map[string]*jsonschema.Schema {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	return map[string]*jsonschema.Schema{
		"response":             r.Reflect(&Response{}),
		"stream_final_frame":   r.Reflect(&FinalFrame{}),
		"stream_partial_frame": {Type: "string", Description: "Next slice of generated text; never empty"},
	}
}
