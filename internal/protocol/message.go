// Package protocol defines the messages exchanged between the host and its
// execution frames.
//
// Every message is a JSON object tagged with the sender's source tag and run
// token. Packets travel over plain Go channels, paired with the origin of the
// endpoint that sent them, so either side can reject traffic it does not
// expect before decoding anything else.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/joeycumines/liveeval/internal/instrument"
)

// Source tags.
const (
	SourceGuest = "liveeval-guest"
	SourceHost  = "liveeval-host"
)

// NoToken is the token carried by ready announcements, sent before a frame
// has been assigned a run.
const NoToken = -1

// Type identifies a message.
type Type string

// Guest to host.
const (
	TypeReady          Type = "ready"
	TypeRepl           Type = "repl"
	TypeScriptComplete Type = "script-complete"
	TypeBodyMutation   Type = "body-mutation"
)

// Host to guest. TypeRepl is also used to start a run.
const (
	TypeReadyAck    Type = "ready-ack"
	TypeUpdateTheme Type = "update-theme"
)

// ErrRejected is returned by Receive for packets that fail validation.
var ErrRejected = errors.New("protocol: message rejected")

// Message is the wire envelope. Which optional fields are set depends on Type.
type Message struct {
	Source string `json:"source"`
	Token  int    `json:"token"`
	Type   Type   `json:"type"`

	// Payload is set on guest repl messages.
	Payload *Payload `json:"payload,omitempty"`
	// Document is set on host repl messages.
	Document *Document `json:"document,omitempty"`
	// Theme is set on update-theme messages.
	Theme string `json:"theme,omitempty"`
	// HTML is the serialized body, set on body-mutation messages.
	HTML string `json:"html,omitempty"`
}

// Document is a built program, ready to run in a frame.
type Document struct {
	// File is the name the code is compiled under; stack positions refer to it.
	File      string `json:"file"`
	Code      string `json:"code"`
	SourceMap string `json:"sourceMap,omitempty"`
	// Contexts are the capture sites of every file in the build.
	Contexts []instrument.CaptureContext `json:"contexts,omitempty"`
}

// Packet is one encoded message plus the origin of the endpoint that sent it.
type Packet struct {
	Origin string
	Data   []byte
}

// Encode serializes m.
func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.Type, err)
	}
	return b, nil
}

// Decode parses a message. It does not validate it.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return m, nil
}

// Validate checks that m carries the expected source tag and a known type.
func Validate(m Message, source string) error {
	if m.Source != source {
		return fmt.Errorf("%w: source %q", ErrRejected, m.Source)
	}
	switch m.Type {
	case TypeReady, TypeScriptComplete, TypeBodyMutation, TypeReadyAck:
	case TypeRepl:
		if source == SourceGuest && m.Payload == nil {
			return fmt.Errorf("%w: repl without payload", ErrRejected)
		}
		if source == SourceHost && m.Document == nil {
			return fmt.Errorf("%w: repl without document", ErrRejected)
		}
	case TypeUpdateTheme:
		if source != SourceHost {
			return fmt.Errorf("%w: %s from guest", ErrRejected, m.Type)
		}
	default:
		return fmt.Errorf("%w: type %q", ErrRejected, m.Type)
	}
	return nil
}

// Receive accepts p only if it comes from one of origins and decodes to a
// valid message with the given source tag.
func Receive(p Packet, source string, origins ...string) (Message, error) {
	if !slices.Contains(origins, p.Origin) {
		return Message{}, fmt.Errorf("%w: origin %q", ErrRejected, p.Origin)
	}
	m, err := Decode(p.Data)
	if err != nil {
		return Message{}, err
	}
	if err := Validate(m, source); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Endpoint sends messages on behalf of one side of a channel.
type Endpoint struct {
	Origin string
	Source string
	// Deliver hands an encoded packet to the other side.
	Deliver func(Packet)
	Logger  *slog.Logger
}

// Post stamps m with the endpoint's source tag, encodes it and delivers it.
// A message that cannot be encoded is logged and dropped; Post reports
// whether it was delivered.
func (e *Endpoint) Post(m Message) bool {
	m.Source = e.Source
	data, err := Encode(m)
	if err != nil {
		if e.Logger != nil {
			e.Logger.Warn("dropping message", "origin", e.Origin, "type", m.Type, "token", m.Token, "error", err)
		}
		return false
	}
	e.Deliver(Packet{Origin: e.Origin, Data: data})
	return true
}
