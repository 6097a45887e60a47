// Package protocol holds the wire messages exchanged on a session and their
// encoding.
package protocol

import (
	"fmt"

	"github.com/rallypoint/rallypoint/internal/core"
	"github.com/rallypoint/rallypoint/internal/msg"
)

// Category is the tag of the wire-level union.
type Category uint8

const (
	CategoryKeepAliveRequest Category = iota + 1
	CategoryKeepAliveResponse
	CategoryAuthenticate
	CategoryRequestAuthentication
	CategoryWrongAuthentication
	CategoryRegister
	CategoryRegistrationError
	CategoryAuthenticationSuccessful
	CategoryGameAction
	CategoryGameEvent
	CategoryUnexpectedMessage
)

var categoryNames = map[Category]string{
	CategoryKeepAliveRequest:         "KEEP_ALIVE_REQUEST",
	CategoryKeepAliveResponse:        "KEEP_ALIVE_RESPONSE",
	CategoryAuthenticate:             "AUTHENTICATE",
	CategoryRequestAuthentication:    "REQUEST_AUTHENTICATION",
	CategoryWrongAuthentication:      "WRONG_AUTHENTICATION",
	CategoryRegister:                 "REGISTER",
	CategoryRegistrationError:        "REGISTRATION_ERROR",
	CategoryAuthenticationSuccessful: "AUTHENTICATION_SUCCESSFUL",
	CategoryGameAction:               "GAME_ACTION",
	CategoryGameEvent:                "GAME_EVENT",
	CategoryUnexpectedMessage:        "UNEXPECTED_MESSAGE",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CATEGORY(%d)", uint8(c))
}

// Message is one wire message.
type Message interface {
	Category() Category
}

// Credentials accompany a registered identity.
type Credentials struct {
	Password string `json:"password"`
}

type KeepAliveRequest struct{}

type KeepAliveResponse struct{}

// The heartbeat messages carry nothing, so a single instance of each is shared.
var (
	KeepAliveRequestMessage  = &KeepAliveRequest{}
	KeepAliveResponseMessage = &KeepAliveResponse{}
)

// Authenticate binds a session to an identity. Auth is nil for anonymous
// identities, which may present the ConnectionID of a previous session to
// resume it.
type Authenticate struct {
	ID           string       `json:"id"`
	Auth         *Credentials `json:"auth,omitempty"`
	ConnectionID uint64       `json:"connection_id,omitempty"`
}

type RequestAuthentication struct {
	Registration core.RegistrationType `json:"registration"`
}

type WrongAuthentication struct {
	Reason string `json:"reason"`
}

type Register struct {
	ID   string      `json:"id"`
	Auth Credentials `json:"auth"`
}

type RegistrationError struct {
	Reason string `json:"reason"`
}

// AuthenticationSuccessful completes the handshake. A zero ConnectionID means
// the identity is registered and there is nothing to resume with. Resumed is
// set when the session was bound to the existing record of the identity; a
// fresh record means everything held by an earlier one is gone.
type AuthenticationSuccessful struct {
	ConnectionID uint64 `json:"connection_id,omitempty"`
	Resumed      bool   `json:"resumed,omitempty"`
}

type GameAction struct {
	Action msg.Action
}

type GameEvent struct {
	Event msg.Event
}

// UnexpectedMessage answers a message its receiver has no use for.
type UnexpectedMessage struct {
	Received Category `json:"received"`
}

func (*KeepAliveRequest) Category() Category         { return CategoryKeepAliveRequest }
func (*KeepAliveResponse) Category() Category        { return CategoryKeepAliveResponse }
func (*Authenticate) Category() Category             { return CategoryAuthenticate }
func (*RequestAuthentication) Category() Category    { return CategoryRequestAuthentication }
func (*WrongAuthentication) Category() Category      { return CategoryWrongAuthentication }
func (*Register) Category() Category                 { return CategoryRegister }
func (*RegistrationError) Category() Category        { return CategoryRegistrationError }
func (*AuthenticationSuccessful) Category() Category { return CategoryAuthenticationSuccessful }
func (*GameAction) Category() Category               { return CategoryGameAction }
func (*GameEvent) Category() Category                { return CategoryGameEvent }
func (*UnexpectedMessage) Category() Category        { return CategoryUnexpectedMessage }
