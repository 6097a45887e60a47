package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/rallypoint/rallypoint/internal/msg"
)

// Envelope field numbers.
const (
	fieldCategory protowire.Number = 1
	fieldPayload  protowire.Number = 2
)

var (
	ErrUnknownCategory = errors.New("unknown message category")
	ErrMalformed       = errors.New("malformed message")
)

// Codec encodes messages as a protobuf envelope holding the category and a
// JSON payload. Action and event payloads are wrapped as
// {"type": <catalog name>, "body": {...}} so they can be decoded into their
// registered type without trusting the kind tag inside the body.
type Codec struct {
	catalog *msg.Catalog
}

func NewCodec(catalog *msg.Catalog) *Codec {
	return &Codec{catalog: catalog}
}

type typedPayload struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

func (c *Codec) Marshal(m Message) ([]byte, error) {
	payload, err := c.marshalPayload(m)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", m.Category(), err)
	}

	b := protowire.AppendTag(nil, fieldCategory, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Category()))
	if len(payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, payload)
	}
	return b, nil
}

func (c *Codec) marshalPayload(m Message) ([]byte, error) {
	switch m := m.(type) {
	case *KeepAliveRequest, *KeepAliveResponse:
		return nil, nil
	case *GameAction:
		return c.marshalTyped(m.Action)
	case *GameEvent:
		return c.marshalTyped(m.Event)
	default:
		return json.Marshal(m)
	}
}

func (c *Codec) marshalTyped(v any) ([]byte, error) {
	name, err := c.catalog.NameOf(v)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(typedPayload{Type: name, Body: body})
}

func (c *Codec) Unmarshal(b []byte) (Message, error) {
	var (
		category Category
		payload  []byte
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldCategory && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			category = Category(v)
			b = b[n:]
		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			payload = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	return c.unmarshalPayload(category, payload)
}

func (c *Codec) unmarshalPayload(category Category, payload []byte) (Message, error) {
	var m Message
	switch category {
	case CategoryKeepAliveRequest:
		return KeepAliveRequestMessage, nil
	case CategoryKeepAliveResponse:
		return KeepAliveResponseMessage, nil
	case CategoryGameAction:
		v, err := c.unmarshalTyped(payload)
		if err != nil {
			return nil, err
		}
		a, ok := v.(msg.Action)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not an action", ErrMalformed, v)
		}
		return &GameAction{Action: a}, nil
	case CategoryGameEvent:
		v, err := c.unmarshalTyped(payload)
		if err != nil {
			return nil, err
		}
		e, ok := v.(msg.Event)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not an event", ErrMalformed, v)
		}
		return &GameEvent{Event: e}, nil
	case CategoryAuthenticate:
		m = &Authenticate{}
	case CategoryRequestAuthentication:
		m = &RequestAuthentication{}
	case CategoryWrongAuthentication:
		m = &WrongAuthentication{}
	case CategoryRegister:
		m = &Register{}
	case CategoryRegistrationError:
		m = &RegistrationError{}
	case CategoryAuthenticationSuccessful:
		m = &AuthenticationSuccessful{}
	case CategoryUnexpectedMessage:
		m = &UnexpectedMessage{}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCategory, category)
	}

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, m); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, category, err)
		}
	}
	return m, nil
}

// unmarshalTyped peeks at the declared payload type before decoding the body
// into it.
func (c *Codec) unmarshalTyped(payload []byte) (any, error) {
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("%w: invalid JSON payload", ErrMalformed)
	}
	typ := gjson.GetBytes(payload, "type")
	body := gjson.GetBytes(payload, "body")
	if typ.Type != gjson.String || !body.IsObject() {
		return nil, fmt.Errorf("%w: payload needs a type name and an object body", ErrMalformed)
	}

	v, err := c.catalog.New(typ.String())
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(body.Raw), v); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, typ.String(), err)
	}
	return v, nil
}
