package entity

import (
	"encoding/json"
	"fmt"
)

// BodyKind names a body variant on the wire
type BodyKind string

const (
	BodyKindText     BodyKind = "text"
	BodyKindImage    BodyKind = "image"
	BodyKindTemplate BodyKind = "template"
	BodyKindNote     BodyKind = "note"
)

// Body is the sealed set of message payloads. Exactly one of
// TextBody, ImageBody, TemplateBody, NoteBody or UnknownBody.
type Body interface {
	Kind() BodyKind
	// Preview is a one-line summary used by conversation lists
	Preview() string
	isBody()
}

func (TextBody) isBody()     {}
func (ImageBody) isBody()    {}
func (TemplateBody) isBody() {}
func (NoteBody) isBody()     {}
func (UnknownBody) isBody()  {}

// TextBody is a plain text message
type TextBody struct {
	Text string
}

func (TextBody) Kind() BodyKind    { return BodyKindText }
func (b TextBody) Preview() string { return b.Text }

// ImageBody references an uploaded media object
type ImageBody struct {
	MediaID string
	Caption string
}

func (ImageBody) Kind() BodyKind { return BodyKindImage }

func (b ImageBody) Preview() string {
	if b.Caption != "" {
		return b.Caption
	}
	return "Photo"
}

// TemplateBody sends a pre-approved message template
type TemplateBody struct {
	TemplateID string
	Name       string
	Locale     string
}

func (TemplateBody) Kind() BodyKind    { return BodyKindTemplate }
func (b TemplateBody) Preview() string { return "Template: " + b.Name }

// NoteBody is an internal note visible to agents only
type NoteBody struct {
	Text string
}

func (NoteBody) Kind() BodyKind    { return BodyKindNote }
func (b NoteBody) Preview() string { return b.Text }

// UnknownBody keeps a body kind the client does not understand, verbatim.
// Invalid is set when the kind is known but the payload could not be read.
type UnknownBody struct {
	RawKind BodyKind
	Raw     json.RawMessage
	Invalid bool
}

func (b UnknownBody) Kind() BodyKind { return b.RawKind }
func (UnknownBody) Preview() string  { return "" }

type wireBody struct {
	Type     BodyKind        `json:"type"`
	Text     json.RawMessage `json:"text,omitempty"`
	Image    *wireImage      `json:"image,omitempty"`
	Template *wireTemplate   `json:"template,omitempty"`
	Note     *wireNote       `json:"note,omitempty"`
}

type wireImage struct {
	ID   string `json:"id"`
	Text string `json:"text,omitempty"`
}

type wireTemplate struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Locale string `json:"locale,omitempty"`
}

type wireNote struct {
	Text string `json:"text"`
}

type wireText struct {
	Text string `json:"text"`
}

// DecodeBody decodes a wire body into its variant
func DecodeBody(data []byte) (Body, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var w wireBody
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decoding body: %w", err)
	}

	switch w.Type {
	case BodyKindText:
		text, err := decodeText(w.Text)
		if err != nil {
			return nil, err
		}
		return TextBody{Text: text}, nil
	case BodyKindImage:
		if w.Image == nil {
			return nil, ErrInvalidBody
		}
		return ImageBody{MediaID: w.Image.ID, Caption: w.Image.Text}, nil
	case BodyKindTemplate:
		if w.Template == nil {
			return nil, ErrInvalidBody
		}
		return TemplateBody{TemplateID: w.Template.ID, Name: w.Template.Name, Locale: w.Template.Locale}, nil
	case BodyKindNote:
		if w.Note == nil {
			return nil, ErrInvalidBody
		}
		return NoteBody{Text: w.Note.Text}, nil
	case "":
		return nil, ErrInvalidBody
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return UnknownBody{RawKind: w.Type, Raw: raw}, nil
	}
}

// undecodableBody keeps a body DecodeBody rejected so one bad event does not
// fail the page it arrived in
func undecodableBody(data []byte) UnknownBody {
	var head struct {
		Type BodyKind `json:"type"`
	}
	_ = json.Unmarshal(data, &head)

	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	if !json.Valid(raw) {
		raw = json.RawMessage("null")
	}
	return UnknownBody{RawKind: head.Type, Raw: raw, Invalid: true}
}

// decodeText accepts both "text":"hi" and the send shape "text":{"text":"hi"}
func decodeText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var t wireText
	if err := json.Unmarshal(raw, &t); err != nil {
		return "", fmt.Errorf("decoding text body: %w", err)
	}
	return t.Text, nil
}

// EncodeBody encodes a body variant into the shape the API accepts on send
func EncodeBody(b Body) (json.RawMessage, error) {
	var w any
	switch v := b.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case TextBody:
		w = struct {
			Type BodyKind `json:"type"`
			Text wireText `json:"text"`
		}{BodyKindText, wireText{Text: v.Text}}
	case ImageBody:
		w = wireBody{Type: BodyKindImage, Image: &wireImage{ID: v.MediaID, Text: v.Caption}}
	case TemplateBody:
		w = wireBody{Type: BodyKindTemplate, Template: &wireTemplate{ID: v.TemplateID, Name: v.Name, Locale: v.Locale}}
	case NoteBody:
		w = wireBody{Type: BodyKindNote, Note: &wireNote{Text: v.Text}}
	case UnknownBody:
		return v.Raw, nil
	default:
		return nil, ErrInvalidBody
	}

	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encoding body: %w", err)
	}
	return data, nil
}
