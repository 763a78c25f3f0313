package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Content block type tags used by MCP tool results and prompt messages.
// The set is closed: anything else is a protocol violation and is
// surfaced as a decode failure rather than silently dropped, since
// losing tool output corrupts the conversation the model sees.
const (
	ContentTypeText     = "text"
	ContentTypeImage    = "image"
	ContentTypeAudio    = "audio"
	ContentTypeResource = "resource"
)

// ContentBlock is a single content item in a tools/call response or a
// prompt message. Type selects which of the remaining fields are
// meaningful: Text for "text", Data/MimeType for "image" and "audio",
// Resource for "resource".
type ContentBlock struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	Data     string            `json:"data,omitempty"` // base64 payload for image/audio
	MimeType string            `json:"mimeType,omitempty"`
	Resource *ResourceContents `json:"resource,omitempty"`
}

// ResourceContents is the content of a resource, either from a
// resources/read call or embedded in a "resource" content block. A
// resource is text-valued or binary-valued; the wire format carries a
// "text" field for the former and a base64 "blob" field for the latter.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`

	// hasText records whether the wire payload carried a "text"
	// field, so an empty text resource is still distinguishable from
	// a binary one.
	hasText bool
}

// TextContents constructs a text-valued ResourceContents.
func TextContents(uri, mimeType, text string) ResourceContents {
	return ResourceContents{URI: uri, MimeType: mimeType, Text: text, hasText: true}
}

// BlobContents constructs a binary-valued ResourceContents with
// base64-encoded data.
func BlobContents(uri, mimeType, blob string) ResourceContents {
	return ResourceContents{URI: uri, MimeType: mimeType, Blob: blob}
}

// IsText reports whether the resource carries text content.
func (rc *ResourceContents) IsText() bool {
	return rc.hasText
}

// UnmarshalJSON decodes resource contents, tracking whether the
// payload was text-valued or binary-valued.
func (rc *ResourceContents) UnmarshalJSON(data []byte) error {
	var raw struct {
		URI      string  `json:"uri"`
		MimeType string  `json:"mimeType"`
		Text     *string `json:"text"`
		Blob     string  `json:"blob"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	rc.URI = raw.URI
	rc.MimeType = raw.MimeType
	rc.Blob = raw.Blob
	if raw.Text != nil {
		rc.Text = *raw.Text
		rc.hasText = true
	} else {
		rc.Text = ""
		rc.hasText = false
	}
	return nil
}

// MarshalJSON emits the wire form, including an explicit "text" field
// for text-valued contents even when the text is empty.
func (rc ResourceContents) MarshalJSON() ([]byte, error) {
	raw := map[string]any{"uri": rc.URI}
	if rc.MimeType != "" {
		raw["mimeType"] = rc.MimeType
	}
	if rc.hasText {
		raw["text"] = rc.Text
	} else if rc.Blob != "" {
		raw["blob"] = rc.Blob
	}
	return json.Marshal(raw)
}

// IsImage reports whether the resource's MIME type is an image type.
func (rc *ResourceContents) IsImage() bool {
	return strings.HasPrefix(rc.MimeType, "image/")
}

// FlattenContent maps tool result content blocks to strings, in order:
//
//	text             → the text verbatim
//	image, audio     → the base64 payload verbatim
//	resource (text)  → the embedded text
//	resource (blob)  → the embedded base64 payload
//
// An unknown block type is a hard decode failure.
func FlattenContent(blocks []ContentBlock) ([]string, error) {
	var results []string
	for i, b := range blocks {
		switch b.Type {
		case ContentTypeText:
			results = append(results, b.Text)
		case ContentTypeImage, ContentTypeAudio:
			results = append(results, b.Data)
		case ContentTypeResource:
			if b.Resource == nil {
				return nil, fmt.Errorf("content block %d: resource block without resource payload", i)
			}
			if b.Resource.IsText() {
				results = append(results, b.Resource.Text)
			} else {
				results = append(results, b.Resource.Blob)
			}
		default:
			return nil, fmt.Errorf("content block %d: unsupported content type %q", i, b.Type)
		}
	}
	return results, nil
}

// Resource is an addressable piece of content the server can supply,
// as returned by resources/list.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceTemplate is a parameterized resource pattern, as returned by
// resources/templates/list.
type ResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// Prompt is a reusable template the server can render, as returned by
// prompts/list.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptArgument describes one parameter of a prompt template.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// PromptMessage is one role-tagged message of a rendered prompt.
type PromptMessage struct {
	Role    string       `json:"role"`
	Content ContentBlock `json:"content"`
}
