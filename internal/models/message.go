package models

// Discord embed hard limits. Overlong content is clamped, never rejected.
const (
	MaxTitleLen      = 256
	MaxFieldNameLen  = 256
	MaxFieldValueLen = 1024
	MaxEmbedFields   = 25
)

// MessageField is one name/value pair displayed inside the embed.
type MessageField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// MessageAuthor renders as the embed author line.
type MessageAuthor struct {
	Name    string `json:"name"`
	IconURL string `json:"icon_url,omitempty"`
}

// Attachment is an optional file uploaded alongside the message, referenced
// from the embed via an attachment:// URL.
type Attachment struct {
	Filename string
	Content  []byte
	MIME     string
}

// RenderedMessage is the chat-side representation of one event. It is a pure
// function of a NormalizedEvent and has no identity of its own.
type RenderedMessage struct {
	Title      string         `json:"title"`
	Color      int            `json:"color"`
	Fields     []MessageField `json:"fields"`
	LinkURL    string         `json:"url,omitempty"`
	Thumbnail  string         `json:"-"`
	Author     MessageAuthor  `json:"-"`
	Timestamp  string         `json:"timestamp,omitempty"`
	Attachment *Attachment    `json:"-"`
}

// Clamp enforces Discord's embed size limits in place.
func (m *RenderedMessage) Clamp() {
	m.Title = truncate(m.Title, MaxTitleLen)
	if len(m.Fields) > MaxEmbedFields {
		m.Fields = m.Fields[:MaxEmbedFields]
	}
	for i := range m.Fields {
		m.Fields[i].Name = truncate(m.Fields[i].Name, MaxFieldNameLen)
		m.Fields[i].Value = truncate(m.Fields[i].Value, MaxFieldValueLen)
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
