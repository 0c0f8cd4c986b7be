package translate

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/papercomputeco/ollamabridge/pkg/llm/provider/openai"
)

// dataURIPattern matches an inline base64 image and captures its payload.
var dataURIPattern = regexp.MustCompile(`(?s)^data:image/[^;]+;base64,(.+)$`)

// ImagePayload returns the base64 payload of an image data URI, or ref
// unchanged when it is not one (for example a remote URL).
func ImagePayload(ref string) string {
	if !strings.HasPrefix(ref, "data:image/") {
		return ref
	}
	if m := dataURIPattern.FindStringSubmatch(ref); m != nil {
		return m[1]
	}
	return ref
}

// NormalizeContent flattens an OpenAI message content value into Ollama's
// shape: a single text field plus a side list of images.
//
// A string is copied verbatim. A part array has its text parts joined with
// "\n" in order and its image_url parts collected into images. images is nil
// when the content carried no image parts. Null, absent and object content
// become the empty string; other scalars keep their literal JSON text.
func NormalizeContent(raw json.RawMessage) (text string, images []string) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", nil
		}
		return s, nil

	case '[':
		if !gjson.ValidBytes(raw) {
			return "", nil
		}
		return normalizeParts(gjson.ParseBytes(raw).Array())

	case '{', 'n':
		return "", nil

	default:
		return scalarText(raw), nil
	}
}

// normalizeParts reads each part on its own so one odd part does not cost
// the rest of the message.
func normalizeParts(parts []gjson.Result) (string, []string) {
	texts := make([]string, 0, len(parts))
	var images []string

	for _, part := range parts {
		switch part.Get("type").Str {
		case openai.ContentTypeText:
			text := part.Get("text")
			switch text.Type {
			case gjson.String:
				texts = append(texts, text.Str)
			case gjson.Number:
				texts = append(texts, text.Raw)
			default:
				texts = append(texts, "")
			}
		case openai.ContentTypeImageURL:
			ref := part.Get("image_url")
			if ref.IsObject() {
				ref = ref.Get("url")
			}
			images = append(images, ImagePayload(ref.Str))
		}
	}

	return strings.Join(texts, "\n"), images
}

// scalarText renders a number or boolean the way string coercion would,
// with zero and false collapsing to the empty string.
func scalarText(raw json.RawMessage) string {
	s := string(raw)
	if s == "false" {
		return ""
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == 0 {
		return ""
	}
	return s
}
