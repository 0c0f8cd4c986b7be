package translate

import (
	"time"

	"github.com/tidwall/gjson"

	"github.com/papercomputeco/ollamabridge/pkg/llm/provider/ollama"
	"github.com/papercomputeco/ollamabridge/pkg/llm/provider/openai"
)

// ModelListTranscoder maps an Ollama /api/tags catalog to an OpenAI model
// list. Catalog parsing is lenient: a malformed or missing catalog yields an
// empty list and non-object entries are ignored.
type ModelListTranscoder struct {
	ownedBy string
	now     func() time.Time
}

// NewModelListTranscoder creates a transcoder labelling every model as owned
// by ownedBy, or ollama.OwnedBy when empty.
func NewModelListTranscoder(ownedBy string) *ModelListTranscoder {
	if ownedBy == "" {
		ownedBy = ollama.OwnedBy
	}
	return &ModelListTranscoder{
		ownedBy: ownedBy,
		now:     time.Now,
	}
}

// Transcode converts a raw catalog body.
func (t *ModelListTranscoder) Transcode(body []byte) *openai.ModelList {
	list := &openai.ModelList{
		Object: openai.ObjectList,
		Data:   []openai.Model{},
	}

	if !gjson.ValidBytes(body) {
		return list
	}

	models := gjson.GetBytes(body, "models")
	if !models.IsArray() {
		return list
	}

	models.ForEach(func(_, entry gjson.Result) bool {
		if !entry.IsObject() {
			return true
		}

		id := entry.Get("name").String()
		if id == "" {
			id = entry.Get("model").String()
		}

		list.Data = append(list.Data, openai.Model{
			ID:      id,
			Object:  openai.ObjectModel,
			Created: t.created(entry.Get("modified_at")),
			OwnedBy: t.ownedBy,
		})
		return true
	})

	return list
}

func (t *ModelListTranscoder) created(modified gjson.Result) int64 {
	if modified.Type == gjson.String {
		if ts, err := time.Parse(time.RFC3339Nano, modified.Str); err == nil {
			return ts.Unix()
		}
	}
	return t.now().Unix()
}
