package models

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// QueryRequest is the body of POST /query on the answering service.
type QueryRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

// Document is one retrieved source the answering service used as context for its answer.
type Document struct {
	ID       string `json:"id"`
	Summary  string `json:"summary"`
	FullText string `json:"full_text"`
}

// QueryResponse is the body returned by POST /query. Answer is nil when the service could not produce
// one; in that case Error usually carries the reason.
type QueryResponse struct {
	Query   string     `json:"query"`
	Results []Document `json:"results"`
	Answer  *string    `json:"answer"`
	Error   string     `json:"error,omitempty"`
}

// UnmarshalJSON accepts any JSON value as the answer. Strings are taken as is, other truthy values
// keep their JSON text, and null, false, 0 and "" leave Answer nil.
func (r *QueryResponse) UnmarshalJSON(data []byte) error {
	type plain QueryResponse
	var raw struct {
		plain
		Answer json.RawMessage `json:"answer"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = QueryResponse(raw.plain)
	answer, err := answerText(raw.Answer)
	if err != nil {
		return err
	}
	r.Answer = answer
	return nil
}

func answerText(raw json.RawMessage) (*string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if s == "" {
			return nil, nil
		}
		return &s, nil
	case 'n', 'f':
		// null, false
		return nil, nil
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return nil, err
		}
		s := buf.String()
		return &s, nil
	}

	if f, err := strconv.ParseFloat(string(raw), 64); err == nil && f == 0 {
		return nil, nil
	}
	s := string(raw)
	return &s, nil
}

// AnswerText returns the answer carried by the response, or fallback when the response has no answer
// or an empty one.
func (r QueryResponse) AnswerText(fallback string) string {
	if r.Answer == nil || *r.Answer == "" {
		return fallback
	}
	return *r.Answer
}
