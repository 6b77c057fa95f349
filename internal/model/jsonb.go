package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONBStringArray is a custom type for handling string arrays in JSONB
type JSONBStringArray []string

// Value implements the driver.Valuer interface
func (a JSONBStringArray) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface
func (a *JSONBStringArray) Scan(value interface{}) error {
	*a = JSONBStringArray{}
	return scanJSON(value, a)
}

// RecipeStep is the stored form of one instruction
type RecipeStep struct {
	Text               string `json:"text"`
	IllustrationPrompt string `json:"illustration_prompt,omitempty"`
	ImageURL           string `json:"image_url,omitempty"`
}

// JSONBSteps stores ordered steps in a JSONB column
type JSONBSteps []RecipeStep

// Value implements the driver.Valuer interface
func (s JSONBSteps) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface
func (s *JSONBSteps) Scan(value interface{}) error {
	*s = JSONBSteps{}
	return scanJSON(value, s)
}

func scanJSON(value interface{}, dst interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONB source type %T", value)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
