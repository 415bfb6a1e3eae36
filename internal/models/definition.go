package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// ProductType classifies the artifact a product definition declares.
type ProductType string

const (
	ProductFile   ProductType = "file"
	ProductString ProductType = "string"
	ProductURL    ProductType = "url"
	ProductToken  ProductType = "token"
)

// IsValid reports whether t is a known product type.
func (t ProductType) IsValid() bool {
	switch t {
	case ProductFile, ProductString, ProductURL, ProductToken:
		return true
	}
	return false
}

// ProductDef declares a logical artifact class. Immutable once referenced by
// a framework.
type ProductDef struct {
	ID        string      `json:"id"`
	Type      ProductType `json:"type"`
	Local     bool        `json:"local"`    // Bound to a specific agent on creation
	Combined  bool        `json:"combined"` // May be produced by multiple tasks
	CreatedAt time.Time   `json:"created_at"`
}

// ParamDef is one inheritable parameter entry.
type ParamDef struct {
	Value string `json:"value"`
	Final bool   `json:"final,omitempty"`
}

// Framework is a reusable execution template. Every edit stores a new
// content-addressed version; jobs pin the version they were created with.
type Framework struct {
	ID        string              `json:"id"`
	Version   string              `json:"version"` // Content key, derived from the definition body
	Inputs    []string            `json:"inputs,omitempty"`
	Outputs   []string            `json:"outputs,omitempty"`
	Params    map[string]ParamDef `json:"params,omitempty"`
	Claim     ResourceClaim       `json:"claim,omitempty"`
	Wrapper   string              `json:"wrapper"`
	Extractor bool                `json:"extractor,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// ContentKey computes the version key for the framework's current content.
func (f *Framework) ContentKey() string {
	return contentKey(struct {
		ID      string              `json:"id"`
		Inputs  []string            `json:"inputs"`
		Outputs []string            `json:"outputs"`
		Params  map[string]ParamDef `json:"params"`
		Claim   ResourceClaim       `json:"claim"`
		Wrapper string              `json:"wrapper"`
		Extract bool                `json:"extract"`
	}{f.ID, f.Inputs, f.Outputs, f.Params, f.Claim, f.Wrapper, f.Extractor})
}

// TaskDef binds a name to a parent framework and overrides or adds
// parameters, tags, and resource claim additions.
type TaskDef struct {
	ID          string              `json:"id"`
	FrameworkID string              `json:"framework_id"`
	Version     string              `json:"version"`
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Params      map[string]ParamDef `json:"params,omitempty"`
	Tags        map[string]string   `json:"tags,omitempty"`
	Claim       ResourceClaim       `json:"claim,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// ContentKey computes the version key for the task definition's current
// content.
func (d *TaskDef) ContentKey() string {
	return contentKey(struct {
		ID        string              `json:"id"`
		Framework string              `json:"framework"`
		Params    map[string]ParamDef `json:"params"`
		Tags      map[string]string   `json:"tags"`
		Claim     ResourceClaim       `json:"claim"`
	}{d.ID, d.FrameworkID, d.Params, d.Tags, d.Claim})
}

// Project is the singleton holding factory-wide settings and the top-level
// parameter defaults that frameworks inherit from.
type Project struct {
	Name        string              `json:"name"`
	Targets     []string            `json:"targets,omitempty"`
	MaxPriority int                 `json:"max_priority"` // 0 disables task priorities
	Defaults    map[string]ParamDef `json:"defaults,omitempty"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// ClampPriority clamps a task priority into the project's enabled range.
func (p *Project) ClampPriority(priority int) int {
	if p == nil || p.MaxPriority <= 0 {
		return 0
	}
	if priority < 0 {
		return 0
	}
	if priority > p.MaxPriority {
		return p.MaxPriority
	}
	return priority
}

func contentKey(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		// Marshalling plain maps and slices cannot fail; guard anyway.
		return "v0"
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:6])
}
