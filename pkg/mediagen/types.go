package mediagen

import "context"

// Kind is the artifact type a request produces.
type Kind string

const (
	KindVoice Kind = "voice"
	KindImage Kind = "image"
	KindCard  Kind = "card"
)

// Request describes one synthesis job.
type Request struct {
	Kind   Kind              `json:"kind"`
	Prompt string            `json:"prompt"`
	Params map[string]string `json:"params,omitempty"`
}

// Artifact is a generated file on local disk.
type Artifact struct {
	Kind Kind   `json:"kind"`
	Path string `json:"path"`
}

// Provider is one upstream synthesis service.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Artifact, error)
}

// Generator produces artifacts, hiding provider choice and retries.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Artifact, error)
	Cleanup(artifact *Artifact) error
}
