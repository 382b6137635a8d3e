package model

// GenerationStatus is the phase of the request/response lifecycle
type GenerationStatus string

const (
	StatusIdle       GenerationStatus = "idle"
	StatusGenerating GenerationStatus = "generating"
	StatusComplete   GenerationStatus = "complete"
	StatusError      GenerationStatus = "error"
)

func (s GenerationStatus) String() string {
	return string(s)
}
