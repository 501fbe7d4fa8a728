package session

import "github.com/fpang/lumina-enhancer/internal/ingest"

// State is one of AwaitingCredential, Idle, Processing, Complete or Failed.
type State interface {
	// Name is the wire name of the state.
	Name() string
	sealed()
}

// State names.
const (
	NameAwaitingCredential = "awaiting_credential"
	NameIdle               = "idle"
	NameProcessing         = "processing"
	NameComplete           = "complete"
	NameFailed             = "failed"
)

// AwaitingCredential is the initial state: no API key is available yet.
type AwaitingCredential struct{}

// Idle accepts a submission.
type Idle struct{}

// Processing holds the image being enhanced.
type Processing struct {
	Original ingest.ImagePayload
}

// Complete holds the enhancement result until reset.
type Complete struct {
	Result EnhancementResult
}

// Failed holds the message of the error that ended the attempt.
type Failed struct {
	Message string
	Err     error
}

// EnhancementResult pairs the submitted image with the enhanced one.
type EnhancementResult struct {
	Original ingest.ImagePayload
	Enhanced ingest.ImagePayload
}

func (AwaitingCredential) Name() string { return NameAwaitingCredential }
func (Idle) Name() string               { return NameIdle }
func (Processing) Name() string         { return NameProcessing }
func (Complete) Name() string           { return NameComplete }
func (Failed) Name() string             { return NameFailed }

func (AwaitingCredential) sealed() {}
func (Idle) sealed()               {}
func (Processing) sealed()         {}
func (Complete) sealed()           {}
func (Failed) sealed()             {}

// View is the serializable snapshot of a session pushed to observers.
type View struct {
	SessionID    string `json:"sessionId"`
	State        string `json:"state"`
	Message      string `json:"message,omitempty"`
	MediaType    string `json:"mediaType,omitempty"`
	OriginalSize int    `json:"originalSize,omitempty"`
	EnhancedSize int    `json:"enhancedSize,omitempty"`
}

// ViewOf renders st for session id.
func ViewOf(id string, st State) View {
	v := View{SessionID: id, State: st.Name()}
	switch s := st.(type) {
	case AwaitingCredential, Idle:
	case Processing:
		v.MediaType = s.Original.MediaType()
		v.OriginalSize = s.Original.Len()
	case Complete:
		v.MediaType = s.Result.Original.MediaType()
		v.OriginalSize = s.Result.Original.Len()
		v.EnhancedSize = s.Result.Enhanced.Len()
	case Failed:
		v.Message = s.Message
	}
	return v
}
