// Package media manages files attached to exercises: uploaded images, audio
// and video stored under a per-exercise directory, and the references to
// them kept inside item and exercise media blocks.
package media

import "strings"

const (
	// UploadSentinel marks a field whose value arrives as an uploaded file.
	UploadSentinel = "__UPLOAD__"
	// DeleteSentinel marks a field the editor cleared.
	DeleteSentinel = "__DELETE__"
)

// Kind is a media field name.
type Kind string

const (
	KindImage    Kind = "image"
	KindAudio    Kind = "audio"
	KindVideo    Kind = "video"
	KindImageAlt Kind = "image_alt"
	KindCaption  Kind = "caption"
	KindYouTube  Kind = "youtube_url"
)

// Kinds lists every media field the manager resolves, file kinds first.
var Kinds = []Kind{KindImage, KindAudio, KindVideo, KindImageAlt, KindCaption, KindYouTube}

// Uploadable reports whether values of k are stored files.
func (k Kind) Uploadable() bool {
	switch k {
	case KindImage, KindAudio, KindVideo:
		return true
	default:
		return false
	}
}

// ParseKind maps a field name to a Kind.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// State is the tag of a Ref.
type State int

const (
	// StateUnset means the client sent nothing; the prior value carries over.
	StateUnset State = iota
	// StateKeep means the client sent a concrete value.
	StateKeep
	// StateUpload means the value is the next uploaded file of the field's kind.
	StateUpload
	// StateDelete means the field is cleared and any stored file removed.
	StateDelete
)

func (s State) String() string {
	switch s {
	case StateKeep:
		return "keep"
	case StateUpload:
		return "upload"
	case StateDelete:
		return "delete"
	default:
		return "unset"
	}
}

// Ref is the parsed value of one media field.
type Ref struct {
	State State
	Value string
}

// ParseRef interprets a raw media field value.
func ParseRef(v any) Ref {
	s, ok := v.(string)
	if !ok {
		return Ref{State: StateUnset}
	}
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return Ref{State: StateUnset}
	case UploadSentinel:
		return Ref{State: StateUpload}
	case DeleteSentinel:
		return Ref{State: StateDelete}
	default:
		return Ref{State: StateKeep, Value: s}
	}
}
