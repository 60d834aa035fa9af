package pipeline

import "github.com/hydroshare/hsextract/pkg/types"

type ProgressCallback func(update ProgressUpdate)

type ProgressUpdate struct {
	Type    string             `json:"type"`
	Message string             `json:"message,omitempty"`
	Current int                `json:"current,omitempty"`
	Total   int                `json:"total,omitempty"`
	Path    string             `json:"path,omitempty"`
	Status  types.ResultStatus `json:"status,omitempty"`
	Summary *types.RunSummary  `json:"summary,omitempty"`
	Error   string             `json:"error,omitempty"`
}

func (p *Pipeline) progress(update ProgressUpdate) {
	if p.progressCallback != nil {
		p.progressCallback(update)
	}
}
