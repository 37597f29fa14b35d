// Package incidentdto holds the wire types shared by the HTTP and Lambda
// transports.
package incidentdto

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/incident"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/orchestrator"
)

// CreateIncidentRequest carries base64 media. Data URLs are accepted.
type CreateIncidentRequest struct {
	StoreID           string `json:"store_id"`
	VisionObservation string `json:"vision_observation,omitempty"`
	AudioObservation  string `json:"audio_observation,omitempty"`
	VideoObservation  string `json:"video_observation,omitempty"`
}

// Decode converts the request into a service request.
func (r CreateIncidentRequest) Decode() (orchestrator.CreateRequest, error) {
	out := orchestrator.CreateRequest{StoreID: r.StoreID}
	var err error
	if out.Image, err = decodeMedia("vision_observation", r.VisionObservation); err != nil {
		return out, err
	}
	if out.Audio, err = decodeMedia("audio_observation", r.AudioObservation); err != nil {
		return out, err
	}
	if out.Video, err = decodeMedia("video_observation", r.VideoObservation); err != nil {
		return out, err
	}
	return out, nil
}

func decodeMedia(field, s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[i+1:]
	}
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return b, nil
}

// IncidentResponse is returned by create and decision calls.
type IncidentResponse struct {
	IncidentID string          `json:"incident_id"`
	Phase      string          `json:"phase"`
	Incident   *incident.State `json:"incident"`
}

// NewIncidentResponse wraps st.
func NewIncidentResponse(st *incident.State) IncidentResponse {
	return IncidentResponse{IncidentID: st.IncidentID, Phase: st.Phase(), Incident: st}
}

// DecisionRequest carries a reviewer decision.
type DecisionRequest struct {
	Decision string `json:"decision"`
}

// PolicyRequest is a policy document to ingest for a store.
type PolicyRequest struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
