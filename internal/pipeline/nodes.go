package pipeline

// Node ids of the incident graph, in reference order.
const (
	NodeMemory   = "memory"
	NodeVision   = "vision"
	NodeAudio    = "audio"
	NodeVideo    = "video"
	NodeFusion   = "fusion"
	NodeRisk     = "risk"
	NodeHuman    = "human"
	NodePlanning = "planning"
	NodeRespond  = "respond"
	NodeVoice    = "voice"
	NodeEmail    = "email"
	NodeCall     = "call"
	NodeEscalate = "escalate"
	NodeMonitor  = "monitor"
	NodeExplain  = "explain"
	NodeReflect  = "reflect"
	NodeLearn    = "learn"
)

// ReferenceOrder lists the nodes of a run that skips human review.
var ReferenceOrder = []string{
	NodeMemory, NodeVision, NodeAudio, NodeVideo, NodeFusion, NodeRisk,
	NodePlanning, NodeRespond, NodeVoice, NodeEmail, NodeCall,
	NodeEscalate, NodeMonitor, NodeExplain, NodeReflect, NodeLearn,
}
