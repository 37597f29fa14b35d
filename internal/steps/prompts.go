package steps

import "errors"

var (
	errNoReasoner  = errors.New("no reasoner configured")
	errNoRetrieval = errors.New("no retrieval engine configured")
)

// Prompts are fmt templates. Each opens with a role line unique to its step.
const (
	memoryQuery = `Retrieving memory for a retail incident response system.
Store ID: %s
Incident Type: %s
Estimated Severity: %s
Vision Analysis: %s
Audio Analysis: %s
Retrieve similar historical incidents, the actions taken, their outcomes and lessons learned,
and any relevant SOPs or escalation guidelines.`

	signalPrompt = `You are a highly reliable %s incident detector for a retail AI system.
Given an observation, output a strict JSON object with these fields only:
{"is_incident": <bool>, "scenario_or_intent": <string>, "confidence": <float between 0 and 1>, "evidence": <string>}
Example:
{"is_incident":true,"scenario_or_intent":"theft","confidence":0.95,"evidence":"shelf empty, person running"}
OBSERVATION: %s
Do NOT add any explanation outside JSON.`

	fusionPrompt = `You are a retail FUSION agent combining vision, audio and video signals into one incident summary.
Use only the supplied evidence, do not invent facts, and reply with this JSON shape only:
{"incident_type": <string>, "description": <string>, "combined_confidence": <float between 0 and 1>, "supporting_evidence": <string>}
VISION SIGNAL: %s
AUDIO SIGNAL: %s
VIDEO SIGNAL: %s`

	riskPolicyQuery = "retail safety escalation rules"

	riskPrompt = `You are a careful retail RISK ASSESSMENT agent.
Analyze the incident, review the store policies, assign a severity (integer 1-5), a risk_score (0.0-1.0),
decide whether human review is needed, and write a short justification.
Reply with a JSON object only:
{"severity": <int>, "risk_score": <float>, "requires_human": <bool>, "justification": <string>}
If unsure, set "requires_human": true, "risk_score": 0.5, "severity": 3.
INCIDENT: %s
POLICIES:
%s`

	planningQuery = "Standard operating procedures for %s incident with severity %d"

	planningPrompt = `You are an autonomous incident response PLANNER for a retail store.
INCIDENT SUMMARY:
Type: %s
Severity: %d
FUSED INCIDENT UNDERSTANDING:
%s
CURRENT REASONING CONTEXT:
%s
PAST INCIDENT LEARNINGS:
%s
STANDARD OPERATING PROCEDURES:
%s
Generate a clear, ordered, step-by-step response plan, one step per line.
Steps must be actionable. Include escalation steps if severity is high. Output only the steps.`

	respondPrompt = `You are a disciplined emergency COMMUNICATION agent.
Using the CONTEXT, PLAN and PAST OUTCOMES, produce announcement, email, call and emergency actions as compact JSON:
{"announce": {"enabled": <bool>, "text": <string>},
 "email": {"enabled": <bool>, "subject": <string>, "body": <string>},
 "call": {"enabled": <bool>, "subject": <string>, "script": <string>},
 "emergency": {"enabled": <bool>}}
Tone MUST match severity %d. Do not explain or annotate.
CONTEXT: %s
PLAN: %s
PAST INCIDENT OUTCOMES: %s`

	explainQuery = `Retail safety and security policy justification.
Incident type: %s
Severity level: %d
Relevant policy clauses, risk classification rules, escalation criteria and similar precedent incidents.`

	explanationReport = `INCIDENT EXPLANATION REPORT
---------------------------

Incident Type:
%s

Assessed Severity:
%d

Confidence Score:
%.2f

Decision Rationale:
The system classified this incident as severity level %d based on:
- Visual and/or audio observations indicating risk patterns aligned with this incident type
- Historical incident patterns retrieved from long-term memory
- Policy-defined escalation thresholds for similar events

Policy & Precedent References:
%s

Interpretation:
According to the referenced policies, incidents of this category require this severity
classification to ensure safety, regulatory compliance, and timely response.
`

	reflectQuery = "Similar incidents to %s with severity %d"

	reflectPrompt = `You are a SELF-REFLECTION agent for an autonomous retail incident system.
INCIDENT SUMMARY:
Type: %s
Severity: %d
Risk Score: %.2f
PLAN EXECUTED:
%s
EXECUTION RESULTS:
%s
EPISODE MEMORY:
%s
HISTORICAL OUTCOMES:
%s
1. Was the severity appropriate?
2. Did any step over- or under-react?
3. What should change next time?
Return a plain-text reflection summary and 2-4 improvement tags from: severity_tuning, faster_escalation, deescalation.`

	learningRecord = `Incident Type: %s
Severity: %d
Actions Taken: %s
Outcome: %s
Lessons: %s`
)
