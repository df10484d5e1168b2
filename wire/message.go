// Package wire defines the message contract between the observer, the
// coordinator, the inference runner, and the presentation surfaces. Every
// message travels as an Envelope with a type discriminant; the payload set
// is closed, and decoding an unknown discriminant is an error rather than
// a silent skip.
package wire

import (
	"time"

	"github.com/pagesentry/pagesentry/heuristics"
	"github.com/pagesentry/pagesentry/pagectx"
)

// Type discriminates envelope payloads on the wire.
type Type string

const (
	// Observer to coordinator.
	TypeSecurityAlert Type = "security_alert"
	TypePageContext   Type = "page_context"

	// Inference runner to coordinator.
	TypeModelReady        Type = "model_ready"
	TypeModelError        Type = "model_error"
	TypeInferenceResponse Type = "inference_response"

	// Presentation to coordinator.
	TypeChatMessage Type = "chat_message"
	TypeInitModel   Type = "init_model"
	TypeLoadModel   Type = "load_model"

	// Coordinator to inference runner.
	TypeInference Type = "inference"

	// Coordinator to presentation.
	TypeAlertNotification Type = "alert_notification"
	TypeModelStatus       Type = "model_status"
	TypeChatResponse      Type = "chat_response"
	TypeChatError         Type = "chat_error"
)

// AlertKind identifies what a security alert is about. The set is closed;
// the coordinator's severity mapping switches over it and logs a warning
// for anything outside it.
type AlertKind string

const (
	AlertPasswordOverHTTP AlertKind = "password_over_http"
	AlertInsecureForm     AlertKind = "insecure_form_submission"
	AlertSuspiciousScript AlertKind = "suspicious_script_detected"
	AlertSuspiciousLink   AlertKind = "suspicious_link_detected"
	AlertInsecureProtocol AlertKind = "insecure_protocol"
)

// Severity is assigned by the coordinator, never by the observer.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ModelState is the coordinator's view of the inference backend.
type ModelState string

const (
	ModelUninitialized ModelState = "uninitialized"
	ModelLoading       ModelState = "loading"
	ModelReadyState    ModelState = "ready"
	ModelErrorState    ModelState = "error"
)

// Payload is implemented by every message body. The messageType method is
// unexported so the payload set stays closed to this package.
type Payload interface {
	messageType() Type
}

// SecurityAlert is raised by an observer when a heuristic fires. Severity
// is deliberately absent; the coordinator assigns it.
type SecurityAlert struct {
	Kind    AlertKind `json:"kind"`
	Message string    `json:"message"`
	PageURL string    `json:"page_url"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// PageContextUpdate replaces the coordinator's cached context for a page.
type PageContextUpdate struct {
	Context pagectx.PageContext `json:"context"`
}

// ModelReady signals that the inference backend answered its warm-up probe.
type ModelReady struct {
	Model string `json:"model"`
}

// ModelError signals that initialization or a later probe failed.
type ModelError struct {
	Message string `json:"message"`
}

// InferenceResponse carries generated text back for a pending request.
type InferenceResponse struct {
	RequestID string `json:"request_id"`
	Text      string `json:"text"`
}

// ChatMessage is a user question from a presentation surface.
type ChatMessage struct {
	RequestID string `json:"request_id"`
	Question  string `json:"question"`
}

// InitModel asks the coordinator to (re)initialize the inference backend.
type InitModel struct{}

// LoadModel selects a model before initialization.
type LoadModel struct {
	Model string `json:"model"`
}

// InferenceRequest is the coordinator's fully assembled prompt.
type InferenceRequest struct {
	RequestID string `json:"request_id"`
	Prompt    string `json:"prompt"`
}

// Alert is the coordinator-enriched record: kind plus assigned severity
// and identity. This is the shape persisted to history and rebroadcast.
type Alert struct {
	ID       string    `json:"id"`
	Kind     AlertKind `json:"kind"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	PageURL  string    `json:"page_url"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// AlertNotification rebroadcasts an enriched alert to presentation.
type AlertNotification struct {
	Alert Alert `json:"alert"`
}

// ModelStatus is broadcast on every model state transition.
type ModelStatus struct {
	State ModelState `json:"state"`
	Model string     `json:"model,omitempty"`
	Error string     `json:"error,omitempty"`
}

// ChatResponse answers a ChatMessage.
type ChatResponse struct {
	RequestID string `json:"request_id"`
	Answer    string `json:"answer"`
}

// ChatError reports why a ChatMessage could not be answered.
type ChatError struct {
	RequestID string `json:"request_id"`
	Message   string `json:"message"`
}

func (SecurityAlert) messageType() Type     { return TypeSecurityAlert }
func (PageContextUpdate) messageType() Type { return TypePageContext }
func (ModelReady) messageType() Type        { return TypeModelReady }
func (ModelError) messageType() Type        { return TypeModelError }
func (InferenceResponse) messageType() Type { return TypeInferenceResponse }
func (ChatMessage) messageType() Type       { return TypeChatMessage }
func (InitModel) messageType() Type         { return TypeInitModel }
func (LoadModel) messageType() Type         { return TypeLoadModel }
func (InferenceRequest) messageType() Type  { return TypeInference }
func (AlertNotification) messageType() Type { return TypeAlertNotification }
func (ModelStatus) messageType() Type       { return TypeModelStatus }
func (ChatResponse) messageType() Type      { return TypeChatResponse }
func (ChatError) messageType() Type         { return TypeChatError }

// FindingAlert converts a heuristic finding into the alert the observer
// raises for it. Scripts get their own kind; everything else is reported
// as a suspicious link.
func FindingAlert(f heuristics.Finding, pageURL string) SecurityAlert {
	kind := AlertSuspiciousLink
	msg := "Suspicious link detected: " + f.Locator
	if f.Kind == heuristics.FindingScript {
		kind = AlertSuspiciousScript
		msg = "Suspicious script detected: " + f.Locator
	}
	return SecurityAlert{
		Kind:    kind,
		Message: msg,
		PageURL: pageURL,
		Detail:  f.Locator,
		At:      f.DiscoveredAt,
	}
}
