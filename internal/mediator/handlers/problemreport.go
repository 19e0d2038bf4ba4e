// Package handlers implements the mediator's inbound pipeline and protocol
// message handlers of spec §4.6: session/ACL policy, store-and-forward,
// forward-envelope unwrap, message pickup 3.0, discover-features 2.0,
// trust-ping 2.0, OOB discovery, and the admin protocol.
package handlers

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/affinidi-community/tdk-core/internal/didcomm"
)

// ProblemReportType is the DIDComm report-problem/2.0 message type.
const ProblemReportType = "https://didcomm.org/report-problem/2.0/problem-report"

// ProblemSeverity is report-problem/2.0's `sorter` value.
type ProblemSeverity string

const (
	SeverityWarning ProblemSeverity = "w"
	SeverityError   ProblemSeverity = "e"
)

// ProblemScope distinguishes a protocol-level failure from a single
// message's failure, per spec §7.
type ProblemScope string

const (
	ScopeProtocol ProblemScope = "protocol"
	ScopeMessage  ProblemScope = "message"
)

// problemReportBody is report-problem/2.0's body shape.
type problemReportBody struct {
	Code    string `json:"code"`
	Comment string `json:"comment,omitempty"`
}

// ProblemReport pairs a packable DIDComm message with the scope/severity/
// HTTP-code metadata the caller needs to translate it into a response.
type ProblemReport struct {
	Message    *didcomm.Message
	Scope      ProblemScope
	Severity   ProblemSeverity
	Code       string
	HTTPStatus int
}

// NewProblemReport builds a DIDComm problem-report message replying on
// thid, per spec §4.6's "all responses ... replying on thid" convention.
// code is a dotted slug exactly as spec §8's scenarios give it (e.g.
// "message.anonymous", "authorization.access_list.denied").
func NewProblemReport(thid string, scope ProblemScope, severity ProblemSeverity, code, comment string, httpStatus int) *ProblemReport {
	body, _ := json.Marshal(problemReportBody{Code: code, Comment: comment})

	return &ProblemReport{
		Message: &didcomm.Message{
			ID:   uuid.NewString(),
			Type: ProblemReportType,
			Thid: thid,
			Body: body,
		},
		Scope:      scope,
		Severity:   severity,
		Code:       code,
		HTTPStatus: httpStatus,
	}
}

// Error satisfies the error interface so a ProblemReport can be returned
// and type-asserted by callers that need the HTTP/packing metadata.
func (p *ProblemReport) Error() string {
	return p.Code
}
