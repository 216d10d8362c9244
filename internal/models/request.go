package models

import (
	"strings"
	"time"
)

// RequestStatus represents the decision state of a reallocation or reopen request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "Pending"
	RequestApproved RequestStatus = "Approved"
	RequestRejected RequestStatus = "Rejected"
)

// Resolved reports whether the request has reached a terminal decision.
func (s RequestStatus) Resolved() bool {
	return s == RequestApproved || s == RequestRejected
}

// ParseDecision resolves a user-supplied decision. Only terminal values are
// accepted; "approve" and "reject" are shorthands.
func ParseDecision(v string) (RequestStatus, bool) {
	v = strings.TrimSpace(v)
	switch {
	case strings.EqualFold(v, string(RequestApproved)), strings.EqualFold(v, "approve"):
		return RequestApproved, true
	case strings.EqualFold(v, string(RequestRejected)), strings.EqualFold(v, "reject"):
		return RequestRejected, true
	}
	return "", false
}

// RequestKind distinguishes the two approval sub-workflows sharing the Request shape.
type RequestKind string

const (
	RequestKindReallocation RequestKind = "reallocation"
	RequestKindReopen       RequestKind = "reopen"
)

// Request is a reallocation or reopen request awaiting (or past) review.
type Request struct {
	ID          string        `json:"id"`
	Kind        RequestKind   `json:"kind"`
	RequestedBy string        `json:"requestedBy"`
	Role        Role          `json:"role"`
	Reason      string        `json:"reason"`
	Status      RequestStatus `json:"requestStatus"`
	RequestedAt time.Time     `json:"requestedAt"`
	ReviewedBy  string        `json:"reviewedBy,omitempty"`
	ReviewedAt  *time.Time    `json:"reviewedAt,omitempty"`
}
