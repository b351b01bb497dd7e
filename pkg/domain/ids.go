// Package domain holds the typed identifiers shared across modules.
//
// Every identifier is a distinct named UUID type so a staff id can never be
// passed where a unit id is expected. Parse functions are the only way to
// build an ID from untrusted input and reject empty, malformed and nil UUIDs.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "casework/pkg/domain-errors"
)

type (
	UserID       uuid.UUID
	UnitID       uuid.UUID
	WorkItemID   uuid.UUID
	AssignmentID uuid.UUID
	QueueEntryID uuid.UUID
	EscalationID uuid.UUID
)

func (i UserID) String() string       { return uuid.UUID(i).String() }
func (i UnitID) String() string       { return uuid.UUID(i).String() }
func (i WorkItemID) String() string   { return uuid.UUID(i).String() }
func (i AssignmentID) String() string { return uuid.UUID(i).String() }
func (i QueueEntryID) String() string { return uuid.UUID(i).String() }
func (i EscalationID) String() string { return uuid.UUID(i).String() }

func (i UserID) IsNil() bool       { return uuid.UUID(i) == uuid.Nil }
func (i UnitID) IsNil() bool       { return uuid.UUID(i) == uuid.Nil }
func (i WorkItemID) IsNil() bool   { return uuid.UUID(i) == uuid.Nil }
func (i AssignmentID) IsNil() bool { return uuid.UUID(i) == uuid.Nil }
func (i QueueEntryID) IsNil() bool { return uuid.UUID(i) == uuid.Nil }
func (i EscalationID) IsNil() bool { return uuid.UUID(i) == uuid.Nil }

func (i UserID) MarshalText() ([]byte, error)       { return uuid.UUID(i).MarshalText() }
func (i UnitID) MarshalText() ([]byte, error)       { return uuid.UUID(i).MarshalText() }
func (i WorkItemID) MarshalText() ([]byte, error)   { return uuid.UUID(i).MarshalText() }
func (i AssignmentID) MarshalText() ([]byte, error) { return uuid.UUID(i).MarshalText() }
func (i QueueEntryID) MarshalText() ([]byte, error) { return uuid.UUID(i).MarshalText() }
func (i EscalationID) MarshalText() ([]byte, error) { return uuid.UUID(i).MarshalText() }

func (i *UserID) UnmarshalText(b []byte) error       { return (*uuid.UUID)(i).UnmarshalText(b) }
func (i *UnitID) UnmarshalText(b []byte) error       { return (*uuid.UUID)(i).UnmarshalText(b) }
func (i *WorkItemID) UnmarshalText(b []byte) error   { return (*uuid.UUID)(i).UnmarshalText(b) }
func (i *AssignmentID) UnmarshalText(b []byte) error { return (*uuid.UUID)(i).UnmarshalText(b) }
func (i *QueueEntryID) UnmarshalText(b []byte) error { return (*uuid.UUID)(i).UnmarshalText(b) }
func (i *EscalationID) UnmarshalText(b []byte) error { return (*uuid.UUID)(i).UnmarshalText(b) }

func parseUUID(raw, name string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, dErrors.NewField(dErrors.CodeInvalidInput, name, name+" is required")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.NewField(dErrors.CodeInvalidInput, name, "invalid "+name)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.NewField(dErrors.CodeInvalidInput, name, name+" cannot be nil")
	}
	return parsed, nil
}

func ParseUserID(raw string) (UserID, error) {
	u, err := parseUUID(raw, "user_id")
	return UserID(u), err
}

func ParseUnitID(raw string) (UnitID, error) {
	u, err := parseUUID(raw, "unit_id")
	return UnitID(u), err
}

func ParseWorkItemID(raw string) (WorkItemID, error) {
	u, err := parseUUID(raw, "work_item_id")
	return WorkItemID(u), err
}

func ParseAssignmentID(raw string) (AssignmentID, error) {
	u, err := parseUUID(raw, "assignment_id")
	return AssignmentID(u), err
}

func ParseEscalationID(raw string) (EscalationID, error) {
	u, err := parseUUID(raw, "escalation_id")
	return EscalationID(u), err
}
